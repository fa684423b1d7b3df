package models

// UserProfile is the authenticated user's profile as returned by the login
// endpoint. It is owned by the session store and treated as immutable until
// the next login or an explicit clear.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// IsAdmin returns true if the profile carries the admin role tag.
func (u *UserProfile) IsAdmin() bool {
	return u.Role == "admin"
}
