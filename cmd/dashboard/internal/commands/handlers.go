package commands

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bekircanbozkurt/flight-app-client/internal/api"
	"github.com/bekircanbozkurt/flight-app-client/internal/auth"
	"github.com/bekircanbozkurt/flight-app-client/internal/flights"
	"github.com/bekircanbozkurt/flight-app-client/internal/guard"
	"github.com/bekircanbozkurt/flight-app-client/internal/session"
)

// dashboard holds the HTTP surface of the app. Markup is deliberately
// minimal; the interesting behavior lives in the packages it wires together.
type dashboard struct {
	client       *api.Client
	gateway      *auth.Gateway
	sessions     *session.Store
	reservations *flights.Service
	secure       bool
	log          zerolog.Logger
}

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
<h1>Sign in</h1>
{{range .Errors.email}}<p class="error">{{.}}</p>{{end}}
{{range .Errors.password}}<p class="error">{{.}}</p>{{end}}
<form method="post" action="/login">
  <input type="hidden" name="from" value="{{.From}}">
  <label>Email <input type="email" name="email" value="{{.Email}}"></label>
  <label>Password <input type="password" name="password"></label>
  <button type="submit">Sign in</button>
</form>
`))

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<title>Reservations</title>
<h1>Flight reservations</h1>
<p>{{if .User}}Signed in as {{.User.Email}}{{else}}Signed in{{end}}</p>
{{if .Error}}<p class="banner">Showing cached data: {{.Error}}</p>{{end}}
<table>
  <tr><th>Reference</th><th>Date</th><th>Status</th><th>Flight</th><th>Total</th></tr>
  {{range .Page.Data}}
  <tr>
    <td>{{.BookingReference}}</td>
    <td>{{.BookingDate}}</td>
    <td>{{.Status}}</td>
    <td>{{.FlightDetails.FlightNumber}}</td>
    <td>{{.TotalPrice}} {{.Currency}}</td>
  </tr>
  {{end}}
</table>
<p>Page {{.Page.Meta.CurrentPage}} of {{.Page.Meta.TotalPages}} ({{.Page.Meta.TotalItems}} reservations)</p>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
`))

func (d *dashboard) home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

type loginView struct {
	From   string
	Email  string
	Errors auth.FieldErrors
}

func (d *dashboard) loginPage(w http.ResponseWriter, r *http.Request) {
	d.renderLogin(w, http.StatusOK, loginView{From: r.URL.Query().Get(guard.ReturnToParam)})
}

func (d *dashboard) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	creds := auth.Credentials{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	from := r.PostFormValue("from")

	if _, err := d.gateway.Login(r.Context(), creds); err != nil {
		fields := auth.FieldErrors{"email": {"An error occurred"}}
		fieldErr := &auth.FieldError{}
		if errors.As(err, &fieldErr) {
			fields = fieldErr.Fields
		}
		d.renderLogin(w, http.StatusUnprocessableEntity, loginView{From: from, Email: creds.Email, Errors: fields})
		return
	}

	// Hand the marker issued by the API to the browser so the guard sees it
	// on the next navigation.
	if marker := d.client.Marker(); marker != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     marker.Name,
			Value:    marker.Value,
			Path:     "/",
			HttpOnly: true,
			Secure:   d.secure,
			SameSite: http.SameSiteLaxMode,
		})
	} else {
		d.log.Warn().Msg("login succeeded but the API issued no credential cookie")
	}

	http.Redirect(w, r, safeReturnPath(from), http.StatusFound)
}

func (d *dashboard) logout(w http.ResponseWriter, r *http.Request) {
	if err := d.gateway.Logout(r.Context()); err != nil {
		// Local logout already happened; the warning is all that is left.
		d.log.Warn().Err(err).Msg("remote logout failed")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     api.MarkerCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   d.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (d *dashboard) dashboardPage(w http.ResponseWriter, r *http.Request) {
	res := d.reservations.List(r.Context(), listingParams(r))

	view := struct {
		User  any
		Page  flights.Page
		Error string
	}{}

	// A marker without a cached profile is expected after a restart with a
	// disabled slot; render anonymously rather than refusing.
	if profile := d.sessions.Get(); profile != nil {
		view.User = profile
	}
	if res.Data != nil {
		view.Page = *res.Data
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, view); err != nil {
		d.log.Error().Err(err).Msg("failed to render dashboard")
	}
}

func (d *dashboard) listReservations(w http.ResponseWriter, r *http.Request) {
	res := d.reservations.List(r.Context(), listingParams(r))

	body := struct {
		Data  *flights.Page `json:"data"`
		Stale bool          `json:"stale"`
		Error string        `json:"error,omitempty"`
	}{
		Data:  res.Data,
		Stale: res.Stale,
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Err != nil && res.Data == nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.log.Error().Err(err).Msg("failed to encode reservations")
	}
}

func (d *dashboard) refreshReservations(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		d.reservations.InvalidateReservation(id)
	} else {
		d.reservations.InvalidateAll()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (d *dashboard) signalFocus(w http.ResponseWriter, r *http.Request) {
	d.reservations.NotifyFocus()
	w.WriteHeader(http.StatusNoContent)
}

func (d *dashboard) signalReconnect(w http.ResponseWriter, r *http.Request) {
	d.reservations.NotifyReconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (d *dashboard) renderLogin(w http.ResponseWriter, status int, view loginView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, view); err != nil {
		d.log.Error().Err(err).Msg("failed to render login page")
	}
}

// listingParams reads the filter parameters, defaulting to the first page of
// ten. Unparseable values fall back to the defaults.
func listingParams(r *http.Request) flights.Params {
	q := r.URL.Query()

	p := flights.Params{Page: 1, ItemsPerPage: 10}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("itemsPerPage")); err == nil && v > 0 {
		p.ItemsPerPage = v
	}
	if v, err := time.Parse("2006-01-02", q.Get("startDate")); err == nil {
		p.StartDate = v
	}
	if v, err := time.Parse("2006-01-02", q.Get("endDate")); err == nil {
		p.EndDate = v
	}
	return p
}

// safeReturnPath keeps the post-login redirect on this site.
func safeReturnPath(from string) string {
	if strings.HasPrefix(from, "/") && !strings.HasPrefix(from, "//") {
		return from
	}
	return "/dashboard"
}
