// Package flights serves paginated, date-filtered reservation listings
// through the revalidating query cache.
package flights

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bekircanbozkurt/flight-app-client/internal/api"
	"github.com/bekircanbozkurt/flight-app-client/internal/models"
	"github.com/bekircanbozkurt/flight-app-client/internal/query"
)

const endpoint = "/flight-reservations"

// CollectionTag marks every reservation listing entry.
const CollectionTag query.Tag = "reservations"

// ReservationTag is the per-item invalidation tag.
func ReservationTag(id string) query.Tag {
	return query.Tag("reservation:" + id)
}

const dateFormat = "2006-01-02"

// Params select a page of reservations. Zero fields are omitted from the
// request. ItemsPerPage participates in the cache key, so different page
// sizes are cached independently.
type Params struct {
	StartDate    time.Time
	EndDate      time.Time
	Page         int
	ItemsPerPage int
}

func (p Params) values() url.Values {
	v := url.Values{}
	if !p.StartDate.IsZero() {
		v.Set("startDate", p.StartDate.Format(dateFormat))
	}
	if !p.EndDate.IsZero() {
		v.Set("endDate", p.EndDate.Format(dateFormat))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.ItemsPerPage > 0 {
		v.Set("itemsPerPage", strconv.Itoa(p.ItemsPerPage))
	}
	return v
}

// Key returns the cache key for the parameter set.
func (p Params) Key() query.Key {
	return query.NewKey(endpoint, p.values())
}

// Page is the cached value type for reservation listings.
type Page = models.Page[models.Reservation]

// Config holds service configuration.
type Config struct {
	// PollInterval refreshes watched listings periodically. Zero disables it.
	PollInterval time.Duration

	// Retention bounds how long unwatched listings stay cached.
	Retention time.Duration

	RevalidateOnFocus     bool
	RevalidateOnReconnect bool

	Logger zerolog.Logger
}

// Service is the reservation listing query family.
type Service struct {
	client *api.Client
	cache  *query.Cache[Page]
	cfg    Config
	log    zerolog.Logger
}

// NewService creates the service with its own cache instance.
func NewService(client *api.Client, cfg Config) *Service {
	return &Service{
		client: client,
		cache: query.New[Page](query.Config{
			Retention: cfg.Retention,
			Logger:    cfg.Logger,
		}),
		cfg: cfg,
		log: cfg.Logger,
	}
}

// List returns the page for params with stale-while-revalidate semantics: a
// cached page is returned immediately, a cold one blocks on the first fetch.
func (s *Service) List(ctx context.Context, p Params) query.Result[Page] {
	return s.cache.Fetch(ctx, p.Key(), s.fetcher(p), s.policy())
}

// Watch subscribes to the page for params; the entry refreshes per the
// configured poll/focus/reconnect policy while watched.
func (s *Service) Watch(ctx context.Context, p Params) *query.Subscription[Page] {
	return s.cache.Subscribe(ctx, p.Key(), s.fetcher(p), s.policy())
}

// InvalidateAll stale-marks every listing entry.
func (s *Service) InvalidateAll() {
	s.cache.Invalidate(CollectionTag)
}

// InvalidateReservation stale-marks every listing containing the reservation.
func (s *Service) InvalidateReservation(id string) {
	s.cache.Invalidate(ReservationTag(id))
}

// NotifyFocus forwards a window-focus signal to the cache.
func (s *Service) NotifyFocus() { s.cache.NotifyFocus() }

// NotifyReconnect forwards a connectivity-restored signal to the cache.
func (s *Service) NotifyReconnect() { s.cache.NotifyReconnect() }

// Close stops background revalidation.
func (s *Service) Close() { s.cache.Close() }

func (s *Service) policy() query.Policy[Page] {
	return query.Policy[Page]{
		PollInterval:          s.cfg.PollInterval,
		RevalidateOnFocus:     s.cfg.RevalidateOnFocus,
		RevalidateOnReconnect: s.cfg.RevalidateOnReconnect,
		Retention:             s.cfg.Retention,
		Tags:                  pageTags,
	}
}

func pageTags(page Page) []query.Tag {
	tags := make([]query.Tag, 0, len(page.Data)+1)
	tags = append(tags, CollectionTag)
	for _, r := range page.Data {
		tags = append(tags, ReservationTag(r.ID))
	}
	return tags
}

// wirePage is the raw response shape: timestamps arrive as strings and are
// normalized before the page enters the cache.
type wirePage struct {
	Data []wireReservation     `json:"data"`
	Meta models.PaginationMeta `json:"meta"`
}

type wireReservation struct {
	models.Reservation
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (s *Service) fetcher(p Params) query.Fetcher[Page] {
	return func(ctx context.Context) (Page, error) {
		var raw wirePage
		if err := s.client.Get(ctx, endpoint, p.values(), &raw); err != nil {
			return Page{}, err
		}
		return s.normalize(raw), nil
	}
}

// normalize parses timestamp strings into time.Time and passes pagination
// metadata through untouched.
func (s *Service) normalize(raw wirePage) Page {
	page := Page{
		Data: make([]models.Reservation, 0, len(raw.Data)),
		Meta: raw.Meta,
	}
	for _, w := range raw.Data {
		r := w.Reservation
		r.CreatedAt = s.parseTimestamp(w.CreatedAt)
		r.UpdatedAt = s.parseTimestamp(w.UpdatedAt)
		page.Data = append(page.Data, r)
	}
	return page
}

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	dateFormat,
}

func (s *Service) parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts
		}
	}
	s.log.Warn().Str("value", value).Msg("unparseable timestamp in reservation")
	return time.Time{}
}
