package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"filippo.io/csrf"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"gopkg.in/yaml.v3"

	"github.com/bekircanbozkurt/flight-app-client/internal/api"
	"github.com/bekircanbozkurt/flight-app-client/internal/auth"
	"github.com/bekircanbozkurt/flight-app-client/internal/flights"
	"github.com/bekircanbozkurt/flight-app-client/internal/guard"
	"github.com/bekircanbozkurt/flight-app-client/internal/logger"
	"github.com/bekircanbozkurt/flight-app-client/internal/session"
	"github.com/bekircanbozkurt/flight-app-client/internal/store"
	filestore "github.com/bekircanbozkurt/flight-app-client/internal/store/file"
	memorystore "github.com/bekircanbozkurt/flight-app-client/internal/store/memory"
	redisstore "github.com/bekircanbozkurt/flight-app-client/internal/store/redis"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"FLIGHT_DASHBOARD_LISTEN"`

	// Remote API configuration
	APIURL         string        `help:"flight reservation API base URL" default:"http://localhost:3000" env:"FLIGHT_DASHBOARD_API_URL"`
	APITimeout     time.Duration `help:"API request timeout" default:"30s" env:"FLIGHT_DASHBOARD_API_TIMEOUT"`
	CacheResponses bool          `help:"cache API responses per Cache-Control headers" default:"false" env:"FLIGHT_DASHBOARD_CACHE_RESPONSES"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:8080" env:"FLIGHT_DASHBOARD_CORS_ORIGINS"`

	// Session slot configuration
	SlotBackend string `help:"session slot backend (file, redis, memory, disabled)" default:"file" env:"FLIGHT_DASHBOARD_SLOT_BACKEND" enum:"file,redis,memory,disabled"`
	SessionFile string `help:"path to the session slot file" default:"" env:"FLIGHT_DASHBOARD_SESSION_FILE"`
	RedisAddr   string `help:"redis address for the redis slot backend" default:"localhost:6379" env:"FLIGHT_DASHBOARD_REDIS_ADDR"`
	RedisKey    string `help:"redis key for the session slot" default:"" env:"FLIGHT_DASHBOARD_REDIS_KEY"`

	// Cookie configuration
	SecureCookies bool `help:"mark the credential cookie Secure" default:"true" env:"FLIGHT_DASHBOARD_SECURE_COOKIES" negatable:""`

	// Revalidation configuration
	PollInterval time.Duration `help:"listing poll interval, 0 disables polling" default:"0" env:"FLIGHT_DASHBOARD_POLL_INTERVAL"`
	Retention    time.Duration `help:"retention window for unwatched listings" default:"60s" env:"FLIGHT_DASHBOARD_RETENTION"`

	Config string `help:"YAML config file path"`
}

// fileConfig mirrors the flags that can also be provided via --config.
type fileConfig struct {
	Listen         string        `yaml:"listen"`
	APIURL         string        `yaml:"apiUrl"`
	APITimeout     time.Duration `yaml:"apiTimeout"`
	CacheResponses *bool         `yaml:"cacheResponses"`
	CORSOrigins    []string      `yaml:"corsOrigins"`
	SlotBackend    string        `yaml:"slotBackend"`
	SessionFile    string        `yaml:"sessionFile"`
	RedisAddr      string        `yaml:"redisAddr"`
	RedisKey       string        `yaml:"redisKey"`
	SecureCookies  *bool         `yaml:"secureCookies"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	Retention      time.Duration `yaml:"retention"`
}

func (s *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting dashboard")

	if s.Config != "" {
		if err := s.loadConfigFile(); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	client, err := api.New(api.Config{
		BaseURL:        s.APIURL,
		Timeout:        s.APITimeout,
		CacheResponses: s.CacheResponses,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	slot, err := s.createSlot()
	if err != nil {
		return err
	}

	sessions := session.New(slot, log)
	gateway := auth.NewGateway(client, sessions, log)

	reservations := flights.NewService(client, flights.Config{
		PollInterval:          s.PollInterval,
		Retention:             s.Retention,
		RevalidateOnFocus:     true,
		RevalidateOnReconnect: true,
		Logger:                log,
	})
	defer reservations.Close()

	views := &dashboard{
		client:       client,
		gateway:      gateway,
		sessions:     sessions,
		reservations: reservations,
		secure:       s.SecureCookies,
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", views.home)
	mux.HandleFunc("GET /login", views.loginPage)
	mux.HandleFunc("POST /login", views.login)
	mux.HandleFunc("POST /logout", views.logout)
	mux.HandleFunc("GET /dashboard", views.dashboardPage)
	mux.HandleFunc("GET /api/reservations", views.listReservations)
	mux.HandleFunc("POST /api/reservations/refresh", views.refreshReservations)
	mux.HandleFunc("POST /api/signals/focus", views.signalFocus)
	mux.HandleFunc("POST /api/signals/reconnect", views.signalReconnect)

	accessGuard := guard.New(guard.Config{
		Protected: []string{"/dashboard", "/api/"},
		AuthOnly:  []string{"/login"},
		APIOrigin: s.APIURL,
	}, log)
	guarded := accessGuard.Middleware(mux)

	// CSRF protection for HTML pages; API routes get CORS instead.
	protection := csrf.New()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			withCORS(s.CORSOrigins, guarded).ServeHTTP(w, r)
		} else {
			protection.Handler(guarded).ServeHTTP(w, r)
		}
	})

	log.Info().Str("addr", s.Listen).Str("api", s.APIURL).Msg("Starting HTTP server")
	err = configureHTTPServer(s.Listen, logger.Requests(log)(handler)).ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServeCmd) createSlot() (store.Slot, error) {
	switch s.SlotBackend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: s.RedisAddr})
		return redisstore.New(client, s.RedisKey), nil
	case "memory":
		return memorystore.New(), nil
	case "disabled":
		return store.Disabled{}, nil
	default:
		slot, err := filestore.New(s.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create session slot: %w", err)
		}
		return slot, nil
	}
}

func (s *ServeCmd) loadConfigFile() error {
	data, err := os.ReadFile(s.Config)
	if err != nil {
		return err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	if cfg.Listen != "" {
		s.Listen = cfg.Listen
	}
	if cfg.APIURL != "" {
		s.APIURL = cfg.APIURL
	}
	if cfg.APITimeout != 0 {
		s.APITimeout = cfg.APITimeout
	}
	if cfg.CacheResponses != nil {
		s.CacheResponses = *cfg.CacheResponses
	}
	if len(cfg.CORSOrigins) > 0 {
		s.CORSOrigins = cfg.CORSOrigins
	}
	if cfg.SlotBackend != "" {
		s.SlotBackend = cfg.SlotBackend
	}
	if cfg.SessionFile != "" {
		s.SessionFile = cfg.SessionFile
	}
	if cfg.RedisAddr != "" {
		s.RedisAddr = cfg.RedisAddr
	}
	if cfg.RedisKey != "" {
		s.RedisKey = cfg.RedisKey
	}
	if cfg.SecureCookies != nil {
		s.SecureCookies = *cfg.SecureCookies
	}
	if cfg.PollInterval != 0 {
		s.PollInterval = cfg.PollInterval
	}
	if cfg.Retention != 0 {
		s.Retention = cfg.Retention
	}

	return nil
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of CSRF.
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// withCORS adds CORS support with credentials for the browser-side fetches.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
