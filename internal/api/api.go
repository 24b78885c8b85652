package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/exyconn/platform/internal/cache"
	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/jobrunner"
	"github.com/exyconn/platform/internal/store"
)

// API is the main struct that holds dependencies and the router. It follows
// the dependency injection pattern to facilitate testing: every collaborator
// is an interface or an injectable component.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	flags     store.FlagRepository
	jobs      store.JobRepository
	history   store.HistoryRepository
	variables store.VariableRepository

	// snapshots is the Redis read-through cache on the evaluation path.
	// Optional: a nil value means every evaluation hits the database.
	snapshots cache.Snapshots

	evaluator *flagengine.Evaluator
	runner    *jobrunner.Runner
	broker    events.Broker

	// apiKeyHash is the SHA-256 hex digest of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	skipAuth bool

	defaultPageSize int
	maxPageSize     int
}

// Options carries the API dependencies and settings.
type Options struct {
	Flags     store.FlagRepository
	Jobs      store.JobRepository
	History   store.HistoryRepository
	Variables store.VariableRepository
	Snapshots cache.Snapshots
	Evaluator *flagengine.Evaluator
	Runner    *jobrunner.Runner
	Broker    events.Broker

	APIKeyHash string
	SkipAuth   bool

	DefaultPageSize int
	MaxPageSize     int
}

// New creates a new API instance.
//
// Panics if any mandatory dependency is nil, or if APIKeyHash is empty while
// authentication is enabled. An interface is only nil if it has no underlying
// type and no value, so these checks catch real wiring mistakes at startup.
func New(opts Options) *API {
	if opts.Flags == nil {
		panic("api: flag repository cannot be nil")
	}
	if opts.Jobs == nil {
		panic("api: job repository cannot be nil")
	}
	if opts.History == nil {
		panic("api: history repository cannot be nil")
	}
	if opts.Variables == nil {
		panic("api: variable repository cannot be nil")
	}
	if opts.Evaluator == nil {
		panic("api: flag evaluator cannot be nil")
	}
	if opts.Runner == nil {
		panic("api: job runner cannot be nil")
	}
	if opts.Broker == nil {
		panic("api: event broker cannot be nil")
	}
	if !opts.SkipAuth && opts.APIKeyHash == "" {
		panic("api: APIKeyHash cannot be empty when authentication is enabled")
	}

	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = 100
	}

	a := &API{
		Router:          chi.NewRouter(),
		flags:           opts.Flags,
		jobs:            opts.Jobs,
		history:         opts.History,
		variables:       opts.Variables,
		snapshots:       opts.Snapshots,
		evaluator:       opts.Evaluator,
		runner:          opts.Runner,
		broker:          opts.Broker,
		apiKeyHash:      opts.APIKeyHash,
		skipAuth:        opts.SkipAuth,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
	}

	a.configureRoutes()
	return a
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: adds a unique ID to each request context for tracing.
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP when behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// RequestLogger: structured logs + Prometheus request metrics.
	a.Router.Use(RequestLogger)
	// Recoverer: prevents the server from crashing on panics, returns 500.
	a.Router.Use(middleware.Recoverer)

	// Public routes (no authentication required).
	a.Router.Get("/health", a.handleHealthCheck)

	// Protected API V1 routes (authentication + tenant resolution required).
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)
		r.Use(requireOrganization)

		r.Route("/flags", func(r chi.Router) {
			r.Post("/", a.handleCreateFlag)
			r.Get("/", a.handleListFlags)
			r.Post("/evaluate", a.handleEvaluateFlag)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", a.handleGetFlag)
				r.Patch("/", a.handleUpdateFlag)
				r.Delete("/", a.handleDeleteFlag)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.handleCreateJob)
			r.Get("/", a.handleListJobs)
			r.Get("/events", a.handleJobEvents)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetJob)
				r.Patch("/", a.handleUpdateJob)
				r.Delete("/", a.handleDeleteJob)
				r.Post("/execute", a.handleExecuteJob)
				r.Post("/toggle", a.handleToggleJob)
				r.Get("/history", a.handleJobHistory)
			})
		})

		r.Route("/variables", func(r chi.Router) {
			r.Post("/", a.handleCreateVariable)
			r.Get("/", a.handleListVariables)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", a.handleGetVariable)
				r.Put("/", a.handleUpdateVariable)
				r.Delete("/", a.handleDeleteVariable)
			})
		})
	})
}

// handleHealthCheck reports HTTP serving capability. Deep dependency checks
// live on the dedicated health server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
