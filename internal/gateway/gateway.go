// Package gateway relays dashboard calls to the scoring backend and
// normalizes whatever the backend sends back into JSON the client can trust.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/satyanetra/satyanetra/internal/config"
)

// Gateway is the HTTP surface exposed to the dashboard.
type Gateway struct {
	cfg           config.GatewayConfig
	ingestTimeout time.Duration
	statusTimeout time.Duration
	backend       string
	client        *http.Client
	router        chi.Router
	limiter       *ingestLimiter
	log           *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) {
		g.client = hc
	}
}

// WithTimeouts overrides the outbound deadlines taken from configuration.
func WithTimeouts(ingest, status time.Duration) Option {
	return func(g *Gateway) {
		if ingest > 0 {
			g.ingestTimeout = ingest
		}
		if status > 0 {
			g.statusTimeout = status
		}
	}
}

// New builds a Gateway forwarding to backendBase. The base address is
// normalized once here and shared by every route.
func New(backendBase string, cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:           cfg,
		ingestTimeout: cfg.IngestTimeout(),
		statusTimeout: cfg.StatusTimeout(),
		backend:       config.NormalizeBaseURL(backendBase),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: newIngestLimiter(cfg.IngestRatePerMin),
		log:     zap.L().With(zap.String("component", "gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.router = chi.NewRouter()
	g.routes()
	return g
}

// Backend returns the normalized backend base address.
func (g *Gateway) Backend() string {
	return g.backend
}

func (g *Gateway) routes() {
	r := g.router

	origins := g.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(g.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:     []string{requestIDHeader},
		MaxAge:             86400,
		OptionsPassthrough: true,
	}))
	r.Use(noStore)

	r.Get("/health", g.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Options("/ingest", handleOptions("OPTIONS, POST"))
		r.Post("/ingest", g.handleIngest)
		r.Options("/job/{jobId}", handleOptions("OPTIONS, GET"))
		r.Get("/job/{jobId}", g.handleJobStatus)
		r.Options("/product/{productId}", handleOptions("OPTIONS, GET"))
		r.Get("/product/{productId}", g.handleProductScore)
	})
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe. WriteTimeout
// stays above the ingest budget so a slow backend still gets its answer out.
func (g *Gateway) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           g,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      g.ingestTimeout + 10*time.Second,
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": g.backend,
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
