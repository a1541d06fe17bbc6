package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zip-drop/internal/artifact"
	"zip-drop/internal/audit"
	"zip-drop/internal/logging"
)

type Config struct {
	Addr           string // e.g. ":3000"
	MaxUploadBytes int64
	PublicDir      string // static UI, served at / when it exists

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	UploadRateLimit int // uploads per minute per client IP, 0 disables
	UploadRateBurst int

	Version string
}

type Server struct {
	cfg      Config
	store    artifact.Store
	recorder audit.Recorder
	metrics  *Metrics
	limiter  *rateLimiter

	httpServer *http.Server
}

func New(cfg Config, store artifact.Store, rec audit.Recorder) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 30
	}
	if rec == nil {
		rec = audit.Nop{}
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		store:    store,
		recorder: rec,
		metrics:  NewMetrics(reg),
	}
	if cfg.UploadRateLimit > 0 {
		s.limiter = newRateLimiter(cfg.UploadRateLimit, cfg.UploadRateBurst)
	}

	if meta, err := store.Get(context.Background()); err == nil {
		s.metrics.SetCurrentArchive(meta)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(compressionMiddleware())

	r.Get("/health", s.HandleHealth)
	r.Get("/ready", s.HandleReady)
	r.Get("/live", s.HandleLive)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		upload := cfg.uploadHandler(store, s.recorder, s.metrics)
		if s.limiter != nil {
			upload = s.limiter.middleware(upload)
		}
		r.Method(http.MethodPost, "/upload", upload)
		r.Method(http.MethodGet, "/download", archiveHeadersMiddleware(cfg.downloadHandler(store, s.metrics)))
		r.Method(http.MethodGet, "/status", cfg.statusHandler(store))
		r.Method(http.MethodGet, "/history", cfg.historyHandler(s.recorder))
	})

	if st, err := os.Stat(cfg.PublicDir); err == nil && st.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(cfg.PublicDir)))
	} else if cfg.PublicDir != "" {
		logging.Warn("static UI directory not found, serving API only", map[string]any{"dir": cfg.PublicDir})
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	logging.Info("http server listening", map[string]any{"addr": ln.Addr().String()})
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}
