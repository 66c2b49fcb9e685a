package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/metrics"
	"github.com/kjk/kvlog/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is what the server needs from the store. *store.Engine implements it.
type Engine interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Stats() store.Stats
}

type Options struct {
	Addr string // e.g. ":8000"
	// how long to wait for in-flight requests after shutdown was requested
	ShutdownTimeout time.Duration
}

type Server struct {
	engine Engine
	opts   Options
}

func New(engine Engine, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		engine: engine,
		opts:   opts,
	}
}

// Handler returns http handler serving all urls, with logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get", s.handleGet)
	mux.HandleFunc("GET /set", s.handleSet)
	mux.HandleFunc("POST /set", s.handleSet)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())
	return withLogging(mux)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeStart := time.Now()
		cw := &CapturingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)
		dur := time.Since(timeStart)

		// r.Pattern is set by ServeMux. Using it instead of url path keeps
		// number of metric labels small
		label := r.Pattern
		if label == "" {
			label = "other"
		}
		metrics.RequestDuration.WithLabelValues(label).Observe(dur.Seconds())
		log.IfErrf(log.HTTPRequest(r, cw.Code(), cw.Size, dur))
		log.Verbosef("%s %s %d in %s\n", r.Method, r.URL.Path, cw.Code(), dur)
	})
}

// Run listens on opts.Addr and serves requests until ctx is cancelled.
// It then stops accepting connections and waits up to opts.ShutdownTimeout
// for in-flight requests to finish.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run() but uses an existing listener. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      s.Handler(),
	}
	log.Logf("server: listening on %s\n", ln.Addr())

	chServerClosed := make(chan error, 1)
	go func() {
		err := httpSrv.Serve(ln)
		// mute error caused by Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		chServerClosed <- err
	}()

	select {
	case err := <-chServerClosed:
		return err
	case <-ctx.Done():
	}

	log.Logf("server: shutting down, waiting up to %s for requests to finish\n", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Logf("server: shutdown didn't finish in %s, closing connections\n", s.opts.ShutdownTimeout)
		_ = httpSrv.Close()
	}
	return <-chServerClosed
}
