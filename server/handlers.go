package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/metrics"
	"github.com/kjk/kvlog/store"
	"github.com/tidwall/pretty"
)

func serveText(w http.ResponseWriter, code int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(s))
}

func serveError(w http.ResponseWriter, code int, format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	serveText(w, code, s+"\n")
}

// GET /get?key=${key}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vals, ok := r.URL.Query()["key"]
	if !ok {
		metrics.GetsTotal.WithLabelValues("miss").Inc()
		http.NotFound(w, r)
		return
	}
	v, ok := s.engine.Get(vals[0])
	if !ok {
		metrics.GetsTotal.WithLabelValues("miss").Inc()
		http.NotFound(w, r)
		return
	}
	metrics.GetsTotal.WithLabelValues("hit").Inc()
	serveText(w, http.StatusOK, v)
}

// parseSetQuery returns the only key / value pair in the query.
// Repeated keys count as separate pairs.
func parseSetQuery(rawQuery string) (string, string, error) {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", "", err
	}
	n := 0
	var key, value string
	for k, vals := range q {
		n += len(vals)
		key = k
		if len(vals) > 0 {
			value = vals[0]
		}
	}
	if n != 1 {
		return "", "", fmt.Errorf("expected exactly one key=value pair, got %d", n)
	}
	return key, value, nil
}

// GET /set?${key}=${value}
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key, value, err := parseSetQuery(r.URL.RawQuery)
	if err != nil {
		metrics.SetsTotal.WithLabelValues("rejected").Inc()
		serveError(w, http.StatusBadRequest, "%s", err)
		return
	}
	err = s.engine.Set(key, value)
	switch {
	case err == nil:
		metrics.SetsTotal.WithLabelValues("ok").Inc()
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, store.ErrEncoding):
		metrics.SetsTotal.WithLabelValues("rejected").Inc()
		serveError(w, http.StatusBadRequest, "%s", err)
	case errors.Is(err, store.ErrClosed):
		metrics.SetsTotal.WithLabelValues("rejected").Inc()
		serveError(w, http.StatusServiceUnavailable, "%s", err)
	default:
		metrics.SetsTotal.WithLabelValues("error").Inc()
		log.Errorf("handleSet: Set('%s') failed with '%s'\n", key, err)
		serveError(w, http.StatusInternalServerError, "internal error")
	}
}

// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	d, err := json.Marshal(s.engine.Stats())
	if err != nil {
		log.Errorf("handleStats: json.Marshal() failed with '%s'\n", err)
		serveError(w, http.StatusInternalServerError, "internal error")
		return
	}
	d = pretty.Pretty(d)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d)
}
