package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ratecache/logger"
	"ratecache/plugin"
	"ratecache/storage"
)

const defaultHistoryWindow = time.Hour

type Message struct {
	Msg string `json:"msg"`
}

func jsonMessageByte(msg string) []byte {
	b, _ := json.Marshal(Message{msg})
	return b
}

type valueResponse struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Formatted string  `json:"formatted"`
	Unit      string  `json:"unit,omitempty"`
}

type historyPoint struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Server exposes the registry over HTTP:
//
//	GET /value?key=nginx.requests
//	GET /status
//	GET /history?key=nginx.requests&from=RFC3339&to=RFC3339
//	GET /metrics
type Server struct {
	reg     *plugin.Registry
	history storage.Store // nil -> /history answers 501
	log     *zap.Logger

	srv    *http.Server
	ln     net.Listener
	nextID atomic.Uint64
}

func New(addr string, reg *plugin.Registry, history storage.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{reg: reg, history: history, log: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router; used directly by tests.
func (s *Server) Handler() http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(newExporter(s.reg))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /value", s.handleValue)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return s.withRequestLogger(mux)
}

// withRequestLogger stores a logger tagged with a request id, method and
// path in the request context.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With(
			zap.Uint64("req_id", s.nextID.Add(1)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		l.Debug("request served")
	})
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	s.log.Info("http api listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Stop waits for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// writeJSON encodes v before the header goes out; values JSON cannot carry
// (NaN, Inf) answer 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.FromContext(r.Context(), nil).Error("encode response", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "cannot encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonMessageByte(msg))
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeMessage(w, http.StatusBadRequest, "key is required")
		return
	}
	m, err := s.reg.Lookup(key)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	v := m.Plugin.Accessor.Read(m.Descriptor)
	writeJSON(w, r, http.StatusOK, valueResponse{
		Key:       key,
		Value:     v,
		Formatted: m.Descriptor.Formatted(v),
		Unit:      m.Descriptor.Unit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.reg.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeMessage(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	query := r.URL.Query()
	m, err := s.reg.Lookup(query.Get("key"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}

	to := time.Now()
	if raw := query.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid to: "+raw)
			return
		}
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := query.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid from: "+raw)
			return
		}
	}

	rows, err := s.history.Query(r.Context(), m.Plugin.Name, m.Descriptor.SourceKey(), from, to)
	if err != nil {
		logger.FromContext(r.Context(), s.log).Error("history query", zap.String("key", m.Key), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	points := make([]historyPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, historyPoint{Timestamp: row.Timestamp, Value: row.Value})
	}
	writeJSON(w, r, http.StatusOK, points)
}
