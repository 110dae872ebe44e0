// Package server exposes document generation over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/cors"

	"github.com/mark3labs/openapi2docx/internal/config"
	"github.com/mark3labs/openapi2docx/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// Server serves POST /generate-doc, GET /health and GET /metrics.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	metrics  *metrics
	logger   hclog.Logger
	mux      *http.ServeMux
}

// New builds a Server and its pipeline. Extra pipeline options are applied
// after the server's own.
func New(cfg *config.Config, logger hclog.Logger, opts ...pipeline.Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("http")
	m := newMetrics()

	base := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithFallbackHook(m.fallback),
	}
	p, err := pipeline.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg.Server,
		pipeline: p,
		metrics:  m,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.registerHandlers()
	return s, nil
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("POST /generate-doc", s.wrap(s.generateDoc))
	s.mux.HandleFunc("GET /health", s.wrap(s.health))
	s.mux.Handle("GET /metrics", s.metrics.handler())
}

// Handler returns the routes wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition", headerTotalEndpoints, headerGenerationMode},
	})
	return c.Handler(s.mux)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is done, then shuts down
// gracefully, letting in-flight requests finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Debug("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// wrap adapts a handler that returns a JSON-serializable object or an error.
// Handlers that write their own body return a nil object.
func (s *Server) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(resp http.ResponseWriter, req *http.Request) {
		reqURL := req.URL.String()
		start := time.Now()
		defer func() {
			s.logger.Debug("request", "method", req.Method, "url", reqURL, "duration", time.Since(start))
		}()

		obj, err := handler(resp, req)
		if err == nil && obj != nil {
			var buf bytes.Buffer
			if err = json.NewEncoder(&buf).Encode(obj); err == nil {
				resp.Header().Set("Content-Type", "application/json")
				resp.Write(buf.Bytes())
				return
			}
		}
		if err != nil {
			code, body := toEnvelope(err)
			if code >= http.StatusInternalServerError {
				s.logger.Error("request failed", "url", reqURL, "error", err)
			} else {
				s.logger.Debug("request rejected", "url", reqURL, "error", err)
			}
			resp.Header().Set("Content-Type", "application/json")
			resp.WriteHeader(code)
			json.NewEncoder(resp).Encode(body)
		}
	}
}
