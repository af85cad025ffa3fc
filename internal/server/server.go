// Package server exposes health and metrics endpoints and a websocket
// ingest stream through which an in-page agent pushes chat snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/extractor"
	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/source"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// Runner consumes a change source until it closes. *pipeline.Session implements it.
type Runner interface {
	Run(ctx context.Context, src source.Source) error
}

// SessionFactory builds an independent session for one stream connection.
type SessionFactory func(sessionKey string) Runner

type Server struct {
	newSession SessionFactory
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the browser origins allowed to open a stream, for
// example "https://character.ai". "*" allows any origin. Requests without an
// Origin header and same-host requests are always allowed.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = originChecker(origins)
	}
}

func New(newSession SessionFactory, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		newSession: newSession,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(nil),
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	anyOrigin := false
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			anyOrigin = true
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Handler wires the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/sessions/{sessionKey}/stream", s.handleStream)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

type streamMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionKey := chi.URLParam(r, "sessionKey")
	if sessionKey == "" {
		http.Error(w, "sessionKey is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("session", sessionKey))
	logger.Info("Stream connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	src := source.NewPushSource()
	done := make(chan error, 1)
	go func() { done <- s.newSession(sessionKey).Run(ctx, src) }()
	go pingLoop(ctx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	s.readSnapshots(conn, src, logger)

	src.Close()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Session ended with error", zap.Error(err))
	}
	logger.Info("Stream disconnected")
}

func (s *Server) readSnapshots(conn *websocket.Conn, src *source.PushSource, logger *zap.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Stream read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.TextMessage {
			_ = conn.WriteJSON(streamMessage{Type: "error", Message: "snapshots must be text frames"})
			continue
		}

		var snap extractor.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			_ = conn.WriteJSON(streamMessage{Type: "error", Message: "invalid snapshot: " + err.Error()})
			continue
		}

		if err := src.Push(snap); err != nil {
			return
		}
	}
}

// pingLoop keeps the stream alive and closes it once ctx is done.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// requestLogger logs each request with zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			s.logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()

		next.ServeHTTP(ww, r)
	})
}
