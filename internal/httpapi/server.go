package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ZhyangJ/Agent-chat/internal/agent"
)

type Server struct {
	agent agent.Agent

	rateCtx    context.Context
	ratePerMin int
	rateBurst  int

	maxBodyBytes int64

	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

type Option func(*Server)

// WithRateLimit limits chat requests per client IP. perMin <= 0 disables it.
// ctx bounds the limiter's cleanup goroutine.
func WithRateLimit(ctx context.Context, perMin, burst int) Option {
	return func(s *Server) {
		s.rateCtx = ctx
		s.ratePerMin = perMin
		s.rateBurst = burst
	}
}

// WithMaxBodyBytes caps the size of a chat request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

func NewServer(a agent.Agent, opts ...Option) *Server {
	s := &Server{
		agent:        a,
		maxBodyBytes: 1 << 20,
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	return withRequestID(withAccessLog(withCORS(s.mux)))
}

func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown stops the server gracefully. Called before ListenAndServe, it
// makes the later call return http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	var chat http.Handler = http.HandlerFunc(s.handleChat)
	if s.ratePerMin > 0 {
		ctx := s.rateCtx
		if ctx == nil {
			ctx = context.Background()
		}
		chat = rateLimit(ctx, s.ratePerMin, s.rateBurst)(chat)
	}

	s.mux.Handle("/api/chat", chat)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/", handleNotFound)
}
