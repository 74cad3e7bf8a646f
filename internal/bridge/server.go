// internal/bridge/server.go
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/internal/config"
)

const maxBodyBytes = 4 << 20

// Server hosts the command endpoint and the notification websocket.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *Dispatcher
	hub        *Hub
	origins    *OriginPolicy
	logger     *zap.Logger
}

// NewServer creates a Server.
func NewServer(cfg config.ServerConfig, dispatcher *Dispatcher, hub *Hub, origins *OriginPolicy, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, dispatcher: dispatcher, hub: hub, origins: origins, logger: logger.Named("bridge")}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.origins.CORS)

	r.Get("/healthz", s.handleHealthCheck)
	// The websocket is long-lived and stays outside the request timeout.
	r.Get("/ws/v1/notifications", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Post("/api/v1/command", s.handleCommand)
	})
	return r
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CommandResponse{Status: "success", Data: map[string]int{"clients": s.hub.Clients()}})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var env CommandRequest
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req, err := env.Decode()
	if err != nil {
		writeError(w, StatusCode(err), err.Error())
		return
	}

	start := time.Now()
	data, err := s.dispatcher.Dispatch(r.Context(), req)
	logger := s.logger.With(zap.String("command", string(env.Command)),
		zap.String("request_id", middleware.GetReqID(r.Context())), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		code := StatusCode(err)
		if code >= http.StatusInternalServerError {
			logger.Error("Command failed", zap.Error(err))
		} else {
			logger.Debug("Command rejected", zap.Error(err))
		}
		writeError(w, code, err.Error())
		return
	}
	logger.Debug("Command handled")
	writeJSON(w, http.StatusOK, CommandResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, CommandResponse{Status: "error", Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe serves on the configured address until ctx is cancelled, then shuts down
// gracefully and disconnects websocket clients.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Bridge listening", zap.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.logger.Info("Bridge stopped")
	return err
}
