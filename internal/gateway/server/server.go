// Package server is the HTTP facade over the gateway library, for agents in
// other processes. It exposes the tool surface, the execute endpoint, and
// passthrough redemption, behind optional bearer-token auth.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/httpx"
	"github.com/Molefas/trikhub/internal/gateway"
)

// Config configures the HTTP facade.
type Config struct {
	// AuthSecret enables bearer-token auth when non-empty.
	AuthSecret string
	// HandleCORS enables permissive CORS handling.
	HandleCORS bool
}

// Server wires the gateway library to chi.
type Server struct {
	Router  *chi.Mux
	gateway *gateway.Gateway
	config  Config
}

// New creates the facade over a gateway instance.
func New(g *gateway.Gateway, config Config) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		gateway: g,
		config:  config,
	}
	s.mountHandlers()
	return s
}

func (s *Server) mountHandlers() {
	if s.config.HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.config.AuthSecret))
		r.Get("/health", httpx.WrapHandler(s.handleHealth))
		r.Get("/tools", httpx.WrapHandler(s.handleTools))
		r.Post("/execute", httpx.WrapHandler(s.handleExecute))
		r.Get("/content/{ref}", httpx.WrapHandler(s.handleContent))
	})
}

func (s *Server) handleHealth(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: map[string]any{
			"status": "ok",
			"triks":  len(s.gateway.LoadedTriks()),
		},
	}, nil
}

func (s *Server) handleTools(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   s.gateway.GetToolDefinitions(),
	}, nil
}

// executeRequest is the body of POST /api/v1/execute.
type executeRequest struct {
	Tool      string `json:"tool"`
	Input     any    `json:"input"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleExecute(r *http.Request) (*httpx.Response, error) {
	var req executeRequest
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	trikID, action, ok := gateway.ResolveTool(req.Tool)
	if !ok {
		return nil, httpx.ErrInvalidRequest("tool must be named {trikId}:{action}")
	}

	result := s.gateway.Execute(r.Context(), trikID, action, req.Input, gateway.ExecuteOptions{
		SessionID: req.SessionID,
	})
	if !result.Success {
		log.Ctx(r.Context()).Info().Str("tool", req.Tool).Str("code", string(result.Code)).Msg("execute returned error result")
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   result,
	}, nil
}

func (s *Server) handleContent(r *http.Request) (*httpx.Response, error) {
	ref := chi.URLParam(r, "ref")
	content, receipt, ok := s.gateway.DeliverContent(ref)
	if !ok {
		return nil, httpx.ErrNotFound("content reference not found or expired")
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: map[string]any{
			"content": content,
			"receipt": receipt,
		},
	}, nil
}
