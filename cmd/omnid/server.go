package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	omni "github.com/parlowe/omni"
	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/stream"
)

type server struct {
	client   *omni.Client
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newServer(client *omni.Client, logger *slog.Logger) *server {
	return &server{
		client: client,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/stream", s.handleWS)
	mux.HandleFunc("POST /v1/process", s.handleNDJSON)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS serves one request per connection lifetime: the first text
// frame is the request, every following frame out is a stream event,
// and the connection closes after the terminal event.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	var req core.Request
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Warn("read request frame", slog.Any("error", err))
		return
	}

	st := core.NewStream(r.Context(), 64)
	go func() {
		_, _ = s.client.Process(r.Context(), req, st)
	}()

	if err := stream.WebSocket(conn, st); err != nil {
		s.logger.Debug("websocket relay ended",
			slog.String("mode", string(req.Mode)),
			slog.Any("error", err))
	}
}

// handleNDJSON runs one request and streams events as NDJSON over the
// HTTP response.
func (s *server) handleNDJSON(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	st := core.NewStream(r.Context(), 64)
	go func() {
		_, _ = s.client.Process(r.Context(), req, st)
	}()

	if err := stream.NDJSON(w, st); err != nil {
		s.logger.Debug("ndjson relay ended",
			slog.String("mode", string(req.Mode)),
			slog.Any("error", err))
	}
}
