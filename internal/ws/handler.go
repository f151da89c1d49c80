// Package ws provides the live log-streaming surface described in
// SPEC_FULL.md §9: clients subscribe to one function's stderr lines as the
// Sandbox Runner emits them, via a WebSocket fed by Redis Pub/Sub.
//
// This is the teacher's own ws.Handler almost unchanged: the channel naming
// convention (`logs:{functionID}`), the upgrade-then-subscribe-then-forward
// shape, and the disconnect-detection goroutine all carry over as-is. What's
// new is the publish side: internal/engine's LogSink now feeds this
// package's Publisher instead of a Rust binary writing to the channel
// directly.
package ws

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "logs:"

// Publisher publishes one sandbox log line for a function, for
// internal/engine.Deps.LogStream to call per stderr line.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher wraps the shared Redis client used for log streaming.
func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log}
}

// Publish implements the engine.Deps.LogStream signature
// (ownerID, functionID, line string). ownerID is unused here: the channel is
// keyed by function, matching what HandleLogStream subscribes to.
func (p *Publisher) Publish(_ string, functionID string, line string) {
	if err := p.rdb.Publish(context.Background(), channelPrefix+functionID, line).Err(); err != nil {
		p.log.Warn().Err(err).Str("function_id", functionID).Msg("failed to publish log line")
	}
}

// Handler manages WebSocket connections for log streaming.
type Handler struct {
	Redis    *redis.Client
	Upgrader websocket.Upgrader
	Log      zerolog.Logger
}

// NewHandler creates a new WebSocket handler with the given Redis client.
func NewHandler(redisClient *redis.Client, log zerolog.Logger) *Handler {
	return &Handler{
		Redis: redisClient,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Log: log,
	}
}

// RegisterRoutes registers the WebSocket routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{functionID}", h.HandleLogStream)
}

// HandleLogStream handles GET /ws/{functionID}: upgrades to a WebSocket and
// subscribes to the Redis channel `logs:{functionID}`, forwarding every
// published message to the client until either side disconnects.
//
// # Race Condition Note (MVP Acceptable)
//
// The WebSocket connection might be established after the function has
// started executing, so the client may miss the first few log lines. This
// is acceptable for a control plane whose primary audit trail is the
// Execution Log (internal/execlog), not this live stream.
func (h *Handler) HandleLogStream(w http.ResponseWriter, r *http.Request) {
	functionID := chi.URLParam(r, "functionID")
	if functionID == "" {
		http.Error(w, "Missing function_id", http.StatusBadRequest)
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Str("function_id", functionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	channel := channelPrefix + functionID
	pubsub := h.Redis.Subscribe(ctx, channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.Log.Warn().Err(err).Str("function_id", functionID).Msg("error closing redis subscription")
		}
	}()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		}
	}
}
