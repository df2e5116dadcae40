package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// WSHandler streams composition log entries to admin consoles.
type WSHandler struct {
	service  *app.ComposerService
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewWSHandler(service *app.ComposerService, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type recentPayload struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS sends the most recent entries as a "recent" message, then one
// "compositionLog" message per new compose attempt. Clients may ask for
// another page with {"type":"recent","payload":{"limit":n,"offset":m}}.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = v
	}
	recent, err := h.service.GetRecentCompositionLogs(r.Context(), limit, 0)
	if err != nil {
		http.Error(w, publicError(err), statusFor(domain.KindOf(err)))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	// The server read timeout would otherwise end idle admin sessions.
	_ = conn.SetReadDeadline(time.Time{})

	updates, cancel := h.service.Feed().Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("ws write failed")
				// Unblocks the read loop below.
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case entry, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "compositionLog", Payload: entry}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if enqueue(send, writerDone, outboundMessage[any]{Type: "recent", Payload: recent}) {
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			if !enqueue(send, writerDone, h.reply(r.Context(), inbound)) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) reply(ctx context.Context, inbound inboundMessage) outboundMessage[any] {
	if inbound.Type != "recent" {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
	var payload recentPayload
	if len(inbound.Payload) > 0 {
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid recent payload"}}
		}
	}
	page, err := h.service.GetRecentCompositionLogs(ctx, payload.Limit, payload.Offset)
	if err != nil {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: publicError(err)}}
	}
	return outboundMessage[any]{Type: "recent", Payload: page}
}

// enqueue hands msg to the writer and reports false once the writer has
// stopped, so a dead connection never blocks the caller on a full buffer.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}
