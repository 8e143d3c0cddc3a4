// Package progress implements the per-session push channel: the server-side hub that
// buffers and streams events, and the consumer state machine that reads them back.
package progress

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/rs/zerolog"
)

// ErrChannelClosed is returned when publishing after the terminal event
var ErrChannelClosed = &apperrors.Error{
	Kind:    apperrors.KindNotFound,
	Status:  http.StatusGone,
	Message: "The progress channel for this session is closed.",
}

// ErrUnknownSession is returned when streaming a session with no channel
var ErrUnknownSession = &apperrors.Error{
	Kind:    apperrors.KindNotFound,
	Status:  http.StatusNotFound,
	Message: "No progress channel exists for this session.",
}

// Publisher is the orchestrator-facing side of the hub
type Publisher interface {
	Open(sessionID string)
	Publish(sessionID string, ev models.Event) error
}

// Hub routes events to per-session channels
type Hub struct {
	mu           sync.Mutex
	channels     map[string]*channel
	keepAlive    time.Duration
	drainTimeout time.Duration
	log          zerolog.Logger
}

type channel struct {
	mu       sync.Mutex
	events   []models.Event
	changed  chan struct{}
	terminal bool
	drain    *time.Timer
}

// NewHub creates a hub. Channels whose terminal event is never read are dropped after drainTimeout.
func NewHub(keepAlive, drainTimeout time.Duration, log zerolog.Logger) *Hub {
	if drainTimeout <= 0 {
		drainTimeout = 2 * time.Minute
	}
	return &Hub{
		channels:     make(map[string]*channel),
		keepAlive:    keepAlive,
		drainTimeout: drainTimeout,
		log:          log.With().Str("component", "progress").Logger(),
	}
}

// Open registers a channel for sessionID; events published before a subscriber connects are buffered
func (h *Hub) Open(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[sessionID]; !ok {
		h.channels[sessionID] = &channel{changed: make(chan struct{})}
	}
}

// Has reports whether sessionID still has a channel
func (h *Hub) Has(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[sessionID]
	return ok
}

func (h *Hub) get(sessionID string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[sessionID]
}

// Publish appends ev to the session's stream. Nothing may follow a terminal event.
func (h *Hub) Publish(sessionID string, ev models.Event) error {
	ch := h.get(sessionID)
	if ch == nil {
		return ErrChannelClosed
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.terminal {
		return ErrChannelClosed
	}
	ch.events = append(ch.events, ev)
	close(ch.changed)
	ch.changed = make(chan struct{})

	if ev.Type.IsTerminal() {
		ch.terminal = true
		ch.drain = time.AfterFunc(h.drainTimeout, func() {
			h.log.Debug().Str("session_id", sessionID).Msg("Dropping undelivered progress channel")
			h.remove(sessionID, ch)
		})
	}
	return nil
}

func (h *Hub) remove(sessionID string, ch *channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[sessionID] == ch {
		delete(h.channels, sessionID)
	}
	ch.mu.Lock()
	if ch.drain != nil {
		ch.drain.Stop()
	}
	ch.mu.Unlock()
}

// Stream delivers the events after lastEventID, in publish order, until the terminal event
// has been sent or ctx ends. Event ids are 1-based positions in the session's stream.
// The channel is removed once its terminal event has been delivered.
func (h *Hub) Stream(ctx context.Context, sessionID string, lastEventID int, send func(id int, ev models.Event) error, ping func() error) error {
	ch := h.get(sessionID)
	if ch == nil {
		return ErrUnknownSession
	}

	var tick <-chan time.Time
	if h.keepAlive > 0 && ping != nil {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	cursor := lastEventID
	if cursor < 0 {
		cursor = 0
	}
	for {
		ch.mu.Lock()
		var pending []models.Event
		if cursor < len(ch.events) {
			pending = ch.events[cursor:]
		}
		changed := ch.changed
		ch.mu.Unlock()

		for _, ev := range pending {
			cursor++
			if err := send(cursor, ev); err != nil {
				return err
			}
			if ev.Type.IsTerminal() {
				h.remove(sessionID, ch)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-tick:
			if err := ping(); err != nil {
				return err
			}
		}
	}
}

// WriteEvent encodes ev as one SSE frame
func WriteEvent(w io.Writer, id int, ev models.Event) error {
	return sse.Encode(w, sse.Event{
		Id:    strconv.Itoa(id),
		Event: string(ev.Type),
		Data:  ev.Payload,
	})
}

// WriteComment writes an SSE comment line, used as a keepalive
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}
