package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/rs/zerolog"
)

// State is a consumer connection state
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateReceiving  State = "receiving"
	StateStalled    State = "stalled"
	StateClosed     State = "closed"
)

// transitions lists the states reachable from each state
var transitions = map[State][]State{
	StateConnecting: {StateOpen, StateConnecting, StateClosed},
	StateOpen:       {StateReceiving, StateStalled, StateConnecting, StateClosed},
	StateReceiving:  {StateReceiving, StateStalled, StateConnecting, StateClosed},
	StateStalled:    {StateReceiving, StateConnecting, StateClosed},
	StateClosed:     {},
}

// CanTransition reports whether the consumer may move from one state to another
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReconnectPolicy is the consumer's reconnection schedule: 1s, 2s, 4s, capped at 30s
var ReconnectPolicy = backoff.Policy{Base: time.Second, Max: 30 * time.Second, MaxRetries: 3}

// DefaultHeartbeat is how long the consumer waits for an event before warning of a stall
const DefaultHeartbeat = 60 * time.Second

// Update is one message from the consumer to the UI layer
type Update struct {
	State State
	// Event is set for each decoded server event
	Event *models.Event
	// RetryIn is set when a reconnection has been scheduled
	RetryIn time.Duration
	// Err is set on the final update when the channel gave up
	Err error
}

// ErrRetriesExhausted is reported when the reconnection budget is spent
var ErrRetriesExhausted = errors.New("progress channel lost: reconnection attempts exhausted")

// Client consumes a session's progress stream
type Client struct {
	baseURL   string
	http      *http.Client
	policy    backoff.Policy
	heartbeat time.Duration
	sleep     backoff.SleepFunc
	log       zerolog.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHeartbeat sets the stall threshold
func WithHeartbeat(d time.Duration) ClientOption {
	return func(c *Client) { c.heartbeat = d }
}

// WithReconnectPolicy replaces the reconnection schedule
func WithReconnectPolicy(p backoff.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithReconnectSleep replaces the wait between reconnections
func WithReconnectSleep(fn backoff.SleepFunc) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// WithStreamClient replaces the HTTP client
func WithStreamClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a consumer for the server at baseURL
func NewClient(baseURL string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		policy:    ReconnectPolicy,
		heartbeat: DefaultHeartbeat,
		sleep:     backoff.Sleep,
		log:       log.With().Str("component", "progress-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe streams updates for sessionID. The channel is closed after the final StateClosed update.
func (c *Client) Subscribe(ctx context.Context, sessionID string) <-chan Update {
	updates := make(chan Update, 16)
	go c.run(ctx, sessionID, updates)
	return updates
}

type session struct {
	c       *Client
	id      string
	updates chan<- Update
	ctx     context.Context

	mu          sync.Mutex
	state       State
	lastEventID string
	retries     int
}

func (c *Client) run(ctx context.Context, sessionID string, updates chan<- Update) {
	defer close(updates)
	s := &session{c: c, id: sessionID, updates: updates, ctx: ctx, state: StateConnecting}
	s.emit(Update{State: StateConnecting})

	for {
		terminal, err := s.connect()
		if terminal || ctx.Err() != nil {
			s.setState(StateClosed)
			s.emit(Update{State: StateClosed})
			return
		}

		if s.retries >= c.policy.MaxRetries {
			c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Giving up on progress channel")
			s.setState(StateClosed)
			s.emit(Update{State: StateClosed, Err: fmt.Errorf("%w: %v", ErrRetriesExhausted, err)})
			return
		}

		delay := c.policy.Delay(s.retries)
		s.retries++
		c.log.Info().
			Err(err).
			Str("session_id", sessionID).
			Int("attempt", s.retries).
			Dur("delay", delay).
			Msg("Reconnecting progress channel")
		s.setState(StateConnecting)
		s.emit(Update{State: StateConnecting, RetryIn: delay})
		if !c.sleep(ctx, delay) {
			s.setState(StateClosed)
			s.emit(Update{State: StateClosed})
			return
		}
	}
}

func (s *session) emit(u Update) {
	select {
	case s.updates <- u:
	case <-s.ctx.Done():
	}
}

func (s *session) setState(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

// connect runs one connection. terminal is true once the server ended the stream with a
// terminal event, after which no reconnection is allowed.
func (s *session) connect() (terminal bool, err error) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	endpoint := s.c.baseURL + "/import/progress/" + url.PathEscape(s.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.lastEventID != "" {
		req.Header.Set("Last-Event-ID", s.lastEventID)
	}

	resp, err := s.c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("progress channel returned status %d", resp.StatusCode)
	}

	s.setState(StateOpen)
	s.retries = 0
	s.emit(Update{State: StateOpen})

	frames := make(chan frame)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(resp.Body, func(f frame) {
			select {
			case frames <- f:
			case <-ctx.Done():
			}
		}, nil)
	}()

	heartbeat := time.NewTimer(s.c.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case err := <-readErr:
			if err == nil {
				err = errors.New("progress stream ended unexpectedly")
			}
			return false, err

		case <-heartbeat.C:
			if s.setState(StateStalled) {
				s.c.log.Warn().Str("session_id", s.id).Dur("silence", s.c.heartbeat).Msg("No progress events received")
				s.emit(Update{State: StateStalled})
			}

		case f := <-frames:
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(s.c.heartbeat)

			if f.ID != "" {
				s.lastEventID = f.ID
			}
			ev, err := decodeEvent(f)
			if err != nil {
				if !models.EventType(f.Event).IsTerminal() {
					s.c.log.Warn().Err(err).Str("event", f.Event).Msg("Ignoring malformed progress event")
					continue
				}
				// A terminal frame ends the session even when its payload is unreadable
				s.c.log.Warn().Err(err).Str("event", f.Event).Msg("Malformed terminal progress event")
				ev = &models.Event{Type: models.EventError, Payload: &models.ErrorPayload{
					Type:    models.EventError,
					Message: fmt.Sprintf("The server ended the session with an unreadable %s event.", f.Event),
					Details: []string{f.Data},
				}}
			}
			s.setState(StateReceiving)
			s.emit(Update{State: StateReceiving, Event: ev})
			if ev.Type.IsTerminal() {
				return true, nil
			}
		}
	}
}

// decodeEvent maps a frame to its typed payload
func decodeEvent(f frame) (*models.Event, error) {
	var payload any
	switch models.EventType(f.Event) {
	case models.EventProgress:
		payload = &models.ProgressPayload{}
	case models.EventError:
		payload = &models.ErrorPayload{}
	case models.EventComplete:
		payload = &models.CompletePayload{}
	case models.EventPopulationConflict:
		payload = &models.PopulationConflictPayload{}
	case models.EventInvalidPopulation:
		payload = &models.InvalidPopulationPayload{}
	case models.EventClose:
		payload = &models.ClosePayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", f.Event)
	}
	if err := json.Unmarshal([]byte(f.Data), payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", f.Event, err)
	}
	return &models.Event{Type: models.EventType(f.Event), Payload: payload}, nil
}
