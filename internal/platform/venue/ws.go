// Package venue contains the clients for the derivative venue: the
// WebSocket order-event stream and the trading REST API.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 90 * time.Second

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second
)

// EventHandler is invoked with each batch of order events parsed off the
// feed. It runs on the session's read goroutine; anything slow must be
// handed off so the loop keeps draining the socket.
type EventHandler func(events []domain.OrderEvent)

// StateHandler is invoked on every session state transition with the new
// state and the current reconnect-attempt counter.
type StateHandler func(state domain.SessionState, attempts int)

// SessionConfig holds stream session tunables.
type SessionConfig struct {
	URL string

	// KeepAlive is the liveness-probe interval. Default 30s.
	KeepAlive time.Duration

	// BaseDelay is the linear reconnect backoff unit: the Nth scheduled
	// reconnect waits BaseDelay * N. Default 2s.
	BaseDelay time.Duration

	// MaxAttempts is the number of reconnects tried before the session
	// enters the terminal failed state. Default 10.
	MaxAttempts int

	// Backfill is how far behind now subscribe messages ask the venue to
	// replay from, covering clock skew between venue and engine. Replayed
	// events the engine already handled are deduplicated downstream.
	Backfill time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
}

// StreamSession owns the single persistent socket to the venue's order
// feed: connect, subscribe, keepalive, and reconnection with growing
// backoff. Exactly one socket is open at a time; reconnect attempts are
// serialized through the session mutex and a single pending timer.
type StreamSession struct {
	cfg     SessionConfig
	handler EventHandler
	onState StateHandler
	logger  *slog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          domain.SessionState
	attempts       int
	subs           map[string]struct{} // profile addresses to (re)subscribe
	reconnectTimer *time.Timer
	closed         bool
}

// NewStreamSession creates a disconnected session. handler receives parsed
// events; onState (optional) observes state transitions.
func NewStreamSession(cfg SessionConfig, handler EventHandler, onState StateHandler, logger *slog.Logger) *StreamSession {
	cfg.applyDefaults()
	return &StreamSession{
		cfg:     cfg,
		handler: handler,
		onState: onState,
		logger:  logger.With(slog.String("component", "stream_session")),
		state:   domain.SessionDisconnected,
		subs:    make(map[string]struct{}),
	}
}

// Connect dials the feed, starts the read and keepalive loops, and replays
// one subscribe message per known profile address with from_timestamp just
// behind now so the venue does not deliver full history. On dial failure a
// reconnect is scheduled (unless attempts are exhausted) and the error is
// returned.
func (s *StreamSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("venue: connect: %w", domain.ErrStreamClosed)
	}
	if s.conn != nil {
		return nil
	}

	s.setStateLocked(domain.SessionConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.setStateLocked(domain.SessionDisconnected)
		s.scheduleReconnectLocked()
		return fmt.Errorf("venue: connect: %w", err)
	}

	s.conn = conn
	s.attempts = 0
	s.setStateLocked(domain.SessionConnected)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Re-issue subscriptions from now minus the skew buffer; older replay
	// is deduplicated downstream.
	from := time.Now().Add(-s.cfg.Backfill).Unix()
	for addr := range s.subs {
		if err := s.sendCommandLocked(wsCommand{
			Topic:         topicOrderHistory,
			Address:       addr,
			FromTimestamp: from,
		}); err != nil {
			s.logger.Warn("resubscribe failed",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
		}
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)

	s.logger.Info("stream connected", slog.Int("subscriptions", len(s.subs)))
	return nil
}

// Subscribe registers a profile address for order-history events. If the
// session is currently connected the subscribe message is sent immediately;
// either way the address is replayed on every reconnect.
func (s *StreamSession) Subscribe(ctx context.Context, profileAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("venue: subscribe: %w", domain.ErrStreamClosed)
	}

	s.subs[profileAddress] = struct{}{}

	if s.conn == nil {
		return nil
	}
	if err := s.sendCommandLocked(wsCommand{
		Topic:         topicOrderHistory,
		Address:       profileAddress,
		FromTimestamp: time.Now().Add(-s.cfg.Backfill).Unix(),
	}); err != nil {
		return fmt.Errorf("venue: subscribe %s: %w", profileAddress, err)
	}
	return nil
}

// Close shuts the session down: cancels any pending reconnect, closes the
// socket, and transitions Closing -> Closed. Safe to call multiple times.
func (s *StreamSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.setStateLocked(domain.SessionClosing)

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	var err error
	if s.conn != nil {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = s.conn.Close()
		s.conn = nil
	}

	s.setStateLocked(domain.SessionClosed)
	return err
}

// State returns the current connection state.
func (s *StreamSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the current reconnect-attempt counter.
func (s *StreamSession) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// setStateLocked transitions the state machine. Caller must hold s.mu.
func (s *StreamSession) setStateLocked(state domain.SessionState) {
	if s.state == state {
		return
	}
	s.state = state
	if s.onState != nil {
		go s.onState(state, s.attempts)
	}
}

// sendCommandLocked writes a JSON command to the socket. Caller must hold
// s.mu and s.conn must be non-nil.
func (s *StreamSession) sendCommandLocked(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// reconnectDelay is the linear backoff: attempt N waits BaseDelay * N.
func (s *StreamSession) reconnectDelay(attempt int) time.Duration {
	return s.cfg.BaseDelay * time.Duration(attempt)
}

// scheduleReconnectLocked increments the attempt counter and arms the
// reconnect timer, or transitions to the terminal failed state when
// attempts are exhausted. Caller must hold s.mu.
func (s *StreamSession) scheduleReconnectLocked() {
	if s.closed {
		return
	}
	if s.attempts >= s.cfg.MaxAttempts {
		s.logger.Error("reconnect attempts exhausted, manual restart required",
			slog.Int("attempts", s.attempts),
		)
		s.setStateLocked(domain.SessionFailed)
		return
	}

	s.attempts++
	delay := s.reconnectDelay(s.attempts)
	s.logger.Warn("scheduling reconnect",
		slog.Int("attempt", s.attempts),
		slog.Duration("delay", delay),
	)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		defer cancel()
		if err := s.Connect(ctx); err != nil {
			s.logger.Warn("reconnect failed", slog.String("error", err.Error()))
		}
	})
}

// handleDisconnect tears down the current socket and schedules a reconnect.
func (s *StreamSession) handleDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.conn == nil {
		return
	}

	s.logger.Warn("stream disconnected", slog.String("error", err.Error()))
	_ = s.conn.Close()
	s.conn = nil
	s.setStateLocked(domain.SessionDisconnected)
	s.scheduleReconnectLocked()
}

// readLoop drains the socket, parses order-history envelopes, and hands
// event batches to the handler. Malformed frames are logged and skipped;
// nothing in here may terminate the loop except a socket error or Close.
func (s *StreamSession) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}
		s.handleFrame(raw)
	}
}

// pingLoop sends a liveness probe at the keepalive interval until the
// connection it was started for goes away.
func (s *StreamSession) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

// handleFrame parses one raw frame. Only order_history envelopes matter;
// individual events that fail to parse are dropped without affecting the
// rest of the batch.
func (s *StreamSession) handleFrame(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Warn("malformed frame, skipping", slog.String("error", err.Error()))
		return
	}
	if envelope.Message != topicOrderHistory {
		return
	}

	events := make([]domain.OrderEvent, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		var apiEvent APIOrderEvent
		if err := json.Unmarshal(item, &apiEvent); err != nil {
			s.logger.Warn("malformed order event, skipping", slog.String("error", err.Error()))
			continue
		}
		ev, err := apiEvent.ToDomain()
		if err != nil {
			s.logger.Warn("invalid order event, skipping", slog.String("error", err.Error()))
			continue
		}
		events = append(events, ev)
	}

	if len(events) > 0 && s.handler != nil {
		s.handler(events)
	}
}
