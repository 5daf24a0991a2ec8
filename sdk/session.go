package voice

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codervipul775/voice-agent/pkg/protocol"
)

// SessionOptions configures one logical voice session.
type SessionOptions struct {
	// Endpoint is the websocket base URL; the session id is appended as
	// /voice/{id}.
	Endpoint string

	MaxAttempts    uint
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         time.Duration
	ConnectTimeout time.Duration
}

func (o *SessionOptions) applyDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Jitter <= 0 {
		o.Jitter = 500 * time.Millisecond
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
}

// Session owns the transport connection, the voice state machine, the
// caption log and the reconnection policy for one session id. It routes
// decoded audio to the playback queue and UI intents to the backend.
type Session struct {
	opts     SessionOptions
	logger   *zap.Logger
	playback *PlaybackQueue
	captions *CaptionLog

	events chan Event

	stateMu       sync.Mutex
	state         VoiceState
	interim       string
	stateListener func(VoiceState)

	mu             sync.Mutex
	conn           *websocket.Conn
	generation     uint64
	sessionID      string
	connState      ConnectionState
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

// NewSession builds a session around a playback queue. The session is
// idle until Connect.
func NewSession(opts SessionOptions, playback *PlaybackQueue, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Session{
		opts:     opts,
		logger:   logger,
		playback: playback,
		captions: NewCaptionLog(),
		events:   make(chan Event, 64),
		state:    StateIdle,
		connState: ConnectionState{
			MaxAttempts: opts.MaxAttempts,
		},
	}
}

// Events yields session events. Emission is non-blocking; a consumer
// that stops reading loses events, never the session.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Captions returns the session caption log.
func (s *Session) Captions() *CaptionLog {
	return s.captions
}

// InterimText reports the live word-by-word transcript buffer.
func (s *Session) InterimText() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.interim
}

// State reports the current voice state.
func (s *Session) State() VoiceState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// ConnState returns a copy of the reconnect bookkeeping.
func (s *Session) ConnState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// SetStateListener installs a callback invoked on every state
// transition, after the state is visible. Used to arm the barge-in
// detector while speaking.
func (s *Session) SetStateListener(fn func(VoiceState)) {
	s.stateMu.Lock()
	s.stateListener = fn
	s.stateMu.Unlock()
}

func (s *Session) setState(state VoiceState) {
	s.stateMu.Lock()
	if s.state == state {
		s.stateMu.Unlock()
		return
	}
	s.state = state
	listener := s.stateListener
	s.stateMu.Unlock()

	s.emit(StateEvent{State: state})
	if listener != nil {
		listener(state)
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Never block the read loop on a slow consumer.
	}
}

func (s *Session) endpointURL(sessionID string) string {
	return fmt.Sprintf("%s/voice/%s", s.opts.Endpoint, sessionID)
}

// Connect opens the transport for the given session id. If the retry
// budget is already spent it fails immediately with a terminal error and
// no attempt is made. A previous connection, if any, is closed first.
func (s *Session) Connect(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.connState.Attempts >= s.connState.MaxAttempts {
		s.mu.Unlock()
		s.setState(StateError)
		s.emit(NoticeEvent{Severity: NoticeFatal, Message: "connection failed after maximum retries"})
		return ErrRetryBudgetExhausted
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	// Replace any previous connection reference; the stale read loop is
	// fenced off by the generation counter.
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.generation++
	gen := s.generation
	s.sessionID = sessionID
	wasRetry := s.connState.Attempts > 0
	s.mu.Unlock()

	url := s.endpointURL(sessionID)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		s.logger.Warn("connection attempt failed", zap.String("url", url), zap.Error(err))
		s.handleDisconnect(gen, false, err)
		return &TransportError{URL: url, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.connState.Attempts = 0
	s.connState.LastError = ""
	s.mu.Unlock()

	if wasRetry {
		s.emit(NoticeEvent{Severity: NoticeInfo, Message: "reconnected"})
	}
	s.setState(StateListening)
	s.logger.Info("session connected", zap.String("session_id", sessionID))

	go s.readLoop(gen, conn)
	return nil
}

// Disconnect closes the transport with the normal closure code so no
// reconnect is scheduled, and resets the retry budget.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.generation++
	s.connState.Attempts = 0
	s.connState.LastError = ""
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.setState(StateIdle)
}

// SendAudio forwards one encoded chunk as a binary frame, unmodified and
// in order. Recoverable no-op when not connected.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.logger.Warn("audio chunk dropped: not connected")
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// SendInterrupt sends the barge-in control message. Only effective while
// speaking; the local state flips to listening optimistically, and the
// later interrupt_ack is idempotent.
func (s *Session) SendInterrupt() error {
	if s.State() != StateSpeaking {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(protocol.NewInterrupt())
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send interrupt: %w", err)
	}
	s.setState(StateListening)
	return nil
}

func (s *Session) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			clean := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			s.handleDisconnect(gen, clean, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleMessage(data)
	}
}

// handleMessage dispatches one decoded server frame. Per-message decode
// failures are dropped here and never unwind the loop.
func (s *Session) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("dropping unparseable server frame", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.StateChange:
		state, ok := ParseVoiceState(m.State)
		if !ok {
			s.logger.Warn("unknown state from server", zap.String("state", m.State))
			return
		}
		s.setState(state)
	case protocol.TranscriptUpdate:
		caption := s.captions.Merge(Caption{
			ID:          m.ID,
			Speaker:     Speaker(m.Speaker),
			Text:        m.Text,
			TimestampMS: int64(m.Timestamp * 1000),
			IsFinal:     m.IsFinal,
		})
		if m.IsFinal && caption.Speaker == SpeakerUser {
			s.stateMu.Lock()
			s.interim = ""
			s.stateMu.Unlock()
		}
		s.emit(CaptionEvent{Caption: caption})
	case protocol.InterimTranscript:
		s.stateMu.Lock()
		s.interim = m.Text
		s.stateMu.Unlock()
		s.emit(InterimEvent{Text: m.Text})
	case protocol.Audio:
		if s.playback != nil {
			s.playback.Enqueue(m.Payload)
		}
	case protocol.AudioMetrics:
		s.emit(MetricsEvent{Metrics: m})
	case protocol.VADStatus:
		s.emit(VADEvent{Status: m})
	case protocol.InterruptAck:
		// Only meaningful while speaking; a late ack arriving after the
		// server moved on must not regress the state.
		s.stateMu.Lock()
		speaking := s.state == StateSpeaking
		s.stateMu.Unlock()
		if speaking {
			s.setState(StateListening)
		}
	case protocol.ServerError:
		// Server-reported logical errors are recoverable and must not
		// kill the session.
		s.logger.Warn("server error", zap.String("message", m.Message))
		s.emit(NoticeEvent{Severity: NoticeWarning, Message: m.Message})
		s.setState(StateListening)
	case protocol.Unknown:
		s.logger.Debug("ignoring unknown server frame", zap.String("type", m.Type))
	}
}

// handleDisconnect drives the session-level failure state machine:
// idle -> listening <-> reconnecting -> (error | listening).
func (s *Session) handleDisconnect(gen uint64, clean bool, cause error) {
	s.mu.Lock()
	if gen != s.generation {
		// A newer connection replaced this one.
		s.mu.Unlock()
		return
	}
	s.conn = nil

	if clean {
		s.mu.Unlock()
		s.logger.Info("session closed")
		s.setState(StateIdle)
		return
	}

	s.connState.Attempts++
	if cause != nil {
		s.connState.LastError = cause.Error()
	}
	attempts := s.connState.Attempts

	if attempts >= s.connState.MaxAttempts {
		s.mu.Unlock()
		s.logger.Error("reconnect budget exhausted", zap.Uint("attempts", attempts), zap.Error(cause))
		s.emit(NoticeEvent{Severity: NoticeFatal, Message: "connection failed after maximum retries"})
		s.setState(StateError)
		return
	}

	delay := backoffDelay(attempts-1, s.opts.BaseDelay, s.opts.MaxDelay, s.opts.Jitter)
	sessionID := s.sessionID
	s.reconnectTimer = time.AfterFunc(delay, func() {
		if err := s.Connect(context.Background(), sessionID); err != nil {
			s.logger.Warn("reconnect attempt failed", zap.Error(err))
		}
	})
	s.mu.Unlock()

	s.logger.Warn("connection lost, reconnecting",
		zap.Uint("attempt", attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))
	s.emit(NoticeEvent{Severity: NoticeWarning, Message: "connection lost, reconnecting"})
	s.setState(StateReconnecting)
}

// backoffDelay computes min(base*2^n, max) plus uniform jitter.
func backoffDelay(n uint, base, max, jitter time.Duration) time.Duration {
	d := base
	for i := uint(0); i < n; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter)))
	}
	return d
}
