package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// frameDuration is the fixed 20 ms cadence of µ-law frames on the wire.
const frameDuration = 20 * time.Millisecond

// frameBytes is the expected payload size of one decoded frame (160 bytes,
// 8 kHz µ-law, 20 ms).
const frameBytes = 160

// ringCapacity bounds the outbound ring buffer to 2 s of audio;
// back-pressure beyond that drops the oldest frames.
const ringCapacity = int(2 * time.Second / frameDuration)

// ErrHandshake is returned by Accept when the initial metadata message is
// missing or malformed.
var ErrHandshake = errors.New("media: handshake failed")

// Frame is one inbound 20 ms µ-law frame, carrying the sequence number and
// wall-clock receive time so gaps can be detected explicitly.
type Frame struct {
	Seq       int64
	Payload   []byte // 160 bytes of µ-law
	RecvAt    time.Time
	IsGap     bool // true when this Frame stands in for one or more missing sequence numbers
}

// LifecycleEventType enumerates terminal/auxiliary events surfaced alongside
// the frame stream.
type LifecycleEventType int

const (
	LifecycleDTMF LifecycleEventType = iota
	LifecycleStop
	LifecycleMarkReached
)

// LifecycleEvent is a non-audio occurrence on the media stream.
type LifecycleEvent struct {
	Type  LifecycleEventType
	Digit string // set for LifecycleDTMF
	Mark  string // set for LifecycleMarkReached
}

// CallMeta is the validated handshake metadata (the "start" event).
type CallMeta struct {
	CallSID    string
	AccountSID string
	StreamSID  string
	From       string
	To         string
}

// Session is a single carrier media stream: an inbound frame sequence, an
// outbound sender, and a lifecycle event stream. Exactly one Session exists
// per Call.
type Session struct {
	conn *websocket.Conn
	meta CallMeta

	inbound     chan Frame
	lifecycle   chan LifecycleEvent
	inboundTick chan struct{}
	closeOnce   sync.Once
	closed      chan struct{}

	mu            sync.Mutex
	outRing       [][]byte
	outDropped    uint64
	lastInboundTS time.Time
	nextSeq       int64
}

// Accept performs the carrier handshake over an already-upgraded WebSocket
// connection: it reads the "connected" and "start" envelopes, validates the
// metadata, and returns a ready Session. The caller must then call
// Session.Run to start pumping inbound frames.
func Accept(ctx context.Context, conn *websocket.Conn) (*Session, error) {
	s := &Session{
		conn:        conn,
		inbound:     make(chan Frame, 64),
		lifecycle:   make(chan LifecycleEvent, 64),
		inboundTick: make(chan struct{}, 64),
		closed:      make(chan struct{}),
	}

	var gotConnected, gotStart bool
	for !gotStart {
		env, err := s.readEnvelope(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: reading handshake: %v", ErrHandshake, err)
		}
		switch env.Event {
		case EventConnected:
			gotConnected = true
		case EventStart:
			if env.Start == nil {
				return nil, fmt.Errorf("%w: start event missing payload", ErrHandshake)
			}
			if env.Start.CallSID == "" || env.Start.StreamSID == "" {
				return nil, fmt.Errorf("%w: start event missing callSid/streamSid", ErrHandshake)
			}
			if env.Start.AccountSID == "" {
				return nil, fmt.Errorf("%w: start event missing accountSid", ErrHandshake)
			}
			if env.Start.CustomParameters["from"] == "" || env.Start.CustomParameters["to"] == "" {
				return nil, fmt.Errorf("%w: start event missing from/to custom parameters", ErrHandshake)
			}
			s.meta = CallMeta{
				CallSID:    env.Start.CallSID,
				AccountSID: env.Start.AccountSID,
				StreamSID:  env.Start.StreamSID,
				From:       env.Start.CustomParameters["from"],
				To:         env.Start.CustomParameters["to"],
			}
			gotStart = true
		default:
			return nil, fmt.Errorf("%w: unexpected event %q before start", ErrHandshake, env.Event)
		}
	}
	if !gotConnected {
		slog.Warn("media: start received without a prior connected event", "call_sid", s.meta.CallSID)
	}
	return s, nil
}

// Meta returns the validated handshake metadata.
func (s *Session) Meta() CallMeta { return s.meta }

// Inbound returns the lazy, finite sequence of inbound frames. The channel
// is closed when the stream terminates (stop event, read error, or Close).
func (s *Session) Inbound() <-chan Frame { return s.inbound }

// Lifecycle returns the stream of non-audio events (DTMF, stop, mark-reached).
func (s *Session) Lifecycle() <-chan LifecycleEvent { return s.lifecycle }

// Run pumps inbound WebSocket messages into the Frame/LifecycleEvent
// channels until the stream ends or ctx is cancelled. It must run in its own
// goroutine; it returns when the connection closes.
func (s *Session) Run(ctx context.Context) {
	defer close(s.inbound)
	defer close(s.lifecycle)
	defer s.Close(CauseReadLoopEnded)

	for {
		env, err := s.readEnvelope(ctx)
		if err != nil {
			return
		}
		switch env.Event {
		case EventMedia:
			s.handleMedia(env.Media)
		case EventDTMF:
			if env.DTMF != nil {
				select {
				case s.lifecycle <- LifecycleEvent{Type: LifecycleDTMF, Digit: env.DTMF.Digit}:
				case <-ctx.Done():
					return
				}
			}
		case EventStop:
			select {
			case s.lifecycle <- LifecycleEvent{Type: LifecycleStop}:
			case <-ctx.Done():
			}
			return
		default:
			slog.Debug("media: ignoring unknown event", "event", env.Event)
		}
	}
}

// handleMedia decodes one media frame, detects sequence gaps, and enqueues
// it (or a gap marker) onto the inbound channel. Never blocks indefinitely:
// a full inbound channel means the orchestrator is behind, which should not
// happen given its bounded-queue design, but we drop rather than stall the
// read loop.
func (s *Session) handleMedia(m *MediaInfo) {
	if m == nil {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		slog.Warn("media: failed to decode frame payload", "err", err)
		return
	}

	seq, _ := strconv.ParseInt(m.Chunk, 10, 64)
	now := time.Now()

	// Each inbound frame is one beat of the carrier's 20 ms clock; Pace
	// flushes one outbound frame per beat while inbound audio is flowing.
	select {
	case s.inboundTick <- struct{}{}:
	default:
	}

	s.mu.Lock()
	expected := s.nextSeq
	if expected != 0 && seq > expected {
		gap := Frame{Seq: expected, IsGap: true, RecvAt: now}
		s.nextSeq = seq + 1
		s.lastInboundTS = now
		s.mu.Unlock()
		select {
		case s.inbound <- gap:
		default:
		}
		select {
		case s.inbound <- Frame{Seq: seq, Payload: payload, RecvAt: now}:
		default:
		}
		return
	}
	s.nextSeq = seq + 1
	s.lastInboundTS = now
	s.mu.Unlock()

	select {
	case s.inbound <- Frame{Seq: seq, Payload: payload, RecvAt: now}:
	default:
		slog.Warn("media: inbound queue full, dropping frame", "seq", seq)
	}
}

// Send enqueues an outbound frame on the bounded ring buffer. When the ring
// is full the oldest frame is dropped and the drop counter is incremented.
func (s *Session) Send(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outRing) >= ringCapacity {
		s.outRing = s.outRing[1:]
		s.outDropped++
	}
	s.outRing = append(s.outRing, payload)
}

// DroppedOutboundFrames returns the running count of outbound frames dropped
// due to ring-buffer overflow.
func (s *Session) DroppedOutboundFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outDropped
}

// Pace drains the outbound ring buffer onto the wire, one frame per beat of
// the inbound stream's own 20 ms clock while inbound audio is flowing,
// falling back to a local 50 fps (20 ms) ticker when it isn't (pre-answer
// silence, caller on hold, inbound loss). It runs until ctx is cancelled or
// the session closes.
func (s *Session) Pace(ctx context.Context) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-s.inboundTick:
			s.flushOne(ctx)
		case <-ticker.C:
			if s.inboundRecent() {
				// The inbound clock is driving; the local ticker only
				// covers its absence.
				continue
			}
			s.flushOne(ctx)
		}
	}
}

// inboundRecent reports whether an inbound frame arrived within the last few
// frame periods, i.e. whether the carrier clock can be trusted to pace us.
func (s *Session) inboundRecent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastInboundTS.IsZero() && time.Since(s.lastInboundTS) < 5*frameDuration
}

func (s *Session) flushOne(ctx context.Context) {
	s.mu.Lock()
	if len(s.outRing) == 0 {
		s.mu.Unlock()
		return
	}
	payload := s.outRing[0]
	s.outRing = s.outRing[1:]
	s.mu.Unlock()

	env := OutboundMedia(s.meta.StreamSID, base64.StdEncoding.EncodeToString(payload))
	line, err := env.Marshal()
	if err != nil {
		return
	}
	_ = s.conn.Write(ctx, websocket.MessageText, line)
}

// Mark sends an outbound mark event, used by the caller to detect when a
// specific point in the outbound stream has been flushed to the carrier.
func (s *Session) Mark(ctx context.Context, name string) error {
	return s.writeEnvelope(ctx, OutboundMark(s.meta.StreamSID, name))
}

// Clear flushes the far-side jitter buffer, used on barge-in to guarantee
// no stale agent audio continues playing out.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.outRing = nil
	s.mu.Unlock()
	return s.writeEnvelope(ctx, OutboundClear(s.meta.StreamSID))
}

// CloseCause explains why a Session closed.
type CloseCause string

const (
	CauseHangup          CloseCause = "hangup"
	CauseTransferred     CloseCause = "transferred"
	CauseTransportError  CloseCause = "transport_error"
	CauseReadLoopEnded   CloseCause = "read_loop_ended"
)

// Close closes the underlying connection, emitting the terminal event. Safe
// to call multiple times; only the first call has effect.
func (s *Session) Close(cause CloseCause) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusNormalClosure, string(cause))
	})
	return err
}

func (s *Session) readEnvelope(ctx context.Context) (Envelope, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := env.Unmarshal(data); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (s *Session) writeEnvelope(ctx context.Context, env Envelope) error {
	line, err := env.Marshal()
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, line)
}
