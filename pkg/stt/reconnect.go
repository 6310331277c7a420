package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAsrUnavailable is returned once the session has given up reconnecting:
// the provider disconnected again after 3 reconnects within a 10 s window, or
// reopening the stream failed. The orchestrator treats
// this as the trigger for the ASR degraded-mode policy.
var ErrAsrUnavailable = errors.New("stt: provider unavailable after repeated reconnects")

const (
	reconnectWindow    = 10 * time.Second
	maxReconnectsInWin = 3
	replayWindow       = 2 * time.Second
)

// ReconnectingSession wraps a SessionHandle so that a provider disconnect is
// transparently retried: the session reopens with the underlying provider,
// resumes with the same utterance ID, and replays up to 2 s of buffered
// audio that was in flight at disconnect time.
//
// A disconnect that follows 3 reconnects within 10 s, or a failed reopen,
// ends reconnecting: SendAudio then returns ErrAsrUnavailable;
// the caller (Session Orchestrator) is expected to switch to degraded mode.
type ReconnectingSession struct {
	provider Provider
	cfg      StreamConfig

	mu            sync.Mutex
	current       SessionHandle
	currentUttID  string
	replayBuf     [][]byte
	replayBudget  time.Duration
	reconnectAt   []time.Time
	unavailable   bool

	partials chan Transcript
	finals   chan Transcript
	closed   chan struct{}
	closeOnce sync.Once
}

// NewReconnectingSession opens an initial stream against provider and
// returns a SessionHandle that reconnects transparently on disconnect.
func NewReconnectingSession(ctx context.Context, provider Provider, cfg StreamConfig) (*ReconnectingSession, error) {
	rs := &ReconnectingSession{
		provider: provider,
		cfg:      cfg,
		partials: make(chan Transcript, 64),
		finals:   make(chan Transcript, 64),
		closed:   make(chan struct{}),
	}
	if err := rs.connect(ctx); err != nil {
		return nil, err
	}
	go rs.pump(ctx)
	return rs, nil
}

func (rs *ReconnectingSession) connect(ctx context.Context) error {
	h, err := rs.provider.StartStream(ctx, rs.cfg)
	if err != nil {
		return fmt.Errorf("stt: start stream: %w", err)
	}
	rs.mu.Lock()
	rs.current = h
	rs.mu.Unlock()
	return nil
}

// pump forwards the active session's channels into the stable outward
// channels, transparently reconnecting when the underlying session's
// channels close (signalling a provider disconnect).
func (rs *ReconnectingSession) pump(ctx context.Context) {
	for {
		rs.mu.Lock()
		h := rs.current
		rs.mu.Unlock()
		if h == nil {
			return
		}

		drained := rs.drainUntilClosed(ctx, h)
		if !drained {
			return // rs.Close was called
		}

		select {
		case <-ctx.Done():
			return
		case <-rs.closed:
			return
		default:
		}

		if err := rs.reconnect(ctx); err != nil {
			slog.Error("stt: giving up reconnecting", "err", err)
			rs.mu.Lock()
			rs.unavailable = true
			rs.mu.Unlock()
			return
		}
	}
}

// drainUntilClosed forwards Partials/Finals from h until both channels
// close. Returns false if the outer session was closed meanwhile.
func (rs *ReconnectingSession) drainUntilClosed(ctx context.Context, h SessionHandle) bool {
	partialsOpen, finalsOpen := true, true
	for partialsOpen || finalsOpen {
		select {
		case <-ctx.Done():
			return false
		case <-rs.closed:
			return false
		case t, ok := <-h.Partials():
			if !ok {
				partialsOpen = false
				continue
			}
			select {
			case rs.partials <- t:
			default:
			}
		case t, ok := <-h.Finals():
			if !ok {
				finalsOpen = false
				continue
			}
			select {
			case rs.finals <- t:
			default:
			}
		}
	}
	return true
}

// reconnect reopens the stream, enforcing the 3-within-10s budget, resumes
// the current utterance ID, and replays buffered audio.
func (rs *ReconnectingSession) reconnect(ctx context.Context) error {
	now := time.Now()
	rs.mu.Lock()
	cutoff := now.Add(-reconnectWindow)
	kept := rs.reconnectAt[:0]
	for _, t := range rs.reconnectAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rs.reconnectAt = append(kept, now)
	tooMany := len(rs.reconnectAt) > maxReconnectsInWin
	uttID := rs.currentUttID
	replay := append([][]byte(nil), rs.replayBuf...)
	rs.mu.Unlock()

	if tooMany {
		return ErrAsrUnavailable
	}

	h, err := rs.provider.StartStream(ctx, rs.cfg)
	if err != nil {
		return fmt.Errorf("stt: reconnect: %w", err)
	}
	if uttID != "" {
		h.BeginUtterance(uttID)
	}
	for _, chunk := range replay {
		_ = h.SendAudio(chunk)
	}

	rs.mu.Lock()
	rs.current = h
	rs.mu.Unlock()
	slog.Info("stt: reconnected", "utterance_id", uttID, "replayed_chunks", len(replay))
	return nil
}

// BeginUtterance implements SessionHandle.
func (rs *ReconnectingSession) BeginUtterance(utteranceID string) {
	rs.mu.Lock()
	rs.currentUttID = utteranceID
	rs.replayBuf = nil
	rs.replayBudget = 0
	h := rs.current
	rs.mu.Unlock()
	if h != nil {
		h.BeginUtterance(utteranceID)
	}
}

// SendAudio implements SessionHandle. It also retains up to 2 s of recent
// chunks so a mid-utterance reconnect can replay them.
func (rs *ReconnectingSession) SendAudio(chunk []byte) error {
	rs.mu.Lock()
	if rs.unavailable {
		rs.mu.Unlock()
		return ErrAsrUnavailable
	}
	h := rs.current
	rs.replayBuf = append(rs.replayBuf, chunk)
	rs.replayBudget += 20 * time.Millisecond
	for rs.replayBudget > replayWindow && len(rs.replayBuf) > 0 {
		rs.replayBuf = rs.replayBuf[1:]
		rs.replayBudget -= 20 * time.Millisecond
	}
	rs.mu.Unlock()
	if h == nil {
		return ErrAsrUnavailable
	}
	return h.SendAudio(chunk)
}

// Partials implements SessionHandle.
func (rs *ReconnectingSession) Partials() <-chan Transcript { return rs.partials }

// Finals implements SessionHandle.
func (rs *ReconnectingSession) Finals() <-chan Transcript { return rs.finals }

// Close implements SessionHandle.
func (rs *ReconnectingSession) Close() error {
	var err error
	rs.closeOnce.Do(func() {
		close(rs.closed)
		rs.mu.Lock()
		h := rs.current
		rs.mu.Unlock()
		if h != nil {
			err = h.Close()
		}
	})
	return err
}

var _ SessionHandle = (*ReconnectingSession)(nil)
