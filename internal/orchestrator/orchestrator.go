// Package orchestrator implements the Session Orchestrator: the
// single per-call state machine that drives Media Transport, VAD, ASR, the
// LLM Conversation Engine, the Tool Executor, and TTS through one logical
// task. It is the sole mutator of call state; every sibling component
// communicates back to it over a bounded channel instead of reaching in
// directly.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brightlinevoice/callcore/internal/artifact"
	"github.com/brightlinevoice/callcore/internal/engine"
	"github.com/brightlinevoice/callcore/internal/finalizer"
	"github.com/brightlinevoice/callcore/internal/mcp/bridge"
	"github.com/brightlinevoice/callcore/internal/mcp/tier"
	"github.com/brightlinevoice/callcore/internal/observe"
	"github.com/brightlinevoice/callcore/internal/tool"
	"github.com/brightlinevoice/callcore/internal/transcript"
	"github.com/brightlinevoice/callcore/pkg/audio"
	"github.com/brightlinevoice/callcore/pkg/media"
	"github.com/brightlinevoice/callcore/pkg/s2s"
	"github.com/brightlinevoice/callcore/pkg/stt"
	"github.com/brightlinevoice/callcore/pkg/tts"
	"github.com/brightlinevoice/callcore/pkg/types"
	"github.com/brightlinevoice/callcore/pkg/vad"
)

// Fallback lines spoken when a component degrades and the tenant has no
// more specific line configured for the situation.
const (
	fallbackTurnTimeoutLine   = "Sorry, that's taking longer than I'd like. Could you say that again?"
	fallbackLLMUnavailable    = "I'm having trouble thinking that through right now."
	warmTransferLine          = "One moment, I'll connect you with someone from the team now."
	genericClosingLine        = "Thanks for calling. Goodbye."
	genericDegradedASRLine    = "I'm having trouble hearing you clearly. Please enter your callback number on the keypad, followed by the pound key."
)

// maxToolHops bounds the Thinking→ToolRunning→Thinking loop within a single
// caller turn, so a misbehaving model that keeps requesting tools can't
// wedge the orchestrator forever.
const maxToolHops = 8

// Config tunes the call's silence and turn timers. Zero fields fall back
// to the defaults below.
type Config struct {
	IdleNudge   time.Duration // default 8s; the second nudge fires at 2x this
	IdleEnd     time.Duration // default 24s, measured from the start of silence
	TurnTimeout time.Duration // default 6s
	ASRCommit   time.Duration // default 2s, bound on the final transcript after utterance_end
}

func (c Config) withDefaults() Config {
	if c.IdleNudge <= 0 {
		c.IdleNudge = 8 * time.Second
	}
	if c.IdleEnd <= 0 {
		c.IdleEnd = 24 * time.Second
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 6 * time.Second
	}
	if c.ASRCommit <= 0 {
		c.ASRCommit = 2 * time.Second
	}
	return c
}

// Dependencies are the per-call collaborators the orchestrator drives. VAD,
// ASR, Engine, and TTS are used for the classical/cascade pipeline; S2S is
// used instead when Tenant.EngineMode is types.EngineModeS2S. Exactly one
// of Engine or S2S should be set.
type Dependencies struct {
	Media     *media.Session
	Tenant    *types.TenantContext
	VAD       vad.Detector
	ASR       stt.SessionHandle
	TTS       tts.Provider
	TTSSource audio.SourceFormat // source format of TTS's raw output; default audio.MulawAt8kHz
	Tools     *tool.Executor
	Finalizer *finalizer.Finalizer
	Sink      artifact.Sink
	Engine    engine.Engine
	S2S       s2s.SessionHandle
	Config    Config

	// Corrector, when set, rewrites each final caller transcript before it
	// reaches the LLM and the call record, fixing misheard proper nouns
	// against the tenant's known names. Nil disables correction.
	Corrector transcript.Pipeline

	// Metrics, when set, receives per-turn and per-tool measurements.
	Metrics *observe.Metrics

	// Tier, when set, picks a per-utterance budget tier from the caller's
	// words, capped at the tenant's configured tier. Nil pins every turn to
	// the tenant tier.
	Tier *tier.Selector
}

// Orchestrator drives one call from Init to Ended. Create one with New per
// accepted Session and call Run in its own goroutine (or directly, if the
// caller has already put the call on its own goroutine).
type Orchestrator struct {
	call         types.Call
	tenant       *types.TenantContext
	media        *media.Session
	vad          vad.Detector
	asr          stt.SessionHandle
	ttsProv      tts.Provider
	ttsSource    audio.SourceFormat
	tools        *tool.Executor
	finalizerSvc *finalizer.Finalizer
	sink         artifact.Sink
	eng          engine.Engine
	s2sHandle    s2s.SessionHandle
	cfg          Config
	corrector    transcript.Pipeline
	metrics      *observe.Metrics
	tierSel      *tier.Selector
	curTier      types.BudgetTier

	state         State
	terminalCause types.TerminalCause
	transcript    []types.TranscriptEntry
	dtmfPhone     string
	uttSeq        int

	currentUttID        string
	currentUttStartedAt time.Time

	vadEvents      chan vad.Event
	asrUnavailable chan struct{}
	mediaDone      chan struct{}

	idleNudge1, idleNudge2, idleEnd *time.Timer
	asrCommitTimer                 *time.Timer
}

// New builds an Orchestrator for one call. callID is the caller-assigned
// stable identifier for the call (typically the carrier CallSID).
func New(callID string, deps Dependencies) *Orchestrator {
	meta := deps.Media.Meta()
	ttsSource := deps.TTSSource
	if ttsSource.Encoding == "" {
		ttsSource = audio.MulawAt8kHz
	}
	return &Orchestrator{
		call: types.Call{
			ID:           callID,
			TenantID:     deps.Tenant.TenantID,
			CallerID:     meta.From,
			DialedNumber: meta.To,
			Direction:    types.DirectionInbound,
			StartedAt:    time.Now(),
		},
		tenant:         deps.Tenant,
		media:          deps.Media,
		vad:            deps.VAD,
		asr:            deps.ASR,
		ttsProv:        deps.TTS,
		ttsSource:      ttsSource,
		tools:          deps.Tools,
		finalizerSvc:   deps.Finalizer,
		sink:           deps.Sink,
		eng:            deps.Engine,
		s2sHandle:      deps.S2S,
		cfg:            deps.Config.withDefaults(),
		corrector:      deps.Corrector,
		metrics:        deps.Metrics,
		tierSel:        deps.Tier,
		curTier:        deps.Tenant.BudgetTier,
		state:          StateInit,
		vadEvents:      make(chan vad.Event, 64),
		asrUnavailable: make(chan struct{}, 1),
		mediaDone:      make(chan struct{}),
	}
}

// Call returns the call's identity and lifecycle fields gathered so far.
// Safe to call only after Run returns.
func (o *Orchestrator) Call() types.Call { return o.call }

// Run drives the call to completion: it returns once the call has ended and
// the post-call artifact has been handed to the sink (or the attempt to do
// so has failed and been logged). The returned error is always nil; call
// failures are recorded on the call and in the emitted artifact instead,
// a component failure must never abort the call mid-teardown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.eng != nil {
		return o.runClassical(ctx)
	}
	return o.runS2S(ctx)
}

// --- classical/cascade pipeline --------------------------------------------

func (o *Orchestrator) runClassical(ctx context.Context) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.media.Run(callCtx)
	go o.media.Pace(callCtx)
	go o.mediaPump(callCtx)

	o.speakGreeting(callCtx)

	for o.state != StateEnded {
		trig, ok := o.waitForTrigger(callCtx)
		if !ok {
			o.terminalCause = types.CauseTransportError
			o.state = StateEnded
			break
		}
		switch trig.kind {
		case triggerUtteranceFinal:
			o.dispatchToLLM(callCtx, types.Message{Role: engine.RoleUser, Content: trig.text}, 0)
			if o.state != StateEnded {
				o.state = StateListening
				o.armIdleTimers()
			}
		case triggerIdleNudge1, triggerIdleNudge2:
			o.state = StateNudging
			o.speakSystemLine(callCtx, o.tenant.IdleNudgeLine, true)
			if o.state != StateEnded && o.state != StateListening {
				o.state = StateListening
			}
		case triggerIdleEnd:
			o.speakSystemLine(callCtx, o.closingLine(), false)
			if o.terminalCause == "" {
				o.terminalCause = types.CauseTimeout
			}
			o.state = StateEnded
		case triggerASRUnavailable:
			o.runDegradedASR(callCtx)
		case triggerHangup:
			o.terminalCause = types.CauseHangup
			o.state = StateEnded
		case triggerTransportError:
			o.terminalCause = types.CauseTransportError
			o.state = StateEnded
		}
	}

	o.stopIdleTimers()
	return o.finalize(ctx)
}

// mediaPump feeds every inbound audio frame to the VAD and ASR, surfacing
// VAD events and ASR-unavailable transitions onto the orchestrator's own
// channels so the single select loop in waitForTrigger/speak remains the
// sole place state is mutated.
func (o *Orchestrator) mediaPump(ctx context.Context) {
	defer close(o.mediaDone)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-o.media.Inbound():
			if !ok {
				return
			}
			if frame.IsGap {
				continue
			}
			for _, ev := range o.vad.Feed(frame.Payload, frame.RecvAt) {
				select {
				case o.vadEvents <- ev:
				case <-ctx.Done():
					return
				}
			}
			if o.asr == nil {
				continue
			}
			if err := o.asr.SendAudio(frame.Payload); err != nil {
				if errors.Is(err, stt.ErrAsrUnavailable) {
					select {
					case o.asrUnavailable <- struct{}{}:
					default:
					}
				}
			}
		}
	}
}

// --- trigger loop (Listening/Nudging) --------------------------------------

type triggerKind int

const (
	triggerNone triggerKind = iota
	triggerUtteranceFinal
	triggerIdleNudge1
	triggerIdleNudge2
	triggerIdleEnd
	triggerASRUnavailable
	triggerHangup
	triggerTransportError
)

type trigger struct {
	kind triggerKind
	text string
}

// waitForTrigger blocks in Listening/Nudging until one of the events that
// advances the state machine occurs. VAD speech-boundary bookkeeping
// happens here too, since it's meaningful exactly while the caller, not the
// agent, is expected to be producing audio.
func (o *Orchestrator) waitForTrigger(ctx context.Context) (trigger, bool) {
	for {
		var nudge1C, nudge2C, endC, commitC <-chan time.Time
		if o.idleNudge1 != nil {
			nudge1C = o.idleNudge1.C
		}
		if o.idleNudge2 != nil {
			nudge2C = o.idleNudge2.C
		}
		if o.idleEnd != nil {
			endC = o.idleEnd.C
		}
		if o.asrCommitTimer != nil {
			commitC = o.asrCommitTimer.C
		}

		select {
		case <-ctx.Done():
			return trigger{}, false
		case <-o.mediaDone:
			return trigger{kind: triggerTransportError}, true
		case ev, ok := <-o.media.Lifecycle():
			if !ok {
				continue
			}
			if ev.Type == media.LifecycleStop {
				return trigger{kind: triggerHangup}, true
			}
		case ev, ok := <-o.vadEvents:
			if !ok {
				continue
			}
			o.handleVADDuringListening(ev)
		case <-nudge1C:
			o.idleNudge1 = nil
			return trigger{kind: triggerIdleNudge1}, true
		case <-nudge2C:
			o.idleNudge2 = nil
			return trigger{kind: triggerIdleNudge2}, true
		case <-endC:
			o.idleEnd = nil
			return trigger{kind: triggerIdleEnd}, true
		case <-commitC:
			o.asrCommitTimer = nil
			slog.Warn("orchestrator: asr commit timeout, dropping utterance",
				"call_id", o.call.ID, "utterance_id", o.currentUttID)
		case <-o.asrUnavailable:
			return trigger{kind: triggerASRUnavailable}, true
		case tr, ok := <-o.asr.Finals():
			if !ok {
				continue
			}
			if !tr.IsFinal || (o.currentUttID != "" && tr.UtteranceID != o.currentUttID) {
				continue
			}
			if o.asrCommitTimer != nil {
				o.asrCommitTimer.Stop()
				o.asrCommitTimer = nil
			}
			tr.Text = o.correctTranscript(ctx, tr)
			o.recordCallerUtterance(tr)
			return trigger{kind: triggerUtteranceFinal, text: tr.Text}, true
		}
	}
}

func (o *Orchestrator) handleVADDuringListening(ev vad.Event) {
	switch ev.Type {
	case vad.UtteranceBegin:
		o.currentUttID = o.nextUtteranceID()
		o.currentUttStartedAt = time.Now()
		o.asr.BeginUtterance(o.currentUttID)
		o.stopIdleTimers()
		if o.state == StateNudging {
			o.state = StateListening
		}
	case vad.UtteranceEnd:
		if o.asrCommitTimer == nil {
			o.asrCommitTimer = time.NewTimer(o.cfg.ASRCommit)
		}
	}
}

// correctTranscript runs the final transcript through the correction
// pipeline against the tenant's known proper nouns. Correction failures are
// not fatal; the raw text is used instead.
func (o *Orchestrator) correctTranscript(ctx context.Context, tr stt.Transcript) string {
	if o.corrector == nil {
		return tr.Text
	}
	entities := []string{o.tenant.BusinessName, o.tenant.AgentName}
	corrected, err := o.corrector.Correct(ctx, tr, entities)
	if err != nil || corrected == nil {
		if err != nil {
			slog.Warn("orchestrator: transcript correction failed", "call_id", o.call.ID, "err", err)
		}
		return tr.Text
	}
	return corrected.Corrected
}

func (o *Orchestrator) nextUtteranceID() string {
	o.uttSeq++
	return fmt.Sprintf("%s-u%d", o.call.ID, o.uttSeq)
}

func (o *Orchestrator) recordCallerUtterance(tr stt.Transcript) {
	start := o.currentUttStartedAt
	if start.IsZero() {
		start = time.Now().Add(-tr.Duration)
	}
	startMs := start.Sub(o.call.StartedAt).Milliseconds()
	endMs := startMs + tr.Duration.Milliseconds()
	o.transcript = append(o.transcript, types.TranscriptEntry{
		Speaker:  types.SpeakerCaller,
		Text:     tr.Text,
		TStartMs: startMs,
		TEndMs:   endMs,
	})
}

func (o *Orchestrator) recordAgentLine(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ms := time.Since(o.call.StartedAt).Milliseconds()
	o.transcript = append(o.transcript, types.TranscriptEntry{
		Speaker:  types.SpeakerAgent,
		Text:     text,
		TStartMs: ms,
		TEndMs:   ms,
	})
}

// --- idle timers ------------------------------------------------------------

// armIdleTimers starts the nudge-at-IdleNudge, nudge-at-2xIdleNudge, and
// end-at-IdleEnd timers. The second nudge interval isn't separately
// configurable (only the first nudge and the final
// end have knobs); 2x the first nudge is used instead of adding a new
// config field, since it keeps all three timers expressible from the one
// IdleNudgeMs knob operators already set.
func (o *Orchestrator) armIdleTimers() {
	o.stopIdleTimers()
	o.idleNudge1 = time.NewTimer(o.cfg.IdleNudge)
	o.idleNudge2 = time.NewTimer(2 * o.cfg.IdleNudge)
	o.idleEnd = time.NewTimer(o.cfg.IdleEnd)
}

func (o *Orchestrator) stopIdleTimers() {
	if o.idleNudge1 != nil {
		o.idleNudge1.Stop()
		o.idleNudge1 = nil
	}
	if o.idleNudge2 != nil {
		o.idleNudge2.Stop()
		o.idleNudge2 = nil
	}
	if o.idleEnd != nil {
		o.idleEnd.Stop()
		o.idleEnd = nil
	}
}

// --- LLM turn cycle (Thinking/ToolRunning/Speaking) ------------------------

// dispatchToLLM drives one Thinking phase (possibly followed by
// ToolRunning→Thinking hops, with each tool result fed back to the model) through to Speaking or a terminal/transfer state.
func (o *Orchestrator) dispatchToLLM(ctx context.Context, event types.Message, hop int) {
	if hop > maxToolHops {
		slog.Warn("orchestrator: tool hop limit reached", "call_id", o.call.ID)
		o.speakSystemLine(ctx, fallbackLLMUnavailable, false)
		if o.state != StateEnded {
			o.state = StateListening
		}
		return
	}

	o.state = StateThinking
	if o.tierSel != nil && event.Role == engine.RoleUser {
		selected := types.BudgetTier(o.tierSel.Select(event.Content, 0))
		if selected > o.tenant.BudgetTier {
			selected = o.tenant.BudgetTier
		}
		o.curTier = selected
	}
	tools := o.tools.ToolDefinitions(o.curTier)
	turn, err := o.respondWithRetry(ctx, event, tools)
	if err != nil {
		slog.Error("orchestrator: llm respond failed", "call_id", o.call.ID, "err", err)
		o.speakSystemLine(ctx, fallbackLLMUnavailable, false)
		o.offerTransferOrListen(ctx)
		return
	}

	teed, ready := teeFirstToken(turn.Sentences)
	timer := time.NewTimer(o.cfg.TurnTimeout)
	select {
	case <-ready:
		timer.Stop()
	case <-timer.C:
		o.eng.TruncateToSpoken("")
		o.speakSystemLine(ctx, fallbackTurnTimeoutLine, false)
		if o.state != StateEnded {
			o.state = StateListening
		}
		return
	case <-ctx.Done():
		timer.Stop()
		return
	}

	o.state = StateSpeaking
	spoken, result := o.speak(ctx, teed, o.tenant.Voice, true)
	turn.Wait()

	switch result {
	case speakBargedIn:
		o.eng.TruncateToSpoken(spoken)
		o.recordAgentLine(spoken)
		o.state = StateListening
		return
	case speakHangup:
		o.eng.TruncateToSpoken(spoken)
		o.recordAgentLine(spoken)
		o.terminalCause = types.CauseHangup
		o.state = StateEnded
		return
	case speakTransportError:
		o.terminalCause = types.CauseTransportError
		o.state = StateEnded
		return
	}

	o.recordAgentLine(turn.Text())
	if o.metrics != nil {
		o.metrics.RecordTurnCompleted(ctx, o.call.TenantID)
	}
	if o.tierSel != nil {
		o.tierSel.RecordTurn()
	}
	if err := turn.Err(); err != nil && !errors.Is(err, context.Canceled) {
		o.speakSystemLine(ctx, fallbackTurnTimeoutLine, false)
		if o.state != StateEnded {
			o.state = StateListening
		}
		return
	}

	calls := turn.ToolCalls()
	if len(calls) == 0 {
		o.state = StateListening
		return
	}

	// Only the first requested call is executed; a model that asks for
	// several simultaneous tool calls in one turn is rare in practice for
	// this tool set (transfer/end/lead-capture are each terminal or
	// single-step) and handling more than one per hop would require
	// batching results into one follow-up message instead of one per hop.
	o.state = StateToolRunning
	call := calls[0]
	resultJSON := o.runToolCall(ctx, call)
	if o.state == StateEnded || o.state == StateTransferring {
		return
	}
	if !o.applyToolResult(ctx, call, resultJSON) {
		return
	}
	o.dispatchToLLM(ctx, types.Message{
		Role:       engine.RoleTool,
		Content:    resultJSON,
		Name:       call.Name,
		ToolCallID: call.ID,
	}, hop+1)
}

// respondWithRetry retries a dropped LLM connection once with identical
// input before falling back.
func (o *Orchestrator) respondWithRetry(ctx context.Context, event types.Message, tools []types.ToolDefinition) (*engine.Turn, error) {
	turn, err := o.eng.Respond(ctx, event, tools)
	if err == nil {
		return turn, nil
	}
	slog.Warn("orchestrator: llm respond failed, retrying once", "call_id", o.call.ID, "err", err)
	return o.eng.Respond(ctx, event, tools)
}

// teeFirstToken relays in onto a new channel while also signalling ready as
// soon as either the first sentence arrives or in closes without ever
// producing one (a tool-only turn). Used to bound the "no token within
// TurnTimeout" window without having to consume (and thereby lose) the
// first sentence before deciding whether to start speaking.
func teeFirstToken(in <-chan string) (out <-chan string, ready <-chan struct{}) {
	o := make(chan string, 8)
	r := make(chan struct{})
	go func() {
		defer close(o)
		first := true
		for s := range in {
			if first {
				first = false
				close(r)
			}
			o <- s
		}
		if first {
			close(r)
		}
	}()
	return o, r
}

func (o *Orchestrator) runToolCall(ctx context.Context, call types.LLMToolCall) string {
	result, err := o.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		slog.Warn("orchestrator: tool dispatch failed", "call_id", o.call.ID, "tool", call.Name, "err", err)
		if o.metrics != nil {
			o.metrics.RecordToolCall(ctx, call.Name, "error")
		}
		return `{"ok":false,"reason":"unknown_tool"}`
	}
	if o.metrics != nil {
		o.metrics.RecordToolCall(ctx, call.Name, "ok")
	}
	return result
}

// applyToolResult special-cases the two tools that end the call
// (transfer_to_human, end_call) and reports whether the Thinking loop
// should continue with the result fed back to the model.
func (o *Orchestrator) applyToolResult(ctx context.Context, call types.LLMToolCall, resultJSON string) (advance bool) {
	switch call.Name {
	case tool.ToolTransferToHuman:
		var res struct {
			Transferred bool   `json:"transferred"`
			ToNumber    string `json:"to_number"`
		}
		_ = json.Unmarshal([]byte(resultJSON), &res)
		if !res.Transferred {
			return true
		}
		o.state = StateTransferring
		if o.speakSystemLine(ctx, warmTransferLine, false) != speakCompleted {
			return false
		}
		_ = o.media.Close(media.CauseTransferred)
		o.terminalCause = types.CauseTransfer
		o.state = StateEnded
		return false
	case tool.ToolEndCall:
		o.speakSystemLine(ctx, o.closingLine(), false)
		if o.terminalCause == "" {
			o.terminalCause = types.CauseEndCallTool
		}
		o.state = StateEnded
		return false
	default:
		return true
	}
}

func (o *Orchestrator) offerTransferOrListen(ctx context.Context) {
	if o.state == StateEnded {
		return
	}
	if o.tenant.EscalationPhone == "" {
		o.state = StateListening
		return
	}
	o.state = StateTransferring
	if o.speakSystemLine(ctx, warmTransferLine, false) != speakCompleted {
		return
	}
	_ = o.media.Close(media.CauseTransferred)
	o.terminalCause = types.CauseTransfer
	o.state = StateEnded
}

func (o *Orchestrator) closingLine() string {
	if o.tenant.IdleClosingLine != "" {
		return o.tenant.IdleClosingLine
	}
	return genericClosingLine
}

// --- greeting ---------------------------------------------------------------

func (o *Orchestrator) speakGreeting(ctx context.Context) {
	o.state = StateGreeting
	o.speakSystemLine(ctx, o.tenant.Greeting, true)
	if o.state == StateEnded {
		return
	}
	o.state = StateListening
	o.armIdleTimers()
}

// --- speaking / barge-in ----------------------------------------------------

type speakResult int

const (
	speakCompleted speakResult = iota
	speakBargedIn
	speakHangup
	speakTransportError
)

// speak streams text into the TTS provider and the synthesized audio out to
// the media transport, racing caller speech (when bargeInAllowed) against
// the stream. It returns the text that was actually forwarded to TTS before
// any interruption or completion, for TruncateToSpoken/transcript purposes.
func (o *Orchestrator) speak(ctx context.Context, text <-chan string, voice types.VoiceSpec, bargeInAllowed bool) (spoken string, result speakResult) {
	ttsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	relay := make(chan string, 8)
	var spokenBuf strings.Builder
	var spokenMu sync.Mutex
	go func() {
		defer close(relay)
		for {
			select {
			case s, ok := <-text:
				if !ok {
					return
				}
				spokenMu.Lock()
				spokenBuf.WriteString(s)
				spokenMu.Unlock()
				select {
				case relay <- s:
				case <-ttsCtx.Done():
					return
				}
			case <-ttsCtx.Done():
				return
			}
		}
	}()

	audioCh, err := o.ttsProv.SynthesizeStream(ttsCtx, relay, voice)
	if err != nil {
		slog.Error("orchestrator: tts synthesize failed", "call_id", o.call.ID, "err", err)
		return "", speakCompleted
	}
	o.logVoiceFallback(voice)

	framesCh := audio.ToMulawFrames(ttsCtx, audioCh, o.ttsSource)
	framesDone := make(chan struct{})
	go func() {
		defer close(framesDone)
		for frame := range framesCh {
			o.media.Send(frame)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-framesDone
			return o.snapshot(&spokenMu, &spokenBuf), speakTransportError
		case <-o.mediaDone:
			cancel()
			<-framesDone
			return o.snapshot(&spokenMu, &spokenBuf), speakTransportError
		case ev, ok := <-o.media.Lifecycle():
			if ok && ev.Type == media.LifecycleStop {
				cancel()
				<-framesDone
				return o.snapshot(&spokenMu, &spokenBuf), speakHangup
			}
		case ev, ok := <-o.vadEvents:
			if !ok {
				continue
			}
			if bargeInAllowed && ev.Type == vad.UtteranceBegin {
				cancel()
				_ = o.media.Clear(ctx)
				<-framesDone
				o.currentUttID = o.nextUtteranceID()
				o.currentUttStartedAt = time.Now()
				o.asr.BeginUtterance(o.currentUttID)
				return o.snapshot(&spokenMu, &spokenBuf), speakBargedIn
			}
		case <-framesDone:
			return o.snapshot(&spokenMu, &spokenBuf), speakCompleted
		}
	}
}

func (o *Orchestrator) snapshot(mu *sync.Mutex, b *strings.Builder) string {
	mu.Lock()
	defer mu.Unlock()
	return b.String()
}

func stringChan(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

// speakSystemLine speaks a single fixed line (greeting, nudge, transfer
// announcement, closing line) outside the LLM turn cycle.
func (o *Orchestrator) speakSystemLine(ctx context.Context, line string, bargeInAllowed bool) speakResult {
	if strings.TrimSpace(line) == "" {
		return speakCompleted
	}
	spoken, result := o.speak(ctx, stringChan(line), o.tenant.Voice, bargeInAllowed)
	o.recordAgentLine(spoken)
	switch result {
	case speakHangup:
		o.terminalCause = types.CauseHangup
		o.state = StateEnded
	case speakTransportError:
		o.terminalCause = types.CauseTransportError
		o.state = StateEnded
	}
	return result
}

// logVoiceFallback emits the mandatory voice_fallback log entry when
// the configured TTS provider is a fallback chain and just served from a
// backend other than its primary.
func (o *Orchestrator) logVoiceFallback(voice types.VoiceSpec) {
	named, ok := o.ttsProv.(interface {
		LastUsed() string
		PrimaryName() string
	})
	if !ok {
		return
	}
	used := named.LastUsed()
	primary := named.PrimaryName()
	if used != "" && used != primary {
		slog.Warn("voice_fallback", "call_id", o.call.ID, "provider", used, "voice_id", voice.VoiceID)
	}
}

// --- degraded ASR / DTMF callback capture -----------------------------------

// runDegradedASR implements the ASR degraded-mode policy: announce the
// problem once, then switch entirely to DTMF for capturing a callback
// number, since the caller can no longer be reliably understood by speech.
func (o *Orchestrator) runDegradedASR(ctx context.Context) {
	o.state = StateDegradedASR
	o.stopIdleTimers()

	line := o.tenant.DegradedASRLine
	if line == "" {
		line = genericDegradedASRLine
	}
	if o.speakSystemLine(ctx, line, false) != speakCompleted {
		return
	}

	var collector dtmfCollector
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.mediaDone:
			o.terminalCause = types.CauseTransportError
			o.state = StateEnded
			return
		case ev, ok := <-o.media.Lifecycle():
			if !ok {
				continue
			}
			switch ev.Type {
			case media.LifecycleStop:
				o.finishDTMFCapture(&collector)
				o.terminalCause = types.CauseHangup
				o.state = StateEnded
				return
			case media.LifecycleDTMF:
				complete := collector.Add(ev.Digit)
				if complete || collector.Done() {
					o.finishDTMFCapture(&collector)
					o.state = StateListening
					o.armIdleTimers()
					return
				}
			}
		case _, ok := <-o.vadEvents:
			if !ok {
				continue
			}
			// Caller speech is no longer trusted in this state; only DTMF
			// drives the callback-capture sub-flow.
		}
	}
}

func (o *Orchestrator) finishDTMFCapture(c *dtmfCollector) {
	if phone := c.Phone(); phone != "" {
		o.dtmfPhone = phone
	}
}

// --- finalize ----------------------------------------------------------------

func (o *Orchestrator) finalize(ctx context.Context) error {
	o.call.EndedAt = time.Now()
	if o.call.TerminalCause == "" {
		o.call.TerminalCause = o.terminalCause
	}

	lead := o.tools.LeadRecord()
	if o.dtmfPhone != "" {
		if lead == nil {
			lead = &types.LeadRecord{Answers: map[string]string{}}
		}
		lead.Answers["phone"] = o.dtmfPhone
	}

	art := o.finalizerSvc.Finalize(ctx, finalizer.Request{
		Call:       o.call,
		Transcript: o.transcript,
		Lead:       lead,
	})

	if o.sink != nil {
		if err := o.sink.EmitArtifact(ctx, art); err != nil {
			slog.Error("orchestrator: artifact emit failed", "call_id", o.call.ID, "err", err)
		}
	}
	return nil
}

// --- speech-to-speech pipeline ----------------------------------------------

// runS2S drives a tenant whose EngineMode is S2S through a separate, far
// simpler loop: the backend owns VAD/ASR/turn-taking/TTS internally, so the
// orchestrator's job shrinks to relaying audio both ways, forwarding tool
// calls to the shared Tool Executor, and watching for hangup — the
// backend replaces the whole cascade rather than plugging into it.
func (o *Orchestrator) runS2S(ctx context.Context) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.media.Run(callCtx)
	go o.media.Pace(callCtx)

	toolBridge, err := bridge.NewBridge(o.tools, o.s2sHandle, o.tenant.BudgetTier)
	if err != nil {
		slog.Warn("orchestrator: s2s tool bridge setup failed", "call_id", o.call.ID, "err", err)
	} else {
		defer toolBridge.Close()
	}
	o.s2sHandle.OnError(func(err error) {
		slog.Error("orchestrator: s2s session error", "call_id", o.call.ID, "err", err)
	})

	framesCh := audio.ToMulawFrames(callCtx, o.s2sHandle.Audio(), audio.PCM16At24kHz)
	go func() {
		for frame := range framesCh {
			o.media.Send(frame)
		}
	}()
	go func() {
		for frame := range o.media.Inbound() {
			if frame.IsGap {
				continue
			}
			_ = o.s2sHandle.SendAudio(audio.DecodeMulawToPCM16(frame.Payload))
		}
	}()

	o.state = StateListening
	for o.state != StateEnded {
		select {
		case <-callCtx.Done():
			o.terminalCause = types.CauseTransportError
			o.state = StateEnded
		case ev, ok := <-o.media.Lifecycle():
			if ok && ev.Type == media.LifecycleStop {
				o.terminalCause = types.CauseHangup
				o.state = StateEnded
			}
		case entry, ok := <-o.s2sHandle.Transcripts():
			if ok {
				o.transcript = append(o.transcript, entry)
			}
		case <-time.After(200 * time.Millisecond):
			if err := o.s2sHandle.Err(); err != nil {
				slog.Error("orchestrator: s2s session ended", "call_id", o.call.ID, "err", err)
				o.terminalCause = types.CauseTransportError
				o.state = StateEnded
			}
		}
	}

	_ = o.s2sHandle.Close()
	return o.finalize(ctx)
}
