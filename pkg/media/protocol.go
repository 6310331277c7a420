// Package media implements the Media Transport Adapter: it terminates the
// carrier's bidirectional audio WebSocket, parses/emits the newline-delimited
// JSON framing protocol, and exposes inbound/outbound
// frame channels plus a lifecycle event stream to the Session Orchestrator.
package media

import "encoding/json"

// Event names used in the wire envelope.
const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventDTMF      Event = "dtmf"
	EventStop      Event = "stop"
	EventMark      Event = "mark"
	EventClear     Event = "clear"
)

// Event is the discriminator field of every wire message.
type Event string

// Envelope is the outer shape every inbound message is parsed into before
// dispatch on Event. Exactly one of the payload fields is populated per the
// wire contract.
type Envelope struct {
	Event     Event      `json:"event"`
	Protocol  string     `json:"protocol,omitempty"`
	Version   string     `json:"version,omitempty"`
	StreamSID string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
	DTMF      *DTMFInfo  `json:"dtmf,omitempty"`
	Stop      *StopInfo  `json:"stop,omitempty"`
	Mark      *MarkInfo  `json:"mark,omitempty"`
}

// MediaFormat describes the encoding of frames carried by this stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo is the payload of the "start" event: call metadata validated
// during the handshake.
type StartInfo struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaInfo is the payload of a "media" event: one 20 ms µ-law frame.
type MediaInfo struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`     // monotonic sequence number, as a string
	Timestamp string `json:"timestamp"` // ms since stream start, as a string
	Payload   string `json:"payload"`   // base64 µ-law, 160 bytes decoded
}

// DTMFInfo is the payload of a "dtmf" event.
type DTMFInfo struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// StopInfo is the payload of the terminal "stop" event.
type StopInfo struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// MarkInfo names an outbound mark, used to detect TTS flush completion.
type MarkInfo struct {
	Name string `json:"name"`
}

// Marshal serializes an Envelope as a single newline-delimited JSON line,
// including the trailing newline expected by the wire protocol.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal parses one newline-delimited JSON message into e. Trailing
// newlines are tolerated since some carriers send them and others don't.
func (e *Envelope) Unmarshal(data []byte) error {
	return json.Unmarshal(bytesTrimNewline(data), e)
}

func bytesTrimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// OutboundMedia builds an outbound "media" envelope echoing streamSid, per
// the outbound wire contract.
func OutboundMedia(streamSID string, payloadB64 string) Envelope {
	return Envelope{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaInfo{Track: "outbound", Payload: payloadB64},
	}
}

// OutboundMark builds an outbound "mark" envelope used to detect flush.
func OutboundMark(streamSID, name string) Envelope {
	return Envelope{Event: EventMark, StreamSID: streamSID, Mark: &MarkInfo{Name: name}}
}

// OutboundClear builds the "clear" envelope that flushes the far-side
// jitter buffer on barge-in.
func OutboundClear(streamSID string) Envelope {
	return Envelope{Event: EventClear, StreamSID: streamSID}
}
