// Package bridge terminates telephony media streams and routes them to call
// agents. It speaks the websocket media-stream protocol used by programmable
// voice providers: JSON envelopes with start/media/stop events carrying
// base64 mu-law payloads.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Frame is one media-stream envelope in either direction.
type Frame struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Mark      *MarkFrame  `json:"mark,omitempty"`
}

// StartFrame opens a stream and binds it to a call.
type StartFrame struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat,omitempty"`
}

// MediaFormat declares the stream codec; mu-law at 8kHz is the only format
// the bridge accepts.
type MediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// MediaFrame carries one base64-encoded mu-law chunk.
type MediaFrame struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

// MarkFrame labels a position in the outbound stream so the provider can
// report playback progress.
type MarkFrame struct {
	Name string `json:"name"`
}

// markResponsePart is the mark sent once per settled utterance, after its
// last media frame.
const markResponsePart = "responsePart"

// Stream events.
const (
	eventStart = "start"
	eventMedia = "media"
	eventMark  = "mark"
	eventStop  = "stop"
)

// parseFrame decodes one inbound envelope.
func parseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("bridge: malformed frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("bridge: frame without event")
	}
	return f, nil
}

// callID extracts the call binding from a start frame: an explicit
// call_id parameter wins, then the call SID, then the stream SID.
func (s *StartFrame) callID() string {
	if id := s.CustomParameters["call_id"]; id != "" {
		return id
	}
	if s.CallSid != "" {
		return s.CallSid
	}
	return s.StreamSid
}

// audio decodes the media payload.
func (m *MediaFrame) audio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("bridge: malformed media payload: %w", err)
	}
	return data, nil
}

// mediaFrame builds an outbound media envelope.
func mediaFrame(streamSid string, mulaw []byte) Frame {
	return Frame{
		Event:     eventMedia,
		StreamSid: streamSid,
		Media:     &MediaFrame{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

// markFrame builds the outbound playback mark.
func markFrame(streamSid string) Frame {
	return Frame{
		Event:     eventMark,
		StreamSid: streamSid,
		Mark:      &MarkFrame{Name: markResponsePart},
	}
}
