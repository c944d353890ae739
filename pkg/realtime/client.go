package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialcheck/dialcheck/internal/log"
	"github.com/dialcheck/dialcheck/internal/metrics"
	"github.com/dialcheck/dialcheck/pkg/g711"
)

const (
	// silenceThreshold is the maximum decoded deviation from the codec
	// mid-point for a sample to still count as silence.
	silenceThreshold = 512

	// interSendDelay yields between consecutive audio sends.
	interSendDelay = 2 * time.Millisecond

	handshakeTimeout = 10 * time.Second
)

// Client is the realtime Session implementation over gorilla/websocket.
type Client struct {
	config Config

	ws   *websocket.Conn
	wsMu sync.Mutex

	mu     sync.RWMutex
	state  ConnectionState
	closed bool

	onAudio      func(mulaw []byte)
	onTranscript func(item TranscriptItem)
	onAudioDone  func()
	onError      func(err error)
}

// NewClient creates a realtime client for the given session configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{config: cfg.withDefaults(), state: StateDisconnected}, nil
}

// Connect dials the endpoint, sends the session configuration, and starts
// the read loop. The session is Ready only after the acknowledgement
// confirms every declared parameter.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.closed = false
	c.mu.Unlock()

	url := fmt.Sprintf("%s?model=%s", c.config.BaseURL, c.config.Model)

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()

	if err := c.sendJSON(c.sessionUpdate()); err != nil {
		c.Disconnect()
		return fmt.Errorf("realtime: session configuration: %w", err)
	}
	c.setState(StateSessionNegotiating)

	go c.handleMessages()

	return nil
}

// sessionUpdate builds the configuration message declared to the endpoint.
func (c *Client) sessionUpdate() map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        c.config.Instructions,
			"voice":               c.config.Voice,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"input_audio_transcription": map[string]any{
				"model": c.config.TranscriptionModel,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           c.config.VADThreshold,
				"silence_duration_ms": int(c.config.VADSilence.Milliseconds()),
				"create_response":     true,
			},
		},
	}
}

// Ready reports whether the session acknowledged the configuration.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateReady && !c.closed
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SendAudio transmits one 8kHz mu-law frame. Frames inside the silence gate
// are dropped without touching the wire; a short fixed delay after each send
// yields control between sends.
func (c *Client) SendAudio(mulaw []byte) error {
	if !c.Ready() {
		return ErrNotConnected
	}
	if silent(mulaw) {
		metrics.SilentFrames.Inc()
		return nil
	}

	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(mulaw),
	}
	if err := c.sendJSON(msg); err != nil {
		return err
	}
	time.Sleep(interSendDelay)
	return nil
}

// silent reports whether every sample in the frame sits within the silence
// threshold of the codec mid-point.
func silent(mulaw []byte) bool {
	for _, b := range mulaw {
		d := int(g711.DecodeSample(b))
		if d < 0 {
			d = -d
		}
		if d >= silenceThreshold {
			return false
		}
	}
	return true
}

// OnAudio sets the callback for synthesized audio deltas.
func (c *Client) OnAudio(fn func(mulaw []byte)) { c.onAudio = fn }

// OnTranscript sets the callback for normalized transcript events.
func (c *Client) OnTranscript(fn func(item TranscriptItem)) { c.onTranscript = fn }

// OnAudioDone sets the callback for the end-of-turn signal.
func (c *Client) OnAudioDone(fn func()) { c.onAudioDone = fn }

// OnError sets the callback for transport errors.
func (c *Client) OnError(fn func(err error)) { c.onError = fn }

// Disconnect closes the session. Repeated calls are no-ops.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	c.mu.Unlock()

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

// handleMessages processes incoming WebSocket messages, one handler per
// event type. Unknown types are ignored.
func (c *Client) handleMessages() {
	for {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.emitError(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "session.created":
			log.Debug("realtime session created")

		case "session.updated":
			session, _ := msg["session"].(map[string]any)
			if c.ackMatches(session) {
				c.setState(StateReady)
				log.Debug("realtime session ready")
			} else {
				log.Warn("realtime session acknowledgement mismatch, staying in negotiation")
			}

		case "response.audio.delta":
			if delta, ok := msg["delta"].(string); ok && c.onAudio != nil {
				if audio, err := base64.StdEncoding.DecodeString(delta); err == nil {
					c.onAudio(audio)
				}
			}

		case "conversation.item.input_audio_transcription.completed":
			if text, ok := msg["transcript"].(string); ok {
				c.emitTranscript(TranscriptItem{Role: "user", Text: text})
			}

		case "response.audio_transcript.done":
			if text, ok := msg["transcript"].(string); ok {
				c.emitTranscript(TranscriptItem{Role: "assistant", Text: text})
			}

		case "response.text.done":
			if text, ok := msg["text"].(string); ok {
				c.emitTranscript(TranscriptItem{Role: "assistant", Text: text})
			}

		case "response.audio.done":
			if c.onAudioDone != nil {
				c.onAudioDone()
			}

		case "response.done":
			if details := responseError(msg); details != "" {
				c.emitError(fmt.Errorf("realtime: response failed: %s", details))
			}

		case "error":
			if errData, ok := msg["error"].(map[string]any); ok {
				message, _ := errData["message"].(string)
				c.emitError(fmt.Errorf("realtime: upstream error: %s", message))
			}
		}
	}
}

// ackMatches verifies that the acknowledgement confirms every parameter the
// configuration declared. A partial or mismatched acknowledgement must not
// flip readiness.
func (c *Client) ackMatches(session map[string]any) bool {
	if session == nil {
		return false
	}
	if voice, _ := session["voice"].(string); voice != c.config.Voice {
		return false
	}
	if f, _ := session["input_audio_format"].(string); f != "g711_ulaw" {
		return false
	}
	if f, _ := session["output_audio_format"].(string); f != "g711_ulaw" {
		return false
	}

	modalities, _ := session["modalities"].([]any)
	seen := map[string]bool{}
	for _, m := range modalities {
		if s, ok := m.(string); ok {
			seen[s] = true
		}
	}
	if !seen["text"] || !seen["audio"] {
		return false
	}

	td, _ := session["turn_detection"].(map[string]any)
	if td == nil {
		return false
	}
	if typ, _ := td["type"].(string); typ != "server_vad" {
		return false
	}
	if threshold, _ := td["threshold"].(float64); threshold != c.config.VADThreshold {
		return false
	}
	if silence, _ := td["silence_duration_ms"].(float64); int(silence) != int(c.config.VADSilence.Milliseconds()) {
		return false
	}

	tr, _ := session["input_audio_transcription"].(map[string]any)
	if tr == nil {
		return false
	}
	if model, _ := tr["model"].(string); model != c.config.TranscriptionModel {
		return false
	}
	return true
}

// responseError extracts an error embedded in a response.done payload.
func responseError(msg map[string]any) string {
	response, _ := msg["response"].(map[string]any)
	if response == nil {
		return ""
	}
	details, _ := response["status_details"].(map[string]any)
	if details == nil {
		return ""
	}
	errData, _ := details["error"].(map[string]any)
	if errData == nil {
		return ""
	}
	message, _ := errData["message"].(string)
	if message == "" {
		message, _ = errData["type"].(string)
	}
	return message
}

func (c *Client) emitTranscript(item TranscriptItem) {
	if c.onTranscript != nil {
		c.onTranscript(item)
	}
}

func (c *Client) emitError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// sendJSON sends a JSON message over the WebSocket.
func (c *Client) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteJSON(v)
}

// Ensure Client implements Session at compile time.
var _ Session = (*Client)(nil)
