package realtime

import (
	"context"
	"sync"
)

// Mock is an in-memory Session for tests. It records sent audio and lets
// tests simulate upstream events.
type Mock struct {
	mu    sync.Mutex
	state ConnectionState

	// AudioSent records every frame that passed the gate, in order.
	AudioSent [][]byte

	// ConnectErr, when set, is returned from Connect.
	ConnectErr error

	// Disconnects counts Disconnect invocations that performed cleanup.
	Disconnects int

	// SilenceGate applies the client's silence gate when true.
	SilenceGate bool

	onAudio      func(mulaw []byte)
	onTranscript func(item TranscriptItem)
	onAudioDone  func()
	onError      func(err error)
}

// NewMock creates a mock session that becomes Ready immediately on Connect.
func NewMock() *Mock {
	return &Mock{state: StateDisconnected}
}

// Connect transitions the mock to Ready unless ConnectErr is set.
func (m *Mock) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.state = StateReady
	return nil
}

// SetState forces a connection state, e.g. to simulate slow negotiation.
func (m *Mock) SetState(s ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// Ready reports whether the mock is in the Ready state.
func (m *Mock) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady
}

// State returns the current state.
func (m *Mock) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SendAudio records the frame. With SilenceGate set, silent frames are
// dropped exactly like the real client drops them.
func (m *Mock) SendAudio(mulaw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return ErrNotConnected
	}
	if m.SilenceGate && silent(mulaw) {
		return nil
	}
	m.AudioSent = append(m.AudioSent, mulaw)
	return nil
}

// Sent returns a copy of the recorded frames, safe to read while a drain
// loop is still sending.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.AudioSent))
	copy(out, m.AudioSent)
	return out
}

// OnAudio sets the audio callback.
func (m *Mock) OnAudio(fn func(mulaw []byte)) { m.onAudio = fn }

// OnTranscript sets the transcript callback.
func (m *Mock) OnTranscript(fn func(item TranscriptItem)) { m.onTranscript = fn }

// OnAudioDone sets the end-of-turn callback.
func (m *Mock) OnAudioDone(fn func()) { m.onAudioDone = fn }

// OnError sets the error callback.
func (m *Mock) OnError(fn func(err error)) { m.onError = fn }

// Disconnect transitions to Disconnected; only the first call counts as
// cleanup.
func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisconnected {
		return nil
	}
	m.state = StateDisconnected
	m.Disconnects++
	return nil
}

// SimulateAudio fires the audio callback as if a delta arrived.
func (m *Mock) SimulateAudio(mulaw []byte) {
	if m.onAudio != nil {
		m.onAudio(mulaw)
	}
}

// SimulateTranscript fires the transcript callback.
func (m *Mock) SimulateTranscript(role, text string) {
	if m.onTranscript != nil {
		m.onTranscript(TranscriptItem{Role: role, Text: text})
	}
}

// SimulateAudioDone fires the end-of-turn callback.
func (m *Mock) SimulateAudioDone() {
	if m.onAudioDone != nil {
		m.onAudioDone()
	}
}

// SimulateError fires the error callback.
func (m *Mock) SimulateError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// Ensure Mock implements Session at compile time.
var _ Session = (*Mock)(nil)
