package hub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventEncoding(t *testing.T) {
	e := NewEvent(EventTranscript, "call-1")
	e.Role = "assistant"
	e.Text = "one moment please"
	e.Turn = 4

	data, err := e.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != EventTranscript {
		t.Errorf("unexpected type %v", decoded["type"])
	}
	if decoded["call_id"] != "call-1" {
		t.Errorf("unexpected call_id %v", decoded["call_id"])
	}
	if decoded["turn"] != float64(4) {
		t.Errorf("unexpected turn %v", decoded["turn"])
	}
	if _, ok := decoded["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestHubLifecycle(t *testing.T) {
	h := New("test")
	if h.IsRunning() {
		t.Error("hub running before Run")
	}
	if h.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", h.ClientCount())
	}

	go h.Run()
	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !h.IsRunning() {
		t.Fatal("hub did not start")
	}

	// Broadcast with no clients must not block.
	if err := h.BroadcastEvent(NewEvent(EventCallStarted, "call-2")); err != nil {
		t.Fatalf("BroadcastEvent: %v", err)
	}

	h.Stop()
	deadline = time.Now().Add(time.Second)
	for h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.IsRunning() {
		t.Error("hub still running after Stop")
	}
}
