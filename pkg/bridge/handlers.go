package bridge

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/dialcheck/dialcheck/internal/log"
	"github.com/dialcheck/dialcheck/internal/metrics"
	"github.com/dialcheck/dialcheck/pkg/agent"
	"github.com/dialcheck/dialcheck/pkg/hub"
	"github.com/dialcheck/dialcheck/pkg/persona"
)

// CreateCallRequest is the body of POST /calls.
type CreateCallRequest struct {
	Instructions  string `json:"instructions"`
	Mode          string `json:"mode,omitempty"` // "speech" (default) or "text"
	Language      string `json:"language,omitempty"`
	Voice         string `json:"voice,omitempty"`
	MaxTurns      int    `json:"max_turns,omitempty"`
	Posture       string `json:"posture,omitempty"`
	CustomPosture string `json:"custom_posture,omitempty"`
}

func (s *Server) handleCreateCall(c *fiber.Ctx) error {
	var req CreateCallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if req.Instructions == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "instructions are required"})
	}

	opts := s.baseOptions(req)
	a, err := s.factory(opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if err := a.Start(context.Background()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	s.registry.Insert(a)
	metrics.CallsStarted.Inc()
	metrics.ActiveCalls.Inc()
	s.monitor.BroadcastEvent(hub.NewEvent(hub.EventCallStarted, a.ID()))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"call_id": a.ID(),
		"state":   a.State().String(),
	})
}

// baseOptions maps the request onto agent options; the factory adds
// credentials and pipeline components. The call ID is assigned here so the
// event callbacks can close over it.
func (s *Server) baseOptions(req CreateCallRequest) agent.Options {
	mode := agent.ModeSpeechToSpeech
	if req.Mode == "text" {
		mode = agent.ModeTextPipeline
	}

	model := agent.DefaultModelInstance()
	if req.Voice != "" {
		model.Voice = req.Voice
	}
	if req.Language != "" {
		model.Config.Language = req.Language
	}
	if req.MaxTurns > 0 {
		model.Config.MaxTurns = req.MaxTurns
	}
	if req.Posture != "" {
		model.Config.Posture = persona.Posture(req.Posture)
	}
	model.Config.CustomPosture = req.CustomPosture

	callID := uuid.NewString()
	return agent.Options{
		CallID:       callID,
		Mode:         mode,
		Instructions: req.Instructions,
		Model:        &model,

		OnAudioOut: func(mulaw []byte) {
			metrics.FramesOut.Inc()
			if ms := s.stream(callID); ms != nil {
				if err := ms.writeAudio(mulaw); err != nil {
					log.Warn("media write failed", "call_id", callID, "error", err)
				}
			}
			s.monitor.BroadcastBinary(mulaw)
		},
		OnTranscript: func(item agent.ConversationItem) {
			e := hub.NewEvent(hub.EventTranscript, callID)
			e.Role = item.Role
			e.Text = item.Content
			s.monitor.BroadcastEvent(e)
		},
		OnUtteranceEnd: func() {
			if ms := s.stream(callID); ms != nil {
				if err := ms.writeMark(); err != nil {
					log.Warn("mark write failed", "call_id", callID, "error", err)
				}
			}
		},
		OnError: func(err error) {
			e := hub.NewEvent(hub.EventCallError, callID)
			e.Reason = err.Error()
			s.monitor.BroadcastEvent(e)
		},
		OnStopped: func(sum agent.Summary) {
			metrics.ActiveCalls.Dec()
			metrics.CallsStopped.WithLabelValues(metrics.StopReason(sum.Reason)).Inc()
			s.registry.Remove(callID)

			e := hub.NewEvent(hub.EventCallStopped, callID)
			e.Turn = sum.Turns
			e.Reason = sum.Reason
			s.monitor.BroadcastEvent(e)
		},
	}
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	type callInfo struct {
		CallID string `json:"call_id"`
		State  string `json:"state"`
		Turns  int    `json:"turns"`
	}
	calls := make([]callInfo, 0)
	s.registry.Each(func(a *agent.Agent) {
		calls = append(calls, callInfo{
			CallID: a.ID(),
			State:  a.State().String(),
			Turns:  a.TurnIndex(),
		})
	})
	return c.JSON(calls)
}

func (s *Server) handleGetCall(c *fiber.Ctx) error {
	a := s.registry.Lookup(c.Params("id"))
	if a == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown call"})
	}
	return c.JSON(fiber.Map{
		"call_id":     a.ID(),
		"state":       a.State().String(),
		"turns":       a.TurnIndex(),
		"queue_depth": a.QueueDepth(),
	})
}

func (s *Server) handleStopCall(c *fiber.Ctx) error {
	a := s.registry.Lookup(c.Params("id"))
	if a == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown call"})
	}
	if err := a.Stop(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"call_id": a.ID(), "state": a.State().String()})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	a := s.registry.Lookup(c.Params("id"))
	if a == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown call"})
	}
	return c.JSON(a.Transcript())
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	a := s.registry.Lookup(c.Params("id"))
	if a == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown call"})
	}
	c.Set(fiber.HeaderContentType, "audio/basic")
	return c.Send(a.Audio())
}

// jsonWriter is the slice of the websocket connection the outbound path
// uses.
type jsonWriter interface {
	WriteJSON(v interface{}) error
}

// mediaStream is one live media websocket. The mutex serializes writes; the
// agent's audio callback and the read loop both touch the connection.
type mediaStream struct {
	conn jsonWriter
	mu   sync.Mutex
	sid  string
}

// writeAudio sends one synthesized chunk.
func (ms *mediaStream) writeAudio(mulaw []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.conn.WriteJSON(mediaFrame(ms.sid, mulaw))
}

// writeMark signals end-of-utterance so the provider can track playback.
func (ms *mediaStream) writeMark() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.conn.WriteJSON(markFrame(ms.sid))
}

// handleMedia runs one media-stream connection. The stream binds to a call
// on the start event and feeds frames to that call's agent until stop or
// disconnect.
func (s *Server) handleMedia(c *websocket.Conn) {
	ms := &mediaStream{conn: c}
	var bound *agent.Agent
	var callID string

	defer func() {
		if bound != nil {
			s.unbindStream(callID, ms)
		}
		c.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		frame, err := parseFrame(data)
		if err != nil {
			log.Warn("dropping malformed media frame", "error", err)
			continue
		}

		switch frame.Event {
		case eventStart:
			if frame.Start == nil {
				log.Warn("start frame without start payload")
				continue
			}
			callID = frame.Start.callID()
			bound = s.registry.Lookup(callID)
			if bound == nil {
				log.Warn("media stream for unknown call", "call_id", callID)
				return
			}
			ms.sid = frame.Start.StreamSid
			s.bindStream(callID, ms)
			log.Info("media stream bound", "call_id", callID, "stream_sid", ms.sid)

		case eventMedia:
			if bound == nil || frame.Media == nil {
				continue
			}
			audio, err := frame.Media.audio()
			if err != nil {
				log.Warn("dropping malformed media payload", "call_id", callID, "error", err)
				continue
			}
			metrics.FramesIn.Inc()
			bound.EnqueueAudio(agent.AudioChunk{Data: audio, StreamID: ms.sid})

		case eventStop:
			if bound != nil {
				log.Info("media stream stopped", "call_id", callID)
				if err := bound.Stop(); err != nil {
					log.Warn("stop after stream end", "call_id", callID, "error", err)
				}
			}
			return
		}
	}
}

// handleMonitor attaches one monitoring client to the event hub.
func (s *Server) handleMonitor(c *websocket.Conn) {
	client := hub.NewClient(s.monitor, c)
	client.Run()
}
