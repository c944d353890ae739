package bridge

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcheck/dialcheck/internal/metrics"
	"github.com/dialcheck/dialcheck/pkg/agent"
	"github.com/dialcheck/dialcheck/pkg/hub"
)

// AgentFactory finishes an agent from server-built options, typically by
// attaching credentials and calling agent.New.
type AgentFactory func(opts agent.Options) (*agent.Agent, error)

// Server is the HTTP and websocket front of the harness: call management,
// the media-stream endpoint, and the monitor socket.
type Server struct {
	app      *fiber.App
	port     string
	registry *agent.Registry
	monitor  *hub.Hub
	factory  AgentFactory

	// streams maps call ID to the live media connection.
	streamsMu sync.Mutex
	streams   map[string]*mediaStream
}

// NewServer wires the routes. The factory is invoked once per created call.
func NewServer(port string, factory AgentFactory) *Server {
	s := &Server{
		port:     port,
		registry: agent.NewRegistry(),
		monitor:  hub.New("monitor"),
		factory:  factory,
		streams:  make(map[string]*mediaStream),
	}

	metrics.SetQueueDepthSource(func() float64 {
		var depth float64
		s.registry.Each(func(a *agent.Agent) {
			depth += float64(a.QueueDepth())
		})
		return depth
	})

	app := fiber.New(fiber.Config{
		AppName:               "dialcheck",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Post("/calls", s.handleCreateCall)
	app.Get("/calls", s.handleListCalls)
	app.Get("/calls/:id", s.handleGetCall)
	app.Delete("/calls/:id", s.handleStopCall)
	app.Get("/calls/:id/transcript", s.handleTranscript)
	app.Get("/calls/:id/audio", s.handleAudio)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/media", upgradeRequired)
	app.Get("/media", websocket.New(s.handleMedia))

	app.Use("/monitor", upgradeRequired)
	app.Get("/monitor", websocket.New(s.handleMonitor))

	s.app = app
	return s
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Registry exposes the call registry, e.g. for shutdown sweeps.
func (s *Server) Registry() *agent.Registry { return s.registry }

// Monitor exposes the event hub.
func (s *Server) Monitor() *hub.Hub { return s.monitor }

// Listen starts the hub and serves until Shutdown.
func (s *Server) Listen() error {
	go s.monitor.Run()
	return s.app.Listen(":" + s.port)
}

// Shutdown stops every live call, then the hub, then the listener.
func (s *Server) Shutdown() error {
	s.registry.Each(func(a *agent.Agent) {
		_ = a.Stop()
	})
	s.monitor.Stop()
	return s.app.Shutdown()
}

func (s *Server) bindStream(callID string, ms *mediaStream) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	s.streams[callID] = ms
}

func (s *Server) unbindStream(callID string, ms *mediaStream) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.streams[callID] == ms {
		delete(s.streams, callID)
	}
}

func (s *Server) stream(callID string) *mediaStream {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return s.streams[callID]
}
