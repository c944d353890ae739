// dialcheck drives automated test calls against a target voice agent: it
// terminates the telephony media stream, simulates a caller persona over a
// realtime speech model, and moderates the dialogue to a verdict.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dialcheck/dialcheck/internal/config"
	"github.com/dialcheck/dialcheck/internal/llm"
	"github.com/dialcheck/dialcheck/internal/log"
	"github.com/dialcheck/dialcheck/pkg/agent"
	"github.com/dialcheck/dialcheck/pkg/bridge"
	"github.com/dialcheck/dialcheck/pkg/pipeline"
	"github.com/dialcheck/dialcheck/pkg/realtime"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	factory, err := buildFactory(cfg)
	if err != nil {
		log.Error("setup error", "error", err)
		os.Exit(1)
	}

	server := bridge.NewServer(cfg.Server.Port, factory)

	go func() {
		log.Info("listening", "port", cfg.Server.Port)
		if err := server.Listen(); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// buildFactory wires credentials and pipeline components into each created
// call agent.
func buildFactory(cfg *config.Config) (bridge.AgentFactory, error) {
	completer := llm.NewOpenAI(cfg.OpenAI.APIKey, "")

	speech, err := pipeline.NewOpenAISpeech(pipeline.Config{
		APIKey:             cfg.OpenAI.APIKey,
		TranscriptionModel: cfg.Pipeline.TranscriptionModel,
		SpeechModel:        cfg.Pipeline.SpeechModel,
		Voice:              cfg.OpenAI.Voice,
	})
	if err != nil {
		return nil, err
	}

	return func(opts agent.Options) (*agent.Agent, error) {
		opts.Completer = completer
		opts.TextModel = cfg.OpenAI.TextModel
		opts.InactivityTimeout = cfg.Call.InactivityTimeout
		opts.GracePeriod = cfg.Call.GracePeriod
		opts.Session = realtime.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.RealtimeURL,
			Model:   cfg.OpenAI.RealtimeModel,
			Voice:   cfg.OpenAI.Voice,
		}
		opts.NewSession = func(sc realtime.Config) (realtime.Session, error) {
			return realtime.NewClient(sc)
		}
		opts.Text = &agent.TextComponents{
			Transcriber: speech,
			Synthesizer: speech,
		}
		if opts.Model != nil && opts.Model.Config.MaxTurns == 0 {
			opts.Model.Config.MaxTurns = cfg.Call.MaxTurns
		}
		return agent.New(opts)
	}, nil
}
