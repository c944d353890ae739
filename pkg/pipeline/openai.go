package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dialcheck/dialcheck/internal/httpc"
	"github.com/dialcheck/dialcheck/pkg/g711"
)

const (
	defaultBaseURL            = "https://api.openai.com/v1"
	defaultTranscriptionModel = "whisper-1"
	defaultSpeechModel        = "tts-1"
	defaultVoice              = "alloy"
	defaultTimeout            = 30 * time.Second

	telephonyRate = 8000
)

// Config holds the shared settings for the OpenAI speech endpoints.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	Language           string
	Timeout            time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = defaultTranscriptionModel
	}
	if c.SpeechModel == "" {
		c.SpeechModel = defaultSpeechModel
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// OpenAISpeech implements Transcriber and Synthesizer against the OpenAI
// audio endpoints over plain HTTP.
type OpenAISpeech struct {
	cfg    Config
	client *http.Client
}

func NewOpenAISpeech(cfg Config) (*OpenAISpeech, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults()
	return &OpenAISpeech{
		cfg:    cfg,
		client: httpc.NewClient(cfg.Timeout),
	}, nil
}

// Transcribe uploads the burst as a WAV file and returns the recognized
// text. The mu-law input is expanded to 16-bit PCM first since the endpoint
// does not accept raw G.711.
func (s *OpenAISpeech) Transcribe(ctx context.Context, mulaw []byte) (string, error) {
	if len(mulaw) == 0 {
		return "", ErrEmptyAudio
	}
	wav := wrapWAV(g711.MulawToPCM8k(mulaw), telephonyRate)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("pipeline: build form: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("pipeline: write audio: %w", err)
	}
	if err := writer.WriteField("model", s.cfg.TranscriptionModel); err != nil {
		return "", fmt.Errorf("pipeline: write field: %w", err)
	}
	if s.cfg.Language != "" {
		if err := writer.WriteField("language", s.cfg.Language); err != nil {
			return "", fmt.Errorf("pipeline: write field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("pipeline: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("pipeline: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	body, err := s.do(req)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("pipeline: parse transcription: %w", err)
	}
	return parsed.Text, nil
}

// Synthesize renders text as speech and returns it as 8kHz mu-law. The
// endpoint is asked for raw 24kHz PCM, which is then downsampled and
// companded for the telephony leg.
func (s *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	payload, err := json.Marshal(map[string]string{
		"model":           s.cfg.SpeechModel,
		"input":           text,
		"voice":           s.cfg.Voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pipeline: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	pcm, err := s.do(req)
	if err != nil {
		return nil, err
	}
	return g711.PCM24kToMulaw8k(pcm), nil
}

func (s *OpenAISpeech) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pipeline: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var (
	_ Transcriber = (*OpenAISpeech)(nil)
	_ Synthesizer = (*OpenAISpeech)(nil)
)
