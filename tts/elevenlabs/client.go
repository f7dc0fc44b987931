// Package elevenlabs provides an ElevenLabs speech-synthesis adapter.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parlowe/omni/core"
	"github.com/parlowe/omni/internal/httpclient"
	"github.com/parlowe/omni/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoice   = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

// wellKnownVoices maps friendly names to ElevenLabs voice IDs.
var wellKnownVoices = map[string]string{
	"rachel": "21m00Tcm4TlvDq8ikWAM",
	"adam":   "pNInz6obpgDQGcFmaJgB",
	"bella":  "EXAVITQu4vr4xnSDxMaL",
	"josh":   "TxGEqnHWrfWFTfGW9XjX",
	"daniel": "onwK4e9ZLuTAKqWW03F9",
	"lily":   "pFZP5JQG7iQjIQuC4Bku",
}

// Client is an ElevenLabs TTS provider.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
	voice      string
}

// Option configures an ElevenLabs client.
type Option func(*Client)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// New creates a new ElevenLabs client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		voice:   defaultVoice,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New(httpclient.WithTimeout(90 * time.Second))
	}
	return c
}

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// Voices lists the well-known voices.
func (c *Client) Voices() []tts.Voice {
	voices := make([]tts.Voice, 0, len(wellKnownVoices))
	for name, id := range wellKnownVoices {
		voices = append(voices, tts.Voice{ID: id, Name: name, Language: "en"})
	}
	return voices
}

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Provider.
func (c *Client) Synthesize(ctx context.Context, text string, opts tts.Options) (*tts.Audio, error) {
	if !c.Available() {
		return nil, core.NewError(core.ErrProviderUnavailable, "elevenlabs: api key not configured")
	}

	voiceID := c.resolveVoice(opts.Voice)
	body := synthesizeRequest{
		Text:    text,
		ModelID: c.resolveModel(opts.Model),
	}
	if opts.Speed != 0 {
		body.VoiceSettings = &voiceSettings{Speed: opts.Speed}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	format := c.resolveFormat(opts.Format)
	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, voiceID, format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "elevenlabs: request failed", core.WithWrapped(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, core.NewError(core.ErrProviderUnavailable,
			fmt.Sprintf("elevenlabs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			core.WithStatus(resp.StatusCode))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	outFormat := opts.Format
	if outFormat == "" {
		outFormat = tts.FormatMP3
	}
	return &tts.Audio{
		Data:     audio,
		Format:   outFormat,
		Voice:    voiceID,
		Model:    body.ModelID,
		Provider: "elevenlabs",
	}, nil
}

func (c *Client) resolveVoice(voice string) string {
	if voice == "" {
		return c.voice
	}
	if id, ok := wellKnownVoices[strings.ToLower(voice)]; ok {
		return id
	}
	return voice
}

func (c *Client) resolveModel(model string) string {
	if model == "" {
		return c.model
	}
	return model
}

func (c *Client) resolveFormat(format tts.AudioFormat) string {
	switch format {
	case tts.FormatPCM:
		return "pcm_44100"
	case tts.FormatWAV:
		return "pcm_16000"
	default:
		return "mp3_44100_128"
	}
}
