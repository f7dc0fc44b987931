// Package tts defines the speech-synthesis provider contract.
package tts

import "context"

// Provider is the interface for text-to-speech adapters. Synthesis is a
// single blocking call returning the full audio payload; availability is
// gated solely on configured credentials.
type Provider interface {
	Synthesize(ctx context.Context, text string, opts Options) (*Audio, error)
	Available() bool
	Voices() []Voice
}

// Options configures a synthesis request.
type Options struct {
	Voice  string      // Voice identifier; empty uses the provider default
	Model  string      // Model identifier for providers with multiple models
	Speed  float64     // Speech speed multiplier (0 uses default)
	Format AudioFormat // Output audio format
}

// Voice represents an available voice.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// Audio represents synthesized audio.
type Audio struct {
	Data     []byte
	Format   AudioFormat
	Voice    string
	Model    string
	Provider string
}

// AudioFormat specifies the audio output format.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
)
