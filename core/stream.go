package core

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed indicates the stream has already been closed.
var ErrStreamClosed = errors.New("stream closed")

// EventType enumerates stream event types.
type EventType string

const (
	EventStatus           EventType = "status"
	EventChunk            EventType = "chunk"
	EventFileEdit         EventType = "file_edit"
	EventFileCreate       EventType = "file_create"
	EventResearchStep     EventType = "research_step"
	EventResearchComplete EventType = "research_complete"
	EventAudio            EventType = "audio"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// StepType classifies a research step for callers rendering progress.
type StepType string

const (
	StepThinking   StepType = "thinking"
	StepAnalysis   StepType = "analysis"
	StepSynthesis  StepType = "synthesis"
	StepConclusion StepType = "conclusion"
)

// ResearchStep records one completed stage of a research run.
type ResearchStep struct {
	Type    StepType `json:"type"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
}

// StreamEvent is the only value this module ever writes to a transport.
// One JSON object per wire frame; the populated fields depend on Type.
type StreamEvent struct {
	Type EventType `json:"type"`

	Message    string         `json:"message,omitempty"`
	Content    string         `json:"content,omitempty"`
	Path       string         `json:"path,omitempty"`
	Language   string         `json:"language,omitempty"`
	StepType   StepType       `json:"stepType,omitempty"`
	Steps      []ResearchStep `json:"steps,omitempty"`
	Confidence int            `json:"confidence,omitempty"`
	Data       string         `json:"data,omitempty"`
	Text       string         `json:"text,omitempty"`

	Error error `json:"-"`
}

// StatusEvent builds an advisory status event.
func StatusEvent(message string) StreamEvent {
	return StreamEvent{Type: EventStatus, Message: message}
}

// ChunkEvent builds an incremental text chunk event.
func ChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

// FileEvent builds a file_edit or file_create event for one parsed file.
func FileEvent(typ EventType, file FileContext) StreamEvent {
	return StreamEvent{Type: typ, Path: file.Path, Content: file.Content, Language: file.Language}
}

// AudioEvent builds a synthesized-speech event carrying base64 audio and
// the source text it was rendered from.
func AudioEvent(data, text string) StreamEvent {
	return StreamEvent{Type: EventAudio, Data: data, Text: text}
}

// ResearchStepEvent announces a research stage transition.
func ResearchStepEvent(step StepType, message string) StreamEvent {
	return StreamEvent{Type: EventResearchStep, StepType: step, Message: message}
}

// ResearchCompleteEvent carries the final research answer, the recorded
// steps, and the confidence score.
func ResearchCompleteEvent(content string, steps []ResearchStep, confidence int) StreamEvent {
	return StreamEvent{Type: EventResearchComplete, Content: content, Steps: steps, Confidence: confidence}
}

// Stream is the streaming transport contract: a buffered event channel
// with exactly-once terminal semantics. Producers call Push for
// incremental events and finish with exactly one of Finish or Fail; the
// consumer ranges over Events until the channel closes. Closing the
// stream (consumer gone) makes all further writes no-ops.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	events   chan StreamEvent
	err      error
	closed   bool
	finished bool
}

// NewStream constructs a Stream with the provided event buffer size.
func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	c, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:    c,
		cancel: cancel,
		events: make(chan StreamEvent, buffer),
	}
}

// Push appends a non-terminal event. Safe to call from multiple
// goroutines; dropped silently once the stream is closed. The read
// lock is held across the send so Close cannot close the channel while
// a send is in flight.
func (s *Stream) Push(event StreamEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

// Finish emits the single done event and closes the stream. Calling it
// after a terminal event already went out is a no-op.
func (s *Stream) Finish() {
	if !s.markFinished() {
		return
	}
	s.Push(StreamEvent{Type: EventDone})
	_ = s.Close()
}

// Fail records err, emits the single error event, and closes the stream.
// Chunks already emitted stay visible to the consumer; there is no
// rollback. A no-op after any terminal event.
func (s *Stream) Fail(err error) {
	if err == nil {
		return
	}
	if !s.markFinished() {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Push(StreamEvent{Type: EventError, Message: err.Error(), Error: err})
	_ = s.Close()
}

func (s *Stream) markFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return false
	}
	s.finished = true
	return true
}

// Close closes the event channel and cancels the stream context. The
// consumer calls it on disconnect; producers observe the cancellation
// and stop emitting promptly. The context is cancelled before taking
// the write lock so a Push parked on a full buffer wakes up and
// releases its read lock; the channel is then closed with no send in
// flight.
func (s *Stream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	close(s.events)
	return nil
}

// Events returns the read-only event channel.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err returns the terminal error, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed when the stream is closed or its parent context ends.
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Wait blocks until the stream is closed and returns the terminal error.
func (s *Stream) Wait() error {
	<-s.ctx.Done()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
