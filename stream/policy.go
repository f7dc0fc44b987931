package stream

import "github.com/parlowe/omni/core"

const maskedErrorMessage = "an internal error occurred"

// Policy controls which events reach the wire and how error detail is
// handled. The zero Policy passes every event through unchanged.
type Policy struct {
	// DropStatus suppresses advisory status events. The correctness
	// contract does not depend on them.
	DropStatus bool
	// MaskErrors replaces the error event's message with a generic one
	// so upstream detail never leaks to untrusted callers.
	MaskErrors bool
	BufferSize int
}

func (p Policy) isZero() bool {
	return p == Policy{}
}

func filterEvent(policy Policy, event core.StreamEvent) (core.StreamEvent, bool) {
	if policy.isZero() {
		return event, true
	}
	if policy.DropStatus && event.Type == core.EventStatus {
		return core.StreamEvent{}, false
	}
	if policy.MaskErrors && event.Type == core.EventError {
		return maskError(event), true
	}
	return event, true
}

func maskError(event core.StreamEvent) core.StreamEvent {
	event.Message = maskedErrorMessage
	event.Error = nil
	return event
}
