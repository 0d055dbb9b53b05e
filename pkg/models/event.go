package models

import "time"

// Event is one entry of a ticket's replayable history. It is implemented
// only by CommentEvent, FieldChangeEvent and AttachmentEvent.
type Event interface {
	// When returns the time the event happened in the source tracker.
	When() time.Time

	isEvent()
}

// CommentEvent wraps a Comment for replay.
type CommentEvent struct {
	Comment
}

// FieldChangeEvent wraps a FieldChange for replay.
type FieldChangeEvent struct {
	FieldChange
}

// AttachmentEvent wraps an Attachment for replay.
type AttachmentEvent struct {
	Attachment
}

func (e CommentEvent) When() time.Time     { return e.Time }
func (e FieldChangeEvent) When() time.Time { return e.Time }
func (e AttachmentEvent) When() time.Time  { return e.Time }

func (CommentEvent) isEvent()     {}
func (FieldChangeEvent) isEvent() {}
func (AttachmentEvent) isEvent()  {}
