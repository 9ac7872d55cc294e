package domain

import (
	"strings"
	"time"
)

const PlainTextContentType = "text/plain"

type MessageBody struct {
	ContentType string `json:"content_type" validate:"required,max=128"`
	Message     string `json:"message" validate:"max=65536"`
}

func PlainTextBody(text string) MessageBody {
	return MessageBody{ContentType: PlainTextContentType, Message: text}
}

// Message is a timestamped note, either attached to a modification request
// or sent on its own.
type Message struct {
	ID        int64          `json:"id"`
	Account   DirectoryEntry `json:"account"`
	Timestamp time.Time      `json:"timestamp"`
	Bodies    []MessageBody  `json:"bodies" validate:"dive"`
}

// Normalize returns a copy of m holding at least one body.
func (m Message) Normalize() Message {
	if len(m.Bodies) == 0 {
		m.Bodies = []MessageBody{PlainTextBody("")}
		return m
	}
	bodies := make([]MessageBody, len(m.Bodies))
	copy(bodies, m.Bodies)
	for i := range bodies {
		if bodies[i].ContentType == "" {
			bodies[i].ContentType = PlainTextContentType
		}
	}
	m.Bodies = bodies
	return m
}

// HasText reports whether any body carries non-blank text.
func (m Message) HasText() bool {
	for _, body := range m.Bodies {
		if strings.TrimSpace(body.Message) != "" {
			return true
		}
	}
	return false
}

// Body returns the first body, synthesizing an empty one if there is none.
func (m Message) Body() MessageBody {
	if len(m.Bodies) == 0 {
		return PlainTextBody("")
	}
	return m.Bodies[0]
}
