// Package conversation turns caller utterances into spoken replies.
package conversation

import (
	"context"
	"errors"
)

var (
	ErrUnknownSession = errors.New("conversation: unknown session")
	ErrEmptyMessage   = errors.New("conversation: empty message")
)

// Channel describes where a message came from.
type Channel struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

const ChannelVoice = "voice"

type Message struct {
	SessionID string  `json:"session_id"`
	TenantID  string  `json:"tenant_id,omitempty"`
	Sender    string  `json:"sender"`
	Text      string  `json:"text"`
	Channel   Channel `json:"channel"`
}

// Engine is the conversational backend consumed by the call layer.
type Engine interface {
	CreateSession(ctx context.Context, tenantID string) (string, error)
	Reply(ctx context.Context, msg Message) (string, error)
	EndSession(ctx context.Context, sessionID string)
}
