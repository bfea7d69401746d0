// Package types provides core types used across llamachat.
// This package has ZERO dependencies on other llamachat packages to avoid circular imports.
package types

import "strings"

// Role represents the role of a message participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents one conversation turn.
// A Message is treated as immutable once it has been appended to a history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a new user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant turn.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// WordCount returns the number of whitespace-separated words in the content.
func (m Message) WordCount() int {
	return len(strings.Fields(m.Content))
}

// CloneMessages returns a copy of msgs that shares no backing array with it.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
