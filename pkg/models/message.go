// Package models provides the domain types shared across the Switchyard gateway.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates the content-block union.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolInput  BlockKind = "tool_input"
	BlockToolOutput BlockKind = "tool_output"
)

// ContentBlock is one element of a message's structured content.
// Exactly one payload field should be set for a given Kind.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// Text payload (BlockText).
	Text string `json:"text,omitempty"`

	// Image payload (BlockImage).
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`

	// Tool payloads (BlockToolInput / BlockToolOutput).
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// Message is a single entry in a session's conversation context.
// Messages are append-only within a session.
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// Text returns the plain-text view of the message: Content when set,
// otherwise the concatenation of text blocks.
func (m *Message) Text() string {
	if m.Content != "" || len(m.Blocks) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Kind == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ToolCall is a provider's request to execute a tool. The result is appended
// as a subsequent tool-role Message carrying the same ID.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Content    string         `json:"content"`
	IsError    bool           `json:"is_error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition describes a callable tool to a provider.
// Definitions are read-only once registered.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Attachment is a file or media item carried by an inbound message.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Sender identifies the origin of an inbound message. A non-empty GroupID
// marks group conversations; DMs leave it empty.
type Sender struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}

// InboundMessage is the channel-neutral form of a platform event.
type InboundMessage struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	From        Sender       `json:"from"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Raw         any          `json:"-"`
}

// ContextKey returns the stable session-routing key for the sender,
// "channel:user" or "channel:user:group".
func (m *InboundMessage) ContextKey() string {
	key := m.ChannelID + ":" + m.From.UserID
	if m.From.GroupID != "" {
		key += ":" + m.From.GroupID
	}
	return key
}

// OutboundMessage is text (plus optional attachments) headed to a channel.
type OutboundMessage struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResult reports the outcome of a channel send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
