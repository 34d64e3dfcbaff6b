package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an assistant entry produced by a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusError    RunStatus = "error"
)

// AgentStatus is the project-level run state shown by the studio.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusError   AgentStatus = "error"
)

// ChatEntry is one element of a project's agent_chat. Plain conversation
// messages only carry role, content and timestamp; entries written by an
// agent run also carry stream items, tool calls, status and usage.
type ChatEntry struct {
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	StreamItems []StreamItem     `json:"stream_items,omitempty"`
	ToolCalls   []ToolCallRecord `json:"tool_calls,omitempty"`
	Status      RunStatus        `json:"status,omitempty"`
	Usage       *RunUsage        `json:"usage,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// IsRunning reports whether the entry is an in-flight run transcript.
func (e ChatEntry) IsRunning() bool {
	return e.Role == RoleAssistant && e.Status == RunStatusRunning
}

// StreamItemType tags the StreamItem union.
type StreamItemType string

const (
	StreamItemText StreamItemType = "text"
	StreamItemTool StreamItemType = "tool"
)

// StreamItem is either a run of assistant text or one tool invocation, in
// the order the provider produced them. Args and Result are nil until the
// provider (or tool) has delivered them.
type StreamItem struct {
	Type    StreamItemType  `json:"type"`
	Content string          `json:"content,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  *string         `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// ToolCallRecord is the per-call summary kept alongside the stream items.
// Records are stored in first-appearance order and looked up by ID.
type ToolCallRecord struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  *string         `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// RunUsage is the token and cost summary attached to a completed run.
type RunUsage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Model            string  `json:"model"`
	Cost             float64 `json:"cost"`
}

// NowMillis returns t as a unix millisecond timestamp, the format used for
// chat entry timestamps.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// ConversationHistory returns the entries worth replaying to a provider:
// user messages and assistant messages with non-empty content.
func ConversationHistory(entries []ChatEntry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Role == RoleUser:
		case e.Role == RoleAssistant && e.Content != "":
		default:
			continue
		}
		out = append(out, Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// CloneEntries deep-copies a chat slice so callers can mutate the copy
// without touching shared state.
func CloneEntries(entries []ChatEntry) []ChatEntry {
	if entries == nil {
		return nil
	}
	out := make([]ChatEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// Clone returns a deep copy of the entry.
func (e ChatEntry) Clone() ChatEntry {
	c := e
	if e.StreamItems != nil {
		c.StreamItems = make([]StreamItem, len(e.StreamItems))
		for i, item := range e.StreamItems {
			item.Args = cloneRaw(item.Args)
			item.Result = cloneString(item.Result)
			c.StreamItems[i] = item
		}
	}
	if e.ToolCalls != nil {
		c.ToolCalls = make([]ToolCallRecord, len(e.ToolCalls))
		for i, rec := range e.ToolCalls {
			rec.Args = cloneRaw(rec.Args)
			rec.Result = cloneString(rec.Result)
			c.ToolCalls[i] = rec
		}
	}
	if e.Usage != nil {
		u := *e.Usage
		c.Usage = &u
	}
	return c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
