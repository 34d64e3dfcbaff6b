package coordinator

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/pkg/models"
)

var errNoPermit = errors.New("transcript requires a run permit")

// transcript is the in-memory copy of a project's agent_chat while a run is
// in flight. Only the tail entry at index changes. Callbacks mutate it from
// the loop goroutine while throttled flushes read it from timer goroutines.
type transcript struct {
	permit *runs.Permit

	mu    sync.Mutex
	chat  []models.ChatEntry
	index int
	// tools maps call ids onto positions in StreamItems and ToolCalls.
	items   map[string]int
	records map[string]int
	names   []string
	now     func() time.Time
}

// newTranscript appends a running assistant entry to chat.
func newTranscript(permit *runs.Permit, chat []models.ChatEntry, now func() time.Time) (*transcript, error) {
	if permit == nil {
		return nil, errNoPermit
	}
	chat = models.CloneEntries(chat)
	chat = append(chat, models.ChatEntry{
		Role:        models.RoleAssistant,
		Content:     "",
		StreamItems: []models.StreamItem{},
		Status:      models.RunStatusRunning,
		Timestamp:   models.NowMillis(now()),
	})
	return &transcript{
		permit:  permit,
		chat:    chat,
		index:   len(chat) - 1,
		items:   make(map[string]int),
		records: make(map[string]int),
		now:     now,
	}, nil
}

func (t *transcript) entry() *models.ChatEntry {
	return &t.chat[t.index]
}

// open reports whether the entry still accepts mutations.
func (t *transcript) open() bool {
	return t.entry().Status == models.RunStatusRunning
}

// Chat returns a copy of the whole chat for persistence.
func (t *transcript) Chat() []models.ChatEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.CloneEntries(t.chat)
}

// Entry returns a copy of the run's entry.
func (t *transcript) Entry() models.ChatEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry().Clone()
}

// ToolNames lists tool names in the order their calls first appeared.
func (t *transcript) ToolNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.names...)
}

// AppendText extends the trailing text item or opens a new one.
func (t *transcript) AppendText(delta string) {
	if delta == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	e := t.entry()
	e.Content += delta
	if n := len(e.StreamItems); n > 0 && e.StreamItems[n-1].Type == models.StreamItemText {
		e.StreamItems[n-1].Content += delta
		return
	}
	e.StreamItems = append(e.StreamItems, models.StreamItem{Type: models.StreamItemText, Content: delta})
}

// StartTool opens a tool item unless one with this id exists.
func (t *transcript) StartTool(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	t.toolItem(id, name)
}

// SetToolArgs records the complete arguments of a call, creating its item
// and record when the start event was never seen.
func (t *transcript) SetToolArgs(id, name string, args json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	item := t.toolItem(id, name)
	if item.Result != nil {
		return
	}
	item.Args = append(json.RawMessage(nil), args...)
	rec := t.toolRecord(id, name)
	rec.Args = append(json.RawMessage(nil), args...)
}

// SetToolResult attaches the result of a call. Args default to {} so a
// result never exists without args. Items with a result are final.
func (t *transcript) SetToolResult(id, name, result string, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	item := t.toolItem(id, name)
	if item.Result != nil {
		return
	}
	if item.Args == nil {
		item.Args = json.RawMessage(`{}`)
	}
	res := result
	item.Result = &res
	item.IsError = isError

	rec := t.toolRecord(id, name)
	if rec.Args == nil {
		rec.Args = append(json.RawMessage(nil), item.Args...)
	}
	recRes := result
	rec.Result = &recRes
	rec.IsError = isError
}

// Complete finalizes the entry as successful.
func (t *transcript) Complete(usage *models.RunUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	e := t.entry()
	e.Status = models.RunStatusComplete
	e.Usage = usage
	e.Timestamp = models.NowMillis(t.now())
}

// Fail finalizes the entry as failed. Partial text is kept as the content;
// without any, the content becomes the error message.
func (t *transcript) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open() {
		return
	}
	e := t.entry()
	if e.Content == "" {
		e.Content = "Error: " + message
	}
	e.Status = models.RunStatusError
	e.Error = message
	e.Timestamp = models.NowMillis(t.now())
}

// toolItem returns the stream item for id, appending it when missing.
// Must be called with mu held.
func (t *transcript) toolItem(id, name string) *models.StreamItem {
	e := t.entry()
	if i, ok := t.items[id]; ok {
		return &e.StreamItems[i]
	}
	e.StreamItems = append(e.StreamItems, models.StreamItem{Type: models.StreamItemTool, ID: id, Name: name})
	t.items[id] = len(e.StreamItems) - 1
	t.toolRecord(id, name)
	return &e.StreamItems[len(e.StreamItems)-1]
}

// toolRecord returns the call record for id, appending it when missing.
// Must be called with mu held.
func (t *transcript) toolRecord(id, name string) *models.ToolCallRecord {
	e := t.entry()
	if i, ok := t.records[id]; ok {
		return &e.ToolCalls[i]
	}
	e.ToolCalls = append(e.ToolCalls, models.ToolCallRecord{ID: id, Name: name})
	t.records[id] = len(e.ToolCalls) - 1
	t.names = append(t.names, name)
	return &e.ToolCalls[len(e.ToolCalls)-1]
}
