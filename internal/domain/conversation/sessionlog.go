package conversation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// maxLogLine bounds a single JSONL record; tool outputs can be large.
const maxLogLine = 10 * 1024 * 1024

// Entry is one turn of the agent's append-only session log.
type Entry struct {
	UUID         string          `json:"uuid"`
	ParentUUID   string          `json:"parentUuid,omitempty"`
	Role         string          `json:"role"` // "user" or "assistant"
	Text         string          `json:"text"`
	Content      json.RawMessage `json:"content,omitempty"`
	ToolUses     []ToolUse       `json:"toolUses,omitempty"`
	IsToolResult bool            `json:"isToolResult,omitempty"`
	IsSidechain  bool            `json:"isSidechain,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ToolUse is a tool invocation requested by the assistant.
type ToolUse struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type logLine struct {
	Type        string    `json:"type"`
	UUID        string    `json:"uuid"`
	ParentUUID  *string   `json:"parentUuid"`
	IsSidechain bool      `json:"isSidechain"`
	SessionID   string    `json:"sessionId"`
	Timestamp   time.Time `json:"timestamp"`
	Message     struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ParseSessionLog reads a JSONL session log and returns its user and
// assistant entries in conversation order. Lines that do not decode (for
// example a record still being appended) and non-message records such as
// summaries are skipped.
func ParseSessionLog(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), maxLogLine)

	var entries []Entry
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ll logLine
		if err := json.Unmarshal(line, &ll); err != nil {
			continue
		}
		if ll.Type != "user" && ll.Type != "assistant" {
			continue
		}
		if ll.UUID == "" {
			continue
		}

		e := Entry{
			UUID:        ll.UUID,
			Role:        ll.Type,
			Content:     ll.Message.Content,
			IsSidechain: ll.IsSidechain,
			SessionID:   ll.SessionID,
			Timestamp:   ll.Timestamp,
		}
		if ll.ParentUUID != nil {
			e.ParentUUID = *ll.ParentUUID
		}
		if ll.Message.Role != "" {
			e.Role = ll.Message.Role
		}
		e.Text, e.ToolUses, e.IsToolResult = extractContent(ll.Message.Content)
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Order(entries), fmt.Errorf("session log: line exceeds %d bytes: %w", maxLogLine, err)
		}
		return Order(entries), fmt.Errorf("session log: %w", err)
	}

	return Order(entries), nil
}

// extractContent flattens a message content value, which is either a plain
// string or an array of typed blocks.
func extractContent(raw json.RawMessage) (text string, tools []ToolUse, toolResult bool) {
	if len(raw) == 0 {
		return "", nil, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil, false
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil, false
	}

	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			tools = append(tools, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			toolResult = true
		}
	}
	return strings.Join(texts, "\n"), tools, toolResult
}

// Order linearizes entries along their parent links: every entry follows its
// parent, siblings keep document order, and entries whose parent is absent
// from the log start a new run in document order. Cycles are broken by
// emitting each entry once.
func Order(entries []Entry) []Entry {
	if len(entries) < 2 {
		return entries
	}

	index := make(map[string]int, len(entries))
	for i := range entries {
		if _, dup := index[entries[i].UUID]; !dup {
			index[entries[i].UUID] = i
		}
	}

	children := make(map[string][]int, len(entries))
	var roots []int
	for i := range entries {
		p := entries[i].ParentUUID
		if pi, ok := index[p]; ok && p != "" && pi != i {
			children[p] = append(children[p], i)
			continue
		}
		roots = append(roots, i)
	}

	out := make([]Entry, 0, len(entries))
	emitted := make([]bool, len(entries))
	var stack []int
	walk := func(start int) {
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if emitted[i] {
				continue
			}
			emitted[i] = true
			out = append(out, entries[i])
			kids := children[entries[i].UUID]
			for k := len(kids) - 1; k >= 0; k-- {
				stack = append(stack, kids[k])
			}
		}
	}

	for _, r := range roots {
		walk(r)
	}
	// Anything left sits on a parent cycle with no root.
	for i := range entries {
		if !emitted[i] {
			walk(i)
		}
	}
	return out
}
