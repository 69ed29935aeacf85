package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/devkade/hackathon-starter/internal/client"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
)

func TestRendererAppendsConfirmedMessages(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.render(client.State{
		ConversationID: "c1",
		Status:         conversation.StatusRunning,
		Pending:        []client.PendingMessage{{ID: "p1", Text: "hello"}},
	})
	r.render(client.State{
		ConversationID: "c1",
		Status:         conversation.StatusRunning,
		Confirmed:      []conversation.Entry{{UUID: "u1", Role: "user", Text: "hello"}},
	})
	r.render(client.State{
		ConversationID: "c1",
		Status:         conversation.StatusCompleted,
		Confirmed: []conversation.Entry{
			{UUID: "u1", Role: "user", Text: "hello"},
			{UUID: "a1", Role: "assistant", Text: "hi", ToolUses: []conversation.ToolUse{{Name: "Bash"}}},
		},
	})

	want := strings.Join([]string{
		"-- running (c1)",
		"[user] hello",
		"[assistant] hi",
		"[assistant] -> Bash",
		"-- completed (c1)",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestRendererShowsErrors(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.render(client.State{ConversationID: "c1", Status: conversation.StatusError, ErrorMessage: "agent crashed"})
	r.render(client.State{ConversationID: "c1", Status: conversation.StatusError, ErrorMessage: "agent crashed", LastError: "connection refused"})

	out := buf.String()
	if !strings.Contains(out, "-- error (c1): agent crashed") {
		t.Fatalf("missing status line: %q", out)
	}
	if !strings.Contains(out, "!! connection refused") {
		t.Fatalf("missing client error: %q", out)
	}
}

func TestPrintTree(t *testing.T) {
	var buf bytes.Buffer
	printTree(&buf, []*volume.FileNode{
		{Name: "src", Type: volume.TypeDirectory, Children: []*volume.FileNode{
			{Name: "main.go", Type: volume.TypeFile, Size: 2048},
		}},
		{Name: "README.md", Type: volume.TypeFile, Size: 12},
	}, 0)

	want := "src/\n  main.go  2.0 KiB\nREADME.md  12 B\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}
