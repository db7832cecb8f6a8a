package file

import (
	"context"
	"os"
	"testing"

	"AutoAgent/internal/message"
)

func TestMessageLogKeepsLatestVersion(t *testing.T) {
	log, err := NewMessageLog(t.TempDir())
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	ctx := context.Background()

	goal := message.New(message.TypeGoal, "plan a trip")
	action := message.ForTask(message.TypeAction, "t1", "book hotel").WithInfo(message.Loading)
	if err := log.SaveMessages(ctx, "run-1", []message.Message{goal, action}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := log.SaveMessages(ctx, "run-2", []message.Message{message.New(message.TypeGoal, "other")}); err != nil {
		t.Fatalf("save other run: %v", err)
	}
	done := action.WithInfo("booked").Finalize()
	if err := log.SaveMessages(ctx, "run-1", []message.Message{done}); err != nil {
		t.Fatalf("save update: %v", err)
	}

	msgs, err := log.ListByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != goal.ID {
		t.Fatalf("first saved message should come first")
	}
	if msgs[1].Info != "booked" || !msgs[1].Final {
		t.Fatalf("expected latest version of action, got %+v", msgs[1])
	}
}

func TestMessageLogSurvivesReopenAndSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	log, err := NewMessageLog(dir)
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	if err := log.SaveMessages(context.Background(), "run-1", []message.Message{message.New(message.TypeGoal, "g")}); err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := os.OpenFile(log.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	reopened, err := NewMessageLog(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	msgs, err := reopened.ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Value != "g" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMessageLogRejectsEmptyRunID(t *testing.T) {
	log, err := NewMessageLog(t.TempDir())
	if err != nil {
		t.Fatalf("new log: %v", err)
	}
	if err := log.SaveMessages(context.Background(), " ", []message.Message{message.New(message.TypeGoal, "g")}); err == nil {
		t.Fatalf("empty run id should be rejected")
	}
}
