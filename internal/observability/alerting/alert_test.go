package alerting

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "AutoAgent/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	first := &recordingNotifier{channel: "a"}
	replaced := &recordingNotifier{channel: "b"}
	second := &recordingNotifier{channel: "b", err: stdErrors.New("offline")}
	d := NewFanout(first, nil, replaced, second)

	err := d.Notify(context.Background(), Event{RunID: "r1"})
	if err == nil {
		t.Fatalf("expected joined error from failing notifier")
	}
	if len(first.events) != 1 || len(second.events) != 1 || len(replaced.events) != 0 {
		t.Fatalf("unexpected deliveries: %d/%d/%d", len(first.events), len(second.events), len(replaced.events))
	}
}

func TestEventFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "db down", xerrors.WithMetadata("table", "messages"))
	event := EventFromError("run-1", err)
	if event.Code != xerrors.CodeStorageFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["table"] != "messages" || event.Message != "db down" {
		t.Fatalf("unexpected event detail: %+v", event)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{RunID: "run-7", Code: "X"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.RunID != "run-7" {
		t.Fatalf("unexpected payload: %+v", received)
	}

	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped: %v", err)
	}
}
