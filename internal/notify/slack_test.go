package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/config"
)

func newTestServer(t *testing.T, status int, got *[]SlackMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		*got = append(*got, msg)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	var got []SlackMessage
	srv := newTestServer(t, http.StatusOK, &got)

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: false})
	if err := n.ScrubStarted("r", "devex", "devexbackup"); err != nil {
		t.Fatalf("ScrubStarted: %v", err)
	}
	if n.IsEnabled() || len(got) != 0 {
		t.Errorf("disabled notifier sent %d messages", len(got))
	}

	if New(nil).IsEnabled() {
		t.Error("nil config should be disabled")
	}
}

func TestScrubMessages(t *testing.T) {
	var got []SlackMessage
	srv := newTestServer(t, http.StatusOK, &got)
	n := New(&config.SlackConfig{WebhookURL: srv.URL, Channel: "#ops", Enabled: true})

	if err := n.ScrubStarted("run-1", "devex", "devexbackup"); err != nil {
		t.Fatalf("ScrubStarted: %v", err)
	}
	if err := n.ScrubCompleted("run-1", time.Now(), 75*time.Second, 6, 1234, 1200, "/tmp/devexbackup"); err != nil {
		t.Fatalf("ScrubCompleted: %v", err)
	}
	if err := n.ScrubFailed("run-1", "export failure", errors.New(strings.Repeat("x", 600)), time.Second); err != nil {
		t.Fatalf("ScrubFailed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Channel != "#ops" || got[0].Username != "mongo-scrubber" {
		t.Errorf("started message = %+v", got[0])
	}
	if got[0].Attachments[0].Title != "Scrub Started" {
		t.Errorf("title = %q", got[0].Attachments[0].Title)
	}
	if !strings.Contains(got[1].Text, "1,200 of 1,234") {
		t.Errorf("completed text = %q", got[1].Text)
	}
	fields := got[2].Attachments[0].Fields
	errField := fields[len(fields)-1]
	if errField.Title != "Error" || len(errField.Value) != 503 {
		t.Errorf("error field should be truncated, got %d chars", len(errField.Value))
	}
}

func TestSendNon200(t *testing.T) {
	var got []SlackMessage
	srv := newTestServer(t, http.StatusInternalServerError, &got)
	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: true})

	if err := n.ScrubStarted("r", "a", "b"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestFormatting(t *testing.T) {
	if got := formatNumberWithCommas(1234567); got != "1,234,567" {
		t.Errorf("formatNumberWithCommas = %q", got)
	}
	if got := formatDuration(3725 * time.Second); got != "1h 2m 5s" {
		t.Errorf("formatDuration = %q", got)
	}
	if got := formatDuration(42 * time.Second); got != "42s" {
		t.Errorf("formatDuration = %q", got)
	}
}
