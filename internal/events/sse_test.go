package events

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteProducesWellFormedSSEFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := Heartbeat("req-1", 1700000000)

	if err := Write(rec, ev); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: heartbeat\n") {
		t.Fatalf("expected frame to start with the event line, got %q", body)
	}
	if !strings.Contains(body, "data: ") {
		t.Fatalf("expected a data line, got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected frame to end with a blank-line terminator, got %q", body)
	}
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	h := rec.Header()
	if h.Get("Content-Type") != "text/event-stream" {
		t.Errorf("unexpected Content-Type: %s", h.Get("Content-Type"))
	}
	if h.Get("X-Accel-Buffering") != "no" {
		t.Errorf("expected X-Accel-Buffering: no, got %s", h.Get("X-Accel-Buffering"))
	}
}

func TestTerminalEvents(t *testing.T) {
	if !Final("r1", FinalPayload{RequestID: "r1"}).Terminal() {
		t.Error("expected a final event to be terminal")
	}
	if !Err("r1", "oops", "bad").Terminal() {
		t.Error("expected an error event to be terminal")
	}
	if Heartbeat("r1", 1).Terminal() {
		t.Error("expected a heartbeat event to not be terminal")
	}
	if Ready("r1").Terminal() {
		t.Error("expected a ready event to not be terminal")
	}
}
