package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// payload extracts the concrete payload for Marshal, keeping the switch
// total over Name.
func (e Event) payload() any {
	switch e.Name {
	case NameReady:
		return e.Ready
	case NameToken:
		return e.Token
	case NameScore:
		return e.Score
	case NameTrace:
		return e.Trace
	case NameTool:
		return e.Tool
	case NamePCN:
		return e.PCN
	case NameGoV:
		return e.GoV
	case NameHeartbeat:
		return e.Heartbeat
	case NameError:
		return e.Error
	case NameFinal:
		return e.Final
	default:
		return struct{}{}
	}
}

// SetSSEHeaders configures the response for server-sent events, including
// the nginx X-Accel-Buffering opt-out.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Write marshals e's payload and writes one SSE frame: an `event:` line,
// one or more `data:` lines (multi-line payloads are split so each line is
// individually framed, per the SSE spec), and a blank-line terminator.
func Write(w http.ResponseWriter, e Event) error {
	data, err := json.Marshal(e.payload())
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", e.Name); err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}
