package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	t.Run("basic event", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			ThreadID: "2026-W35-en-SG",
			Stage:    2,
			NodeID:   "categorize",
			Msg:      "node_end",
		})

		line := buf.String()
		if !strings.Contains(line, "[node_end]") {
			t.Errorf("expected msg prefix, got %q", line)
		}
		if !strings.Contains(line, "thread=2026-W35-en-SG") {
			t.Errorf("expected thread id, got %q", line)
		}
		if !strings.Contains(line, "node=categorize") {
			t.Errorf("expected node id, got %q", line)
		}
	})

	t.Run("meta is rendered as JSON", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			ThreadID: "t1",
			Msg:      "node_end",
			Meta:     map[string]interface{}{"success": true},
		})

		if !strings.Contains(buf.String(), `meta={"success":true}`) {
			t.Errorf("expected JSON meta, got %q", buf.String())
		}
	})
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		ThreadID: "t1",
		Stage:    1,
		NodeID:   "aggregate",
		Msg:      "node_start",
	})

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["thread_id"] != "t1" {
		t.Errorf("expected thread_id = t1, got %v", decoded["thread_id"])
	}
	if decoded["msg"] != "node_start" {
		t.Errorf("expected msg = node_start, got %v", decoded["msg"])
	}
}

func TestLogEmitter_NilWriterDefaultsToStdout(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	if emitter.writer == nil {
		t.Fatal("expected non-nil writer fallback")
	}
}
