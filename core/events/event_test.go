package events

import (
	"testing"

	"optionclear/core/types"
)

type testEvent struct{ name string }

func (e testEvent) EventType() string { return e.name }

func (e testEvent) Event() *types.Event {
	return &types.Event{Type: e.name, Attributes: map[string]string{}}
}

type capture struct{ seen []string }

func (c *capture) Emit(evt Event) { c.seen = append(c.seen, evt.EventType()) }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Emit(testEvent{"b"})
	buf.Emit(nil)
	if buf.Len() != 2 {
		t.Fatalf("expected 2 queued events, got %d", buf.Len())
	}
	dst := &capture{}
	flushed := buf.Flush(dst)
	if len(flushed) != 2 || len(dst.seen) != 2 || dst.seen[0] != "a" || dst.seen[1] != "b" {
		t.Fatalf("unexpected flush result: %v", dst.seen)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer should be empty after flush")
	}
}

func TestBufferResetDropsEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{"a"})
	buf.Reset()
	dst := &capture{}
	buf.Flush(dst)
	if len(dst.seen) != 0 {
		t.Fatalf("expected no events after reset, got %v", dst.seen)
	}
}

func TestFanout(t *testing.T) {
	a, b := &capture{}, &capture{}
	Fanout{a, nil, b}.Emit(testEvent{"x"})
	if len(a.seen) != 1 || len(b.seen) != 1 {
		t.Fatalf("fanout did not reach all emitters")
	}
}
