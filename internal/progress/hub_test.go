package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func publish(h *Hub, id string, kind Kind, payload string) Event {
	return h.Publish(Event{InvocationID: id, Kind: kind, Payload: json.RawMessage(payload)})
}

func TestFetchFiltersByInvocation(t *testing.T) {
	h := NewHub(16)
	publish(h, "a", KindProgress, `{"pct":10}`)
	publish(h, "b", KindProgress, `{"pct":20}`)
	publish(h, "a", KindComplete, `{"event":"complete"}`)

	batch, err := h.Fetch(context.Background(), "a", 0, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch.Events) != 2 || batch.Events[0].Sequence != 1 || batch.Events[1].Sequence != 3 {
		t.Fatalf("unexpected events %+v", batch.Events)
	}
	if batch.Next != 3 || batch.Done {
		t.Fatalf("unexpected cursor %+v", batch)
	}

	all, err := h.Fetch(context.Background(), "", 1, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Events) != 2 {
		t.Fatalf("expected events after seq 1, got %+v", all.Events)
	}
}

func TestFetchLimitAdvancesCursor(t *testing.T) {
	h := NewHub(16)
	for i := 0; i < 5; i++ {
		publish(h, "a", KindProgress, `{}`)
	}
	batch, err := h.Fetch(context.Background(), "a", 0, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Events) != 2 || batch.Next != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	h.Close("a")
	batch, err = h.Fetch(context.Background(), "a", batch.Next, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Done {
		t.Fatal("stream must not report done while events remain")
	}
	batch, err = h.Fetch(context.Background(), "a", batch.Next, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Events) != 1 || !batch.Done {
		t.Fatalf("expected final event and done, got %+v", batch)
	}
}

func TestFetchWaitWakesOnPublish(t *testing.T) {
	h := NewHub(16)
	result := make(chan Batch, 1)
	go func() {
		batch, _ := h.Fetch(context.Background(), "a", 0, 0, true)
		result <- batch
	}()
	time.Sleep(20 * time.Millisecond)
	publish(h, "b", KindProgress, `{}`)
	publish(h, "a", KindProgress, `{"pct":1}`)

	select {
	case batch := <-result:
		if len(batch.Events) != 1 || batch.Events[0].InvocationID != "a" {
			t.Fatalf("unexpected batch %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting fetch did not wake")
	}
}

func TestFetchWaitReturnsWhenClosed(t *testing.T) {
	h := NewHub(16)
	result := make(chan Batch, 1)
	go func() {
		batch, _ := h.Fetch(context.Background(), "a", 0, 0, true)
		result <- batch
	}()
	time.Sleep(20 * time.Millisecond)
	h.Close("a")

	select {
	case batch := <-result:
		if !batch.Done || len(batch.Events) != 0 {
			t.Fatalf("unexpected batch %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting fetch did not observe close")
	}
}

func TestFetchWaitHonoursContext(t *testing.T) {
	h := NewHub(16)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.Fetch(ctx, "a", 0, 0, true)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestPublishEvictsOldest(t *testing.T) {
	h := NewHub(2)
	publish(h, "a", KindProgress, `{}`)
	publish(h, "a", KindProgress, `{}`)
	publish(h, "a", KindProgress, `{}`)
	batch, _ := h.Fetch(context.Background(), "", 0, 0, false)
	if len(batch.Events) != 2 || batch.Events[0].Sequence != 2 {
		t.Fatalf("unexpected buffer %+v", batch.Events)
	}
	if !batch.Dropped {
		t.Fatal("a cursor behind the evicted event must report a gap")
	}
	caughtUp, _ := h.Fetch(context.Background(), "", 1, 0, false)
	if caughtUp.Dropped {
		t.Fatal("a cursor at the evicted event has no gap")
	}
}

func TestFetchReportsGapPerInvocation(t *testing.T) {
	h := NewHub(2)
	publish(h, "a", KindProgress, `{}`)
	publish(h, "b", KindProgress, `{}`)
	publish(h, "b", KindProgress, `{}`)

	lost, _ := h.Fetch(context.Background(), "a", 0, 0, false)
	if !lost.Dropped || len(lost.Events) != 0 {
		t.Fatalf("invocation a lost its only event, got %+v", lost)
	}
	intact, _ := h.Fetch(context.Background(), "b", 0, 0, false)
	if intact.Dropped || len(intact.Events) != 2 {
		t.Fatalf("invocation b lost nothing, got %+v", intact)
	}

	h.Close("a")
	closed, _ := h.Fetch(context.Background(), "a", 0, 0, false)
	if !closed.Dropped || !closed.Done {
		t.Fatalf("gap must survive close, got %+v", closed)
	}
}
