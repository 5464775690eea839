package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/engine"
)

// syncRecorder guards the recorder body; ServeHTTP writes from its own
// goroutine.
type syncRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "document.saved", Data: map[string]string{"name": "draft"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.saved") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"name":"draft"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestDocumentFilter(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	mine := b.Subscribe("a")
	defer b.Unsubscribe(mine)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.Publish(Event{Type: "thread.updated", Document: "b", Data: "x"})
	b.Publish(Event{Type: "thread.updated", Document: "a", Data: "y"})
	time.Sleep(50 * time.Millisecond)

	if got := drain(mine); len(got) != 1 || !strings.Contains(got[0], `"y"`) {
		t.Errorf("filtered client got %q", got)
	}
	if got := drain(all); len(got) != 2 {
		t.Errorf("unfiltered client got %d events, want 2", len(got))
	}
}

func TestDocumentChangedThrottle(t *testing.T) {
	b := NewBroker(300 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	for v := uint64(1); v <= 5; v++ {
		b.PublishEngineEvent(engine.Event{Type: engine.EventDocumentChanged, Document: "a", Version: v})
	}
	b.PublishEngineEvent(engine.Event{Type: engine.EventDocumentChanged, Document: "b", Version: 1})
	time.Sleep(50 * time.Millisecond)

	first := drain(ch)
	if len(first) != 2 {
		t.Fatalf("leading events = %d, want one per document: %q", len(first), first)
	}

	// The held event is the latest version and follows the window.
	time.Sleep(700 * time.Millisecond)
	rest := drain(ch)
	if len(rest) != 1 || !strings.Contains(rest[0], `"version":5`) {
		t.Errorf("trailing events = %q, want version 5 only", rest)
	}
}

func TestThreadEventsNotThrottled(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	sink := b.Sink()
	view := &engine.ThreadView{BlockID: "P1", Annotator: "grammar"}
	sink.Publish(engine.Event{Type: engine.EventThreadPending, Document: "a", Thread: view})
	sink.Publish(engine.Event{Type: engine.EventThreadUpdated, Document: "a", Thread: view})
	time.Sleep(50 * time.Millisecond)

	got := drain(ch)
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if !strings.Contains(got[1], "event: thread.updated") || !strings.Contains(got[1], `"blockId":"P1"`) {
		t.Errorf("unexpected payload %q", got[1])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?document=draft", nil)
	req = req.WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "thread.updated", Document: "draft", Data: map[string]string{"blockId": "P1"}})
	b.Publish(Event{Type: "thread.updated", Document: "other", Data: map[string]string{"blockId": "P9"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.Contains(body, `"blockId":"P1"`) {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "P9") {
		t.Errorf("handler leaked other document's event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "thread.updated", Data: map[string]string{"blockId": "P1"}})
	b.PublishEngineEvent(engine.Event{Type: engine.EventDocumentChanged, Document: "a"})
}
