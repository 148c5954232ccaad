package hub_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wellsolve/calcgateway/internal/hub"
	"github.com/wellsolve/calcgateway/internal/model"
)

func newHub() *hub.Hub {
	return hub.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func progressAt(id string, pct int) model.Progress {
	return model.Progress{ID: id, Type: model.EventProgress, Percentage: pct, Phase: "SOLVING_EQUATIONS"}
}

func TestSingleSubscriberOrder(t *testing.T) {
	h := newHub()
	h.Open("c1")

	ch, unsub, err := h.Subscribe("c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	for _, pct := range []int{10, 50, 90} {
		h.Publish("c1", progressAt("c1", pct))
	}
	h.CompleteNormally("c1")

	var got []int
	for ev := range ch {
		got = append(got, ev.(model.Progress).Percentage)
	}

	want := []int{10, 50, 90}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMultipleSubscribersBroadcast(t *testing.T) {
	h := newHub()
	h.Open("c1")

	ch1, unsub1, _ := h.Subscribe("c1")
	defer unsub1()
	ch2, unsub2, _ := h.Subscribe("c1")
	defer unsub2()

	h.Publish("c1", progressAt("c1", 50))
	h.CompleteNormally("c1")

	for i, ch := range []<-chan model.ProgressEvent{ch1, ch2} {
		var got []model.ProgressEvent
		for ev := range ch {
			got = append(got, ev)
		}
		if len(got) != 1 {
			t.Errorf("subscriber %d got %d events, want 1", i+1, len(got))
			continue
		}
		if got[0].(model.Progress).Percentage != 50 {
			t.Errorf("subscriber %d percentage = %d, want 50", i+1, got[0].(model.Progress).Percentage)
		}
	}
}

func TestSubscribeUnknownID(t *testing.T) {
	h := newHub()
	if _, _, err := h.Subscribe("never-opened"); !errors.Is(err, hub.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLateSubscriberGetsEmptyStream(t *testing.T) {
	h := newHub()
	h.Open("c1")
	h.Publish("c1", progressAt("c1", 50))
	h.CompleteNormally("c1")

	ch, unsub, err := h.Subscribe("c1")
	if err != nil {
		t.Fatalf("Subscribe after complete: %v", err)
	}
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber channel should be closed with no events")
	}
}

func TestCompleteExactlyOnce(t *testing.T) {
	h := newHub()
	h.Open("c1")
	ch, unsub, _ := h.Subscribe("c1")
	defer unsub()

	cause := errors.New("solver exploded")
	h.CompleteWithError("c1", cause)
	// Second completion must not panic or overwrite the cause.
	h.CompleteNormally("c1")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if err := h.Err("c1"); !errors.Is(err, cause) {
		t.Errorf("Err = %v, want %v", err, cause)
	}
}

func TestPublishAfterCompleteIgnored(t *testing.T) {
	h := newHub()
	h.Open("c1")
	h.CompleteNormally("c1")

	// Must not panic on the closed topic.
	h.Publish("c1", progressAt("c1", 99))

	ch, _, _ := h.Subscribe("c1")
	if _, ok := <-ch; ok {
		t.Error("no events should be delivered after completion")
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	h := newHub()
	h.Open("c1")
	_, unsub, _ := h.Subscribe("c1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Publish far beyond the buffer without anyone draining.
		for pct := 0; pct < 500; pct++ {
			h.Publish("c1", progressAt("c1", pct))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestCompleteWithoutOpenLeavesMarker(t *testing.T) {
	h := newHub()
	h.CompleteNormally("c1")

	ch, _, err := h.Subscribe("c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("marker topic should yield a closed channel")
	}
}

func TestSweepEvictsMarkersKeepsOpen(t *testing.T) {
	h := newHub()
	h.Open("open")
	h.Open("done")
	h.CompleteNormally("done")

	if n := h.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Errorf("evicted = %d, want 1", n)
	}

	if _, _, err := h.Subscribe("done"); !errors.Is(err, hub.ErrNotFound) {
		t.Errorf("swept topic err = %v, want ErrNotFound", err)
	}
	if _, _, err := h.Subscribe("open"); err != nil {
		t.Errorf("open topic must survive sweep: %v", err)
	}
}
