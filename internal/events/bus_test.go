package events

import (
	"sync"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received within 1s")
		return Event{}
	}
}

func TestPublishReachesSessionSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("s1")
	bus.Publish(Event{Type: TypeToolCallStarted, SessionID: "s1", ToolName: "read_file", CallID: "c1"})

	e := recvOne(t, ch)
	if e.Type != TypeToolCallStarted || e.ToolName != "read_file" || e.CallID != "c1" {
		t.Errorf("event = %+v", e)
	}
	if e.Seq == 0 {
		t.Error("event not stamped with sequence number")
	}
	if e.Timestamp.IsZero() {
		t.Error("event not stamped with timestamp")
	}
}

func TestSessionIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	other := bus.Subscribe("s2")
	bus.Publish(Event{Type: TypeToolCallStarted, SessionID: "s1", ToolName: "grep"})

	select {
	case e := <-other:
		t.Errorf("s2 subscriber received s1 event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGlobalSubscriberSeesAllSessions(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	global := bus.Subscribe("")
	bus.Publish(Event{Type: TypeToolCallStarted, SessionID: "s1", ToolName: "a"})
	bus.Publish(Event{Type: TypeToolCallCompleted, SessionID: "s2", ToolName: "b"})
	bus.Publish(Event{Type: TypeToolCallStarted, ToolName: "c"})

	seqs := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		seqs = append(seqs, recvOne(t, global).Seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("sequence numbers not increasing: %v", seqs)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe("s1") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.Publish(Event{Type: TypeToolCallStarted, SessionID: "s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestConcurrentPublishMixedSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Global and session subscribers together make Publish walk two
	// subscriber slices; concurrent publishers must not share scratch
	// space between those walks.
	globals := make([]<-chan Event, 3)
	for i := range globals {
		globals[i] = bus.Subscribe("")
	}
	for i := 0; i < 4; i++ {
		bus.Subscribe("s1")
	}

	const publishers = 8
	const perPublisher = 8 // globals are buffered 64, nothing drops

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish(Event{Type: TypeToolCallStarted, SessionID: "s1", ToolName: "grep"})
			}
		}()
	}
	wg.Wait()

	for i, ch := range globals {
		for n := 0; n < publishers*perPublisher; n++ {
			e := recvOne(t, ch)
			if e.SessionID != "s1" {
				t.Fatalf("global subscriber %d got corrupted event: %+v", i, e)
			}
		}
	}
}

func TestDisableDropsEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("s1")
	bus.Disable()
	bus.Publish(Event{SessionID: "s1", ToolName: "x"})

	select {
	case e := <-ch:
		t.Errorf("disabled bus delivered %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("s1")
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := bus.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestRecordingSink(t *testing.T) {
	sink := &RecordingSink{}
	sink.Publish(Event{ToolName: "a"})
	sink.Publish(Event{ToolName: "b"})

	got := sink.Events()
	if len(got) != 2 || got[0].ToolName != "a" || got[1].ToolName != "b" {
		t.Errorf("events = %+v", got)
	}
}
