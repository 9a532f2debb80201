package eventbus

import (
	"testing"
	"time"

	"github.com/sbidoul/runboat/pkg/build"
	"github.com/sbidoul/runboat/pkg/buildindex"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(4)
	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(buildindex.Event{Kind: buildindex.KindUpdate, Build: build.Build{Name: "a"}})

	for _, ch := range []<-chan buildindex.Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Build.Name != "a" {
				t.Fatalf("unexpected event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(4)
	ch, unsub := bus.Subscribe()
	unsub()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	bus := New(1)
	ch, _ := bus.Subscribe()

	// Fill the buffer, then publish once more than capacity.
	bus.Publish(buildindex.Event{Build: build.Build{Name: "1"}})
	bus.Publish(buildindex.Event{Build: build.Build{Name: "2"}})

	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("expected the slow subscriber to be dropped, count = %d", got)
	}

	// The channel should be closed (not blocked) so the reader can
	// observe the disconnect and reconnect for a fresh snapshot.
	<-ch
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after subscriber was dropped")
	}
}

func TestSubscriberCount(t *testing.T) {
	bus := New(1)
	if bus.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	_, unsub := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatal("expected 1 subscriber after Subscribe")
	}
	unsub()
	if bus.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after Unsubscribe")
	}
}
