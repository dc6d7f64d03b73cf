package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

func TestFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe("a", 8)
	b := bus.Subscribe("b", 8)

	bus.Emit(model.AlertThreat, model.SeverityCritical, "payload")

	for _, sub := range []*Subscription{a, b} {
		select {
		case msg := <-sub.C():
			if msg.Type != model.AlertThreat || msg.Severity != model.SeverityCritical {
				t.Errorf("%s got %v/%v", sub.Name(), msg.Type, msg.Severity)
			}
			if msg.Timestamp.IsZero() {
				t.Errorf("%s got zero timestamp", sub.Name())
			}
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", sub.Name())
		}
	}
}

func TestSlowSinkDropsOldest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("slow", 4)
	for i := 0; i < 10; i++ {
		bus.Emit(model.AlertEvent, model.SeverityInfo, fmt.Sprintf("m%d", i))
	}

	if got := sub.Dropped(); got != 6 {
		t.Errorf("Dropped() = %d, want 6", got)
	}

	// The survivors are the newest four.
	var got []string
	for len(sub.C()) > 0 {
		msg := <-sub.C()
		got = append(got, msg.Data.(string))
	}
	want := []string{"m6", "m7", "m8", "m9"}
	if len(got) != len(want) {
		t.Fatalf("survivors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("survivor[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe("stuck", 1) // nobody reads

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Emit(model.AlertEvent, model.SeverityInfo, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stuck subscriber")
	}
}

func TestCloseClosesSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("x", 4)
	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after bus Close")
	}
	// Publishing after close is a no-op, not a panic.
	bus.Emit(model.AlertEvent, model.SeverityInfo, "late")
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()
	sub := bus.Subscribe("late", 4)
	if _, ok := <-sub.C(); ok {
		t.Error("subscription on a closed bus should be closed immediately")
	}
}
