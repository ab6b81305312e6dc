package mqttutil

import (
	"errors"
	"sync"
	"testing"
)

func TestDispatchFansOutToAllMatchingHandlers(t *testing.T) {
	b := &Broker{}

	var mu sync.Mutex
	var calls []string

	record := func(name string) MessageHandler {
		return func(topic string, payload []byte) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}

	_ = b.AddHandler("homie/5/+/$state", record("wildcard"))
	_ = b.AddHandler("homie/5/bulb-1/$state", record("specific"))
	_ = b.AddHandler("homie/5/bulb-2/$state", record("other-device"))

	b.Dispatch("homie/5/bulb-1/$state", []byte("init"))

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected 2 handlers invoked, got %d: %v", len(calls), calls)
	}
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c] = true
	}
	if !seen["wildcard"] || !seen["specific"] {
		t.Errorf("expected wildcard and specific handlers, got %v", calls)
	}
	if seen["other-device"] {
		t.Errorf("handler for unrelated device should not have fired")
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	b := &Broker{}
	_ = b.AddHandler("topic/a", func(topic string, payload []byte) error {
		panic("boom")
	})

	done := make(chan struct{})
	go func() {
		b.Dispatch("topic/a", nil)
		close(done)
	}()
	<-done
}

func TestDispatchHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := &Broker{}
	var second bool
	_ = b.AddHandler("topic/a", func(topic string, payload []byte) error {
		return errors.New("handler failed")
	})
	_ = b.AddHandler("topic/a", func(topic string, payload []byte) error {
		second = true
		return nil
	})

	b.Dispatch("topic/a", nil)

	if !second {
		t.Error("expected second handler to run despite first returning an error")
	}
}

func TestRemoveHandlersDropsRegisteredPattern(t *testing.T) {
	b := &Broker{}
	var fired bool
	_ = b.AddHandler("topic/a", func(topic string, payload []byte) error {
		fired = true
		return nil
	})

	// With no live connection RemoveHandlers returns ErrNotConnected, but
	// only after it has dropped the pattern from the handler table.
	_ = b.RemoveHandlers("topic/a")

	b.Dispatch("topic/a", nil)
	if fired {
		t.Error("expected no handler to fire after RemoveHandlers")
	}
}
