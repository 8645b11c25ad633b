package broadcast

import (
	"testing"
	"time"
)

func recvOrFail(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	s1 := b.Subscribe(TopicAuth)
	s2 := b.Subscribe(TopicAuth)
	defer s1.Close()
	defer s2.Close()

	b.Publish(TopicAuth, LoginSuccess)

	for i, sub := range []*Subscription{s1, s2} {
		msg := recvOrFail(t, sub)
		if msg.Payload != LoginSuccess {
			t.Errorf("subscriber %d got payload %q", i, msg.Payload)
		}
	}
}

func TestClosingOneSubscriptionKeepsOthersAlive(t *testing.T) {
	b := NewBroker()
	s1 := b.Subscribe(TopicAuth)
	s2 := b.Subscribe(TopicAuth)

	s1.Close()
	b.Publish(TopicAuth, LoginSuccess)

	if msg := recvOrFail(t, s2); msg.Payload != LoginSuccess {
		t.Errorf("payload = %q", msg.Payload)
	}
	s2.Close()
}

func TestTopicsAreIsolated(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("other-topic")
	defer sub.Close()

	b.Publish(TopicAuth, LoginSuccess)

	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(TopicAuth)
	defer sub.Close()

	// Overflow the buffer; extra messages are dropped, not queued.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TopicAuth, LoginSuccess)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(TopicAuth)
	sub.Close()
	sub.Close()

	// Channel is closed; receive yields the zero value immediately.
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel")
	}
}
