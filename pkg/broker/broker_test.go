package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(TopicIncidentsNew, 4)
	b.Publish(TopicIncidentsNew, "hello")

	select {
	case msg := <-sub.C:
		assert.Equal(t, TopicIncidentsNew, msg.Topic)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	b := New()
	defer b.Close()

	incidents := b.Subscribe(TopicIncidentsNew, 4)
	remediation := b.Subscribe(TopicRemediation, 4)

	b.Publish(TopicIncidentsNew, 1)

	select {
	case <-incidents.C:
	case <-time.After(time.Second):
		t.Fatal("incident subscriber missed the message")
	}
	select {
	case msg := <-remediation.C:
		t.Fatalf("unexpected message on remediation topic: %+v", msg)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("t", 1)
	b.Publish("t", 1)
	b.Publish("t", 2) // buffer full, must be dropped

	assert.Equal(t, uint64(1), b.Dropped())

	msg := <-sub.C
	assert.Equal(t, 1, msg.Payload)
}

func TestConcurrentPublishersCountDrops(t *testing.T) {
	b := New()
	defer b.Close()

	b.Subscribe("t", 1)
	b.Publish("t", 0) // fill the only buffer slot

	const publishers, each = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				b.Publish("t", j)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(publishers*each), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("t", 1)
	b.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish("t", 1)

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe("x", 1)
	c := b.Subscribe("y", 1)

	b.Close()

	_, open := <-a.C
	require.False(t, open)
	_, open = <-c.C
	require.False(t, open)

	// Subscribing after close returns an already-closed subscription.
	late := b.Subscribe("x", 1)
	_, open = <-late.C
	assert.False(t, open)
}

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "railway:logs:svc-1", LogTopic("svc-1"))
	assert.Equal(t, "railway:connections:proj-1", ConnectionTopic("proj-1"))
}
