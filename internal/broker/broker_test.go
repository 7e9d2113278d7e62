package broker_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/broker"
	"github.com/loomrun/loom/internal/model"
)

func TestBroker_PublishSubscribeFIFO(t *testing.T) {
	b := broker.New()
	ch, unsubscribe := b.Subscribe("run-1")
	defer unsubscribe()

	b.Publish("run-1", model.Event{Kind: model.EventProgress, RunID: "run-1", Payload: 1})
	b.Publish("run-1", model.Event{Kind: model.EventProgress, RunID: "run-1", Payload: 2})

	first := <-ch
	second := <-ch
	assert.Equal(t, 1, first.Payload)
	assert.Equal(t, 2, second.Payload)
}

func TestBroker_PublishNeverBlocksWhenBufferFull(t *testing.T) {
	b := broker.New()
	ch, unsubscribe := b.Subscribe("run-1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("run-1", model.Event{Kind: model.EventProgress, RunID: "run-1", Payload: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full subscriber buffer")
	}

	// The oldest events should have been dropped; the newest delivered event
	// should be at or near the tail of the sequence, not the head.
	var last model.Event
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				goto done
			}
			last = evt
		default:
			goto done
		}
	}
done:
	if last.Payload != nil {
		assert.Greater(t, last.Payload.(int), 0)
	}
}

func TestBroker_CloseClosesAllSubscribers(t *testing.T) {
	b := broker.New()
	ch1, _ := b.Subscribe("run-1")
	ch2, _ := b.Subscribe("run-1")

	b.Close("run-1")

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestBroker_SubscribeAfterCloseReceivesClosedChannel(t *testing.T) {
	b := broker.New()
	b.Close("run-1")

	ch, unsubscribe := b.Subscribe("run-1")
	defer unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_UnsubscribeIsIdempotent(t *testing.T) {
	b := broker.New()
	_, unsubscribe := b.Subscribe("run-1")
	unsubscribe()
	unsubscribe()
}

func TestFormatSSE(t *testing.T) {
	evt := model.Event{Kind: model.EventStatus, RunID: "run-1"}
	out, err := broker.FormatSSE(evt, json.Marshal)
	require.NoError(t, err)
	assert.Equal(t, byte('d'), out[0])
	assert.Equal(t, "\n\n", string(out[len(out)-2:]))
}
