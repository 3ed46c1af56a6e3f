package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/platform/kafka/producer"
)

type recordingSink struct {
	mu      sync.Mutex
	changes []StatusChange
	fail    bool
	entered chan struct{}
	gate    chan struct{}
}

func (s *recordingSink) Deliver(_ context.Context, changes []StatusChange) error {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.changes = append(s.changes, changes...)
	return nil
}

func (s *recordingSink) all() []StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusChange(nil), s.changes...)
}

func change(id string) StatusChange {
	return StatusChange{Aggregate: AggregateVault, AggregateID: id, From: "active", To: "triggered", At: time.Now()}
}

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, WithFlushInterval(time.Hour))

	for _, id := range []string{"a", "b", "c"} {
		d.Notify(context.Background(), change(id))
	}
	require.NoError(t, d.Close())

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].AggregateID)
	assert.Equal(t, "c", got[2].AggregateID)
}

func TestDispatcher_DropsOldestWhenFull(t *testing.T) {
	sink := &recordingSink{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	d := NewDispatcher(sink, WithCapacity(2), WithFlushInterval(time.Hour))

	d.Notify(context.Background(), change("1"))
	<-sink.entered // "1" is in flight and the sink is blocked

	for _, id := range []string{"2", "3", "4", "5"} {
		d.Notify(context.Background(), change(id))
	}
	assert.Equal(t, int64(2), d.Dropped())

	close(sink.gate)
	require.NoError(t, d.Close())

	var ids []string
	for _, c := range sink.all() {
		ids = append(ids, c.AggregateID)
	}
	assert.Equal(t, []string{"1", "4", "5"}, ids)
}

func TestDispatcher_SinkFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, WithFlushInterval(time.Hour))
	d.Notify(context.Background(), change("x"))
	require.NoError(t, d.Close())
	assert.Empty(t, sink.all())
}

type capturePublisher struct {
	msgs []producer.Message
}

func (p *capturePublisher) PublishBatch(_ context.Context, msgs []producer.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestKafkaSink_KeysByAggregate(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewKafkaSink(pub, "vigil.vault.status")

	require.NoError(t, sink.Deliver(context.Background(), []StatusChange{change("vault-1")}))
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "vigil.vault.status", msg.Topic)
	assert.Equal(t, []byte("vault-1"), msg.Key)
	assert.Equal(t, "triggered", msg.Headers["to"])

	var decoded StatusChange
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "vault-1", decoded.AggregateID)
}
