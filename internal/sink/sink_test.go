// internal/sink/sink_test.go
package sink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []int{3, 4, 5}, q.Drain())
	assert.Zero(t, q.Len())

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_PopOrderAndSignal(t *testing.T) {
	q := NewQueue[string](0)
	assert.Equal(t, 1, q.Cap())

	q.Push("a")
	select {
	case <-q.C():
	default:
		t.Fatal("expected signal after push")
	}

	q.Push("b")
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int](64)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, q.Len())
	assert.Equal(t, uint64(400-64), q.Dropped())
}

func TestMulti(t *testing.T) {
	var a, b []Sample
	m := Multi{Func(func(s Sample) { a = append(a, s) }), Func(func(s Sample) { b = append(b, s) })}

	s := Sample{Channel: CH1, Value: 1.5}
	m.Push(s)
	assert.Equal(t, []Sample{s}, a)
	assert.Equal(t, []Sample{s}, b)
}

// ---- MQTT ----

type doneToken struct{ done chan struct{} }

func newDoneToken() *doneToken {
	d := &doneToken{done: make(chan struct{})}
	close(d.done)
	return d
}

func (d *doneToken) Wait() bool                     { return true }
func (d *doneToken) WaitTimeout(time.Duration) bool { return true }
func (d *doneToken) Done() <-chan struct{}          { return d.done }
func (d *doneToken) Error() error                   { return nil }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return newDoneToken()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestMQTT_PublishesJSONPerChannel(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "tcp://127.0.0.1:1", Topic: "lab/qmb/", ClientID: "t", QoS: 1}, 8, zerolog.Nop())
	fake := &fakePublisher{}
	m.pub = fake

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.Push(Sample{Channel: CH1, At: at, Value: 12.5})
	m.Push(Sample{Channel: CH2, At: at, Value: -3})

	require.Eventually(t, func() bool { return fake.count() == 2 }, time.Second, 5*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()

	assert.Equal(t, "lab/qmb/ch1", fake.msgs[0].topic)
	assert.Equal(t, "lab/qmb/ch2", fake.msgs[1].topic)
	assert.Equal(t, byte(1), fake.msgs[0].qos)

	var got Sample
	require.NoError(t, json.Unmarshal(fake.msgs[0].payload, &got))
	assert.Equal(t, CH1, got.Channel)
	assert.Equal(t, 12.5, got.Value)
	assert.True(t, at.Equal(got.At))
}
