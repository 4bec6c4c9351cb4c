package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
)

type countingObserver struct {
	mu      sync.Mutex
	sent    int
	dropped int
}

func (o *countingObserver) MessageSent() {
	o.mu.Lock()
	o.sent++
	o.mu.Unlock()
}

func (o *countingObserver) MessageDropped() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func TestNetwork_FIFO(t *testing.T) {
	n := NewNetwork()
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, n.Send(a, b, []byte(p)))
	}
	assert.Equal(t, 3, n.Pending(b))

	got := n.Receive(b)
	require.Len(t, got, 3)
	assert.Equal(t, "one", string(got[0]))
	assert.Equal(t, "three", string(got[2]))
	assert.Empty(t, n.Receive(b), "inbox must be empty after draining")

	assert.Equal(t, int64(3), n.Stats(a).Sent)
	assert.Equal(t, int64(3), n.Stats(b).Received)
}

func TestNetwork_CopiesPayload(t *testing.T) {
	n := NewNetwork()
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	buf := []byte("abc")
	require.NoError(t, n.Send(a, b, buf))
	buf[0] = 'x'

	assert.Equal(t, "abc", string(n.Receive(b)[0]))
}

func TestNetwork_UnknownAddress(t *testing.T) {
	n := NewNetwork()
	a := address.New(1, 0)
	n.Register(a)

	err := n.Send(a, address.New(9, 0), []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestNetwork_DownNode(t *testing.T) {
	obs := &countingObserver{}
	n := NewNetwork(WithObserver(obs))
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	require.NoError(t, n.Send(a, b, []byte("queued")))
	n.SetDown(b, true)
	assert.True(t, n.IsDown(b))
	assert.Equal(t, 0, n.Pending(b), "queued messages are discarded")

	assert.ErrorIs(t, n.Send(a, b, []byte("lost")), ErrNodeDown)
	assert.ErrorIs(t, n.Send(b, a, []byte("lost")), ErrNodeDown)
	assert.Nil(t, n.Receive(b))

	n.SetDown(b, false)
	require.NoError(t, n.Send(a, b, []byte("back")))
	assert.Len(t, n.Receive(b), 1)

	assert.Equal(t, 2, obs.sent)
	assert.Equal(t, 2, obs.dropped)
}

func TestNetwork_DropRate(t *testing.T) {
	n := NewNetwork(WithDropRate(1), WithSeed(7))
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	for i := 0; i < 10; i++ {
		assert.NoError(t, n.Send(a, b, []byte("x")), "lost messages are silent")
	}
	assert.Equal(t, 0, n.Pending(b))
	assert.Equal(t, int64(10), n.Stats(b).Dropped)
}

func TestNetwork_PartialDropRate(t *testing.T) {
	n := NewNetwork(WithDropRate(0.5), WithSeed(42))
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	for i := 0; i < 1000; i++ {
		_ = n.Send(a, b, []byte("x"))
	}
	delivered := n.Pending(b)
	assert.Greater(t, delivered, 350)
	assert.Less(t, delivered, 650)
}

func TestNetwork_SetDropRate(t *testing.T) {
	n := NewNetwork(WithSeed(3))
	a, b := address.New(1, 0), address.New(2, 0)
	n.Register(a)
	n.Register(b)

	require.NoError(t, n.Send(a, b, []byte("kept")))
	n.SetDropRate(1)
	require.NoError(t, n.Send(a, b, []byte("lost")))
	n.SetDropRate(-2)
	require.NoError(t, n.Send(a, b, []byte("kept")))

	assert.Equal(t, [][]byte{[]byte("kept"), []byte("kept")}, n.Receive(b))
	assert.Equal(t, int64(1), n.Stats(b).Dropped)
}
