package eventlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
	"ringkv/internal/message"
)

func TestMemory_CountsOnlyCoordinatorEvents(t *testing.T) {
	m := NewMemory()
	n1 := address.New(1, 0)

	m.Operation(OpEvent{Node: n1, Coordinator: true, TxID: 1, Op: message.KindCreate, Success: true})
	m.Operation(OpEvent{Node: n1, Coordinator: false, TxID: 1, Op: message.KindCreate, Success: true})
	m.Operation(OpEvent{Node: n1, Coordinator: true, TxID: 2, Op: message.KindRead, Success: false})

	assert.Equal(t, 1, m.Count(message.KindCreate, true))
	assert.Equal(t, 1, m.Count(message.KindRead, false))
	assert.Len(t, m.Coordinated(n1, 1), 1)
	assert.Len(t, m.Operations(), 3)

	m.Reset()
	assert.Empty(t, m.Operations())
}

func TestMemory_Membership(t *testing.T) {
	m := NewMemory()
	n1, n2 := address.New(1, 0), address.New(2, 0)

	m.NodeAdd(n1, n2)
	assert.False(t, m.Removed(n1, n2))

	m.NodeRemove(n1, n2)
	assert.True(t, m.Removed(n1, n2))
	assert.Len(t, m.Membership(), 2)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	var l Logger = Multi{a, b, Discard{}}

	l.NodeAdd(address.New(1, 0), address.New(2, 0))
	l.Operation(OpEvent{Coordinator: true, Op: message.KindDelete, Success: true})

	assert.Len(t, a.Membership(), 1)
	assert.Len(t, b.Operations(), 1)
}

func TestLogrus_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	l := NewLogrus(logrus.NewEntry(logger))
	l.Operation(OpEvent{
		Node:        address.New(3, 0),
		Coordinator: true,
		TxID:        17,
		Op:          message.KindUpdate,
		Key:         "k",
		Value:       "v",
		Success:     false,
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "3:0", line["node"])
	assert.Equal(t, "UPDATE", line["op"])
	assert.Equal(t, "fail", line["outcome"])
	assert.Equal(t, float64(17), line["tx"])
	assert.Equal(t, "events", line["component"])
}
