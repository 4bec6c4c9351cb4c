package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
	"ringkv/internal/eventlog"
	"ringkv/internal/message"
)

func TestMetrics_OperationLabels(t *testing.T) {
	m := New()
	n1 := address.New(1, 0)

	m.Operation(eventlog.OpEvent{Node: n1, Coordinator: true, Op: message.KindCreate, Success: true})
	m.Operation(eventlog.OpEvent{Node: n1, Coordinator: true, Op: message.KindCreate, Success: true})
	m.Operation(eventlog.OpEvent{Node: n1, Coordinator: false, Op: message.KindRead, Success: false})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("1:0", "CREATE", "coordinator", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("1:0", "READ", "replica", "fail")))
}

func TestMetrics_NodeStatsAndHandler(t *testing.T) {
	m := New()
	n2 := address.New(2, 0)

	m.ObserveNode(n2, NodeStats{Members: 5, RingSize: 5, OpenTransactions: 2, StoredKeys: 7})
	m.NodeRemove(n2, address.New(3, 0))
	m.Stabilized(n2)
	m.MessageSent()
	m.MessageDropped()
	m.ProtocolError(n2)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.members.WithLabelValues("2:0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.membershipEvents.WithLabelValues("2:0", "remove")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ringkv_stored_keys"))
	assert.True(t, strings.Contains(body, "ringkv_stabilizations_total"))
}
