package face

import (
	"context"
	"testing"
	"time"

	"github.com/named-data/cosync/covalue"
	"github.com/named-data/cosync/defn"
	"github.com/named-data/cosync/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func known(id string) *wire.Known {
	return &wire.Known{Known: &covalue.KnownState{ID: defn.ValueID("co_" + id), Sessions: map[defn.SessionID]uint64{}}}
}

func load(id string) *wire.Load {
	return &wire.Load{Known: &covalue.KnownState{ID: defn.ValueID("co_" + id), Sessions: map[defn.SessionID]uint64{}}}
}

func batch(id string) *wire.ReconcileBatch {
	return &wire.ReconcileBatch{Batch: defn.BatchID(id)}
}

func TestPriorityOrder(t *testing.T) {
	q := NewPriorityQueue("client")

	q.Enqueue(batch("b1"))
	q.Enqueue(load("l1"))
	q.Enqueue(known("k1"))
	q.Enqueue(load("l2"))
	q.Enqueue(known("k2"))
	q.Enqueue(batch("b2"))
	assert.Equal(t, 6, q.Len())
	assert.Equal(t, 2, q.LenAt(defn.PriorityHigh))

	var got []wire.Message
	for {
		entry, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, entry.Message)
	}
	assert.Equal(t, []wire.Message{known("k1"), known("k2"), load("l1"), load("l2"), batch("b1"), batch("b2")}, got)

	stats := q.Stats()
	assert.Equal(t, "client", stats.Label)
	assert.Equal(t, uint64(2), stats.Enqueued[defn.PriorityHigh])
	assert.Equal(t, uint64(2), stats.Dequeued[defn.PriorityMedium])
	assert.Equal(t, uint64(2), stats.Dequeued[defn.PriorityLow])
	assert.Equal(t, uint64(0), stats.Enqueued[1])
}

func TestHandles(t *testing.T) {
	q := NewPriorityQueue("server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h1 := q.Enqueue(load("a"))
	h2 := q.Enqueue(load("b"))
	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	select {
	case <-h1.Done():
		t.Fatal("handle notified before dequeue")
	default:
	}
	assert.NoError(t, h1.Err())

	entry, ok := q.Dequeue()
	require.True(t, ok)
	select {
	case <-h1.Done():
		t.Fatal("handle notified before the write finished")
	default:
	}
	entry.Finish(nil)
	assert.NoError(t, h1.Wait(ctx))

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	assert.True(t, errors.Is(h2.Wait(short), context.DeadlineExceeded))

	q.Close()
	assert.True(t, errors.Is(h2.Wait(ctx), ErrQueueClosed))
	assert.True(t, errors.Is(h2.Err(), ErrQueueClosed))
	assert.True(t, q.IsClosed())

	h3 := q.Enqueue(load("c"))
	assert.True(t, errors.Is(h3.Wait(ctx), ErrQueueClosed))
	assert.Equal(t, 0, q.Len())
	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func counterValues(t *testing.T, reader sdkmetric.Reader, name string) map[int64]int64 {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	values := make(map[int64]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				role, _ := dp.Attributes.Value(attribute.Key("role"))
				assert.Equal(t, "storage", role.AsString())
				prio, ok := dp.Attributes.Value(attribute.Key("priority"))
				require.True(t, ok)
				values[prio.AsInt64()] += dp.Value
			}
		}
	}
	return values
}

func TestQueueCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer func() {
		otel.SetMeterProvider(noop.NewMeterProvider())
		_ = provider.Shutdown(context.Background())
	}()

	q := NewPriorityQueue("storage")
	q.Enqueue(known("k1"))
	q.Enqueue(load("l1"))
	q.Enqueue(load("l2"))
	q.Enqueue(batch("b1"))
	_, ok := q.Dequeue()
	require.True(t, ok)
	_, ok = q.Dequeue()
	require.True(t, ok)

	assert.Equal(t, map[int64]int64{
		int64(defn.PriorityHigh):   1,
		int64(defn.PriorityMedium): 2,
		int64(defn.PriorityLow):    1,
	}, counterValues(t, reader, "cosync.messagequeue.enqueued"))
	assert.Equal(t, map[int64]int64{
		int64(defn.PriorityHigh):   1,
		int64(defn.PriorityMedium): 1,
	}, counterValues(t, reader, "cosync.messagequeue.removed"))
}
