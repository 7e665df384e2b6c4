package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("readFile", 10*time.Millisecond, nil)
	m.RecordRequest("readFile", 30*time.Millisecond, errors.New("boom"))
	m.RecordRequest("stat", time.Millisecond, nil)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Requests)
	assert.Equal(t, int64(1), snap.Errors)
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate(), 0.001)
	assert.False(t, snap.LastErrorTime.IsZero())

	require.Len(t, snap.Ops, 2)
	assert.Equal(t, "readFile", snap.Ops[0].Op)
	assert.Equal(t, "stat", snap.Ops[1].Op)

	rf, ok := snap.Op("readFile")
	require.True(t, ok)
	assert.Equal(t, int64(2), rf.Requests)
	assert.Equal(t, int64(1), rf.Errors)
	assert.Equal(t, 20*time.Millisecond, rf.AverageLatency)
	assert.Equal(t, 30*time.Millisecond, rf.MaxLatency)

	_, ok = snap.Op("copy")
	assert.False(t, ok)
}

func TestMetrics_Volume(t *testing.T) {
	m := New()
	m.RecordRead(5)
	m.RecordRead(7)
	m.RecordWrite(3)
	m.RecordNotification(true)
	m.RecordNotification(false)

	snap := m.Snapshot()
	assert.Equal(t, int64(12), snap.BytesRead)
	assert.Equal(t, int64(3), snap.BytesWritten)
	assert.Equal(t, int64(1), snap.Notifications)
	assert.Equal(t, int64(1), snap.DroppedNotifications)
}

func TestMetrics_Reset(t *testing.T) {
	m := New()
	m.RecordRequest("copy", time.Millisecond, errors.New("x"))
	m.RecordRead(1)
	m.Reset()

	snap := m.Snapshot()
	assert.Empty(t, snap.Ops)
	assert.Zero(t, snap.BytesRead)
	assert.Zero(t, snap.ErrorRate())
	assert.True(t, snap.LastErrorTime.IsZero())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("stat", time.Millisecond, nil)
		m.RecordRead(1)
		m.RecordWrite(1)
		m.RecordNotification(true)
	})
}

func TestMetrics_Concurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRequest("writeFile", time.Microsecond, nil)
			m.RecordWrite(2)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(50), snap.Requests)
	assert.Equal(t, int64(100), snap.BytesWritten)
}
