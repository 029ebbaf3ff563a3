package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpUpload, 10*time.Millisecond, nil)
	c.RecordTiming(OpUpload, 30*time.Millisecond, errors.New("disk full"))

	s := c.Get(OpUpload)
	require.NotNil(t, s)
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(40), s.TotalTimeMs)
	assert.Equal(t, 20.0, s.AvgTimeMs)
	assert.Equal(t, int64(10), s.MinTimeMs)
	assert.Equal(t, int64(30), s.MaxTimeMs)
	assert.Nil(t, s.TotalBytes)

	assert.Nil(t, c.Get(OpUndo))
}

func TestCollectorRecordCopy(t *testing.T) {
	c := NewCollector()
	c.RecordCopy(OpRollback, time.Millisecond, 100, nil)
	c.RecordCopy(OpRollback, time.Millisecond, 400, nil)

	s := c.Get(OpRollback)
	require.NotNil(t, s)
	require.NotNil(t, s.TotalBytes)
	assert.Equal(t, int64(500), *s.TotalBytes)
	assert.Equal(t, int64(400), *s.MaxBytes)
}

func TestCollectorTime(t *testing.T) {
	c := NewCollector()

	func() (err error) {
		defer c.Time(OpScan)(&err)
		return errors.New("bad dir")
	}()

	s := c.Get(OpScan)
	require.NotNil(t, s)
	assert.Equal(t, int64(1), s.Errors)
}

func TestCollectorSnapshotSorted(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpUndo, time.Millisecond, nil)
	c.RecordTiming(OpConvert, time.Millisecond, nil)
	c.RecordTiming(OpLockWait, time.Millisecond, nil)

	snap := c.Snapshot()
	require.Len(t, snap.Operations, 3)
	assert.Equal(t, OpConvert, snap.Operations[0].Name)
	assert.Equal(t, OpLockWait, snap.Operations[1].Name)
	assert.Equal(t, OpUndo, snap.Operations[2].Name)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpUpload, time.Second, nil)
	c.RecordCopy(OpUpload, time.Second, 1, nil)
	assert.Nil(t, c.Get(OpUpload))
	assert.Empty(t, c.Snapshot().Operations)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpImport, time.Millisecond, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Get(OpImport).Count)
}
