package eventqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AcquireReleaseReusesPool(t *testing.T) {
	b := Acquire()
	b.EventType = 0x00010001
	b.SetValues([]float32{1, 2, 3})
	assert.Equal(t, []float32{1, 2, 3}, b.Values())
	b.Release()

	b2 := Acquire()
	assert.Equal(t, uint32(0), b2.EventType)
	assert.Empty(t, b2.Values())
	b2.Release()
}

func TestBuffer_RetainKeepsAliveUntilAllReleased(t *testing.T) {
	b := Acquire()
	b.Retain()
	b.Release()
	ev := b.ToSensorEvent()
	assert.Equal(t, uint32(0), ev.EventType)
	b.Release()
}

func TestQueue_PushPopFIFO(t *testing.T) {
	q := New(4)
	for i := 0; i < 3; i++ {
		b := Acquire()
		b.TimestampUS = int64(i)
		require.NoError(t, q.Push(b))
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		b, err := q.Pop()
		require.NoError(t, err)
		assert.Equal(t, int64(i), b.TimestampUS)
		b.Release()
	}
}

func TestQueue_TryPushFailsWhenFull(t *testing.T) {
	q := New(1)
	ok, err := q.TryPush(Acquire())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.TryPush(Acquire())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_CloseUnblocksWaitingPop(t *testing.T) {
	q := New(4)
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestQueue_CloseStillDrainsBuffered(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Push(Acquire()))
	q.Close()

	b, err := q.Pop()
	require.NoError(t, err)
	require.NotNil(t, b)

	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrQueueClosed)
}
