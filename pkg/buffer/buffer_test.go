package buffer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBasicOperations(t *testing.T) {
	buf, err := NewCircular[string](3)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))

	assert.True(t, buf.IsFull())
	assert.Equal(t, 3, buf.Size())

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", v)
	assert.Equal(t, 3, buf.Size(), "peek must not consume")

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", v)

	batch := buf.ReadBatch(5)
	assert.Equal(t, []string{"second", "third"}, batch)
	assert.True(t, buf.IsEmpty())

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestDropOldestKeepsMostRecent(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](3,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	// Capacity 3, wrote 5: items 1 and 2 dropped, 3..5 retained in order
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{3, 4, 5}, buf.DrainAll())
	assert.Equal(t, int64(2), buf.Stats().Drops())
}

func TestDropNewestRejectsNewItems(t *testing.T) {
	buf, err := NewCircular[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // silently dropped

	assert.Equal(t, []int{1, 2}, buf.DrainAll())
	assert.Equal(t, int64(1), buf.Stats().Drops())
}

func TestDrainAllIsAtomicAndOrdered(t *testing.T) {
	buf, err := NewCircular[int](8)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 8; i++ {
		require.NoError(t, buf.Write(i))
	}
	got := buf.DrainAll()
	require.Len(t, got, 8)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Nil(t, buf.DrainAll())
}

func TestWriteAfterCloseFails(t *testing.T) {
	buf, err := NewCircular[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())

	assert.Error(t, buf.Write(2))

	// Reads still drain remaining items after close
	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestConcurrentWritersAndDrainer(t *testing.T) {
	buf, err := NewCircular[int](128)
	require.NoError(t, err)
	defer buf.Close()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	var drained atomic.Int64
	done := make(chan struct{})
	drainerDone := make(chan struct{})

	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-done:
				drained.Add(int64(len(buf.DrainAll())))
				return
			default:
				drained.Add(int64(len(buf.ReadBatch(16))))
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	wg.Wait()
	close(done)
	<-drainerDone

	// Every write is either drained or accounted as a drop
	stats := buf.Stats()
	total := drained.Load() + stats.Drops() + int64(buf.Size())
	assert.Equal(t, int64(writers*perWriter), total)
}
