package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	wkt    string
	remote bool
}

func TestQueue_Empty(t *testing.T) {
	q := New[write]()
	assert.True(t, q.Empty())
	assert.Zero(t, q.Len())

	_, ok := q.Pop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
	assert.Empty(t, q.Drain())
}

func TestQueue_FIFO(t *testing.T) {
	q := New[write]()
	q.Push(write{wkt: "POINT(1 2)"}, write{wkt: "POINT(3 4)", remote: true})
	q.Push(write{wkt: "POINT(5 6)"})
	require.Equal(t, 3, q.Len())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "POINT(1 2)", head.wkt)
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"POINT(1 2)", "POINT(3 4)", "POINT(5 6)"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got.wkt)
	}
	assert.True(t, q.Empty())
}

func TestQueue_ReusesStorageAfterEmptying(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	q.Pop()
	q.Pop()
	q.Push(3)

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, got)
	assert.Zero(t, q.Len())
}

func TestQueue_Drain(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3, 4)
	q.Pop()

	assert.Equal(t, []int{2, 3, 4}, q.Drain())
	assert.True(t, q.Empty())

	q.Push(5)
	assert.Equal(t, []int{5}, q.Drain())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := range 100 {
				q.Push(base*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
	seen := make(map[int]bool)
	for _, v := range q.Drain() {
		seen[v] = true
	}
	assert.Len(t, seen, 1000)
}
