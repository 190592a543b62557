package messagelog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/pkg/types"
)

func TestLog_AppendAssignsPositions(t *testing.T) {
	l := New("s1")

	first, err := l.Append(types.Message{SenderID: "a", Content: "one"})
	require.NoError(t, err)
	second, err := l.Append(types.Message{SenderID: "b", Content: "two"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Position)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, "s1", second.SessionID)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.Timestamp.IsZero())

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "two", last.Content)
}

func TestLog_SealRejectsAppends(t *testing.T) {
	l := New("s1")
	_, err := l.Append(types.Message{Content: "before"})
	require.NoError(t, err)

	l.Seal()
	assert.True(t, l.Sealed())

	_, err = l.Append(types.Message{Content: "after"})
	assert.ErrorIs(t, err, ErrSealed)
	assert.Equal(t, 1, l.Len())
}

func TestLog_EntriesReturnsCopy(t *testing.T) {
	l := New("s1")
	_, _ = l.Append(types.Message{Content: "original"})

	entries := l.Entries()
	entries[0].Content = "mutated"

	assert.Equal(t, "original", l.Entries()[0].Content)
}

func TestLog_ConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	l := New("s1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Append(types.Message{Content: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	entries := l.Entries()
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
	}
}

func TestLog_Restore(t *testing.T) {
	l := Restore("s1", []types.Message{{ID: "m1", Position: 1}, {ID: "m2", Position: 2}})
	next, err := l.Append(types.Message{Content: "three"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Position)
}
