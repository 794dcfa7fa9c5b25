package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMessageDelta(t *testing.T) {
	tests := []struct {
		name  string
		count int
		delta int
		want  int
	}{
		{"add two", 4, 2, 6},
		{"add one", 0, 1, 1},
		{"remove one", 3, -1, 2},
		{"clamped at zero", 0, -1, 0},
		{"large negative", 2, -10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyMessageDelta(ConversationMetadata{ID: "c", MessageCount: tt.count}, tt.delta)
			assert.Equal(t, tt.want, got.MessageCount)
			assert.Equal(t, "c", got.ID)
		})
	}
}

func TestRestoreMessageCount(t *testing.T) {
	meta := ConversationMetadata{ID: "c", MessageCount: 9}
	assert.Equal(t, 7, RestoreMessageCount(meta, 7).MessageCount)
	assert.Equal(t, 0, RestoreMessageCount(meta, -3).MessageCount)
	assert.Equal(t, 9, meta.MessageCount)
}

func TestMetadataListKeepsOrderAndCopies(t *testing.T) {
	l := NewMetadataList(
		ConversationMetadata{ID: "a", Name: "A", Tags: []string{"x"}},
		ConversationMetadata{ID: "b", Name: "B"},
	)
	l.Put(ConversationMetadata{ID: "a", Name: "A2", Tags: []string{"x"}})
	l.Put(ConversationMetadata{ID: "c", Name: "C", Tags: []string{"y", "x"}})

	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, "A2", list[0].Name)

	list[0].Tags[0] = "mutated"
	a, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, a.Tags)

	assert.Equal(t, []string{"x", "y"}, l.Tags())

	assert.True(t, l.Remove("b"))
	assert.False(t, l.Remove("b"))
	assert.Len(t, l.List(), 2)
}

func TestMetadataListUpdateIsIDKeyed(t *testing.T) {
	l := NewMetadataList(
		ConversationMetadata{ID: "a", MessageCount: 2},
		ConversationMetadata{ID: "b", MessageCount: 5},
	)

	updated, ok := l.UpdateMetadata("a", func(m ConversationMetadata) ConversationMetadata {
		return ApplyMessageDelta(m, 2)
	})
	require.True(t, ok)
	assert.Equal(t, 4, updated.MessageCount)

	b, _ := l.Get("b")
	assert.Equal(t, 5, b.MessageCount)

	_, ok = l.UpdateMetadata("missing", func(m ConversationMetadata) ConversationMetadata { return m })
	assert.False(t, ok)
}

func TestMetadataListConcurrentPanels(t *testing.T) {
	var items []ConversationMetadata
	for i := 0; i < 8; i++ {
		items = append(items, ConversationMetadata{ID: fmt.Sprintf("c%d", i)})
	}
	l := NewMetadataList(items...)

	var wg sync.WaitGroup
	for _, item := range items {
		id := item.ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.UpdateMetadata(id, func(m ConversationMetadata) ConversationMetadata {
					return ApplyMessageDelta(m, 1)
				})
			}
		}()
	}
	wg.Wait()

	for _, m := range l.List() {
		assert.Equal(t, 100, m.MessageCount, m.ID)
	}
}
