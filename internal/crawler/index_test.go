package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexFirstWriteWins(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	require.True(t, idx.Insert(Record{IdentityKey: "k", Text: "first"}))
	require.False(t, idx.Insert(Record{IdentityKey: "k", Text: "second"}))
	require.True(t, idx.Insert(Record{IdentityKey: "j", Text: "third", IsExpanded: true}))

	records := idx.Records()
	assert.Equal(t, "first", records[0].Text)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, idx.CountExpanded())
	assert.Equal(t, []string{"k", "j"}, keys(idx.Records()))
}

func TestIndexRecordsIsCopy(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert(Record{IdentityKey: "k", Text: "first"})
	out := idx.Records()
	out[0].Text = "mutated"

	assert.Equal(t, "first", idx.Records()[0].Text)
}

func TestVisitedSet(t *testing.T) {
	t.Parallel()

	v := newVisitedSet()
	assert.True(t, v.add("a"))
	assert.False(t, v.add("a"))
	assert.True(t, v.add("b"))
	assert.Equal(t, 2, v.len())
}
