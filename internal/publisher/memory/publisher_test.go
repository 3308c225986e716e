package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "checkpoints", map[string]string{"uri": "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "checkpoints", msgs[0].Topic)
	assert.Equal(t, "memory-2", msgs[1].ID)
	assert.Len(t, pub.OnTopic("audit"), 1)

	msgs[0].Topic = "modified"
	assert.Equal(t, "checkpoints", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pub := New()
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "checkpoints", 1)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "checkpoints", 1)
	require.NoError(t, err)
}
