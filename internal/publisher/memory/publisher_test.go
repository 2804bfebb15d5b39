package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "harvests", map[string]string{"run_id": "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "harvests", msgs[0].Topic)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(msgs[0].Data))
	assert.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "harvests", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "harvests", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	assert.Empty(t, pub.Messages())
}
