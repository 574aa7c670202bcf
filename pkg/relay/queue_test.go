package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relink-protocol/relink-go/pkg/wire"
)

func noteEnvelope(n int) *wire.Envelope {
	env, _ := wire.NewEnvelope(wire.MessageType("note"), map[string]int{"n": n})
	return env
}

func drainTypes(q *sendQueue) []wire.MessageType {
	var types []wire.MessageType
	for _, env := range q.Drain() {
		types = append(types, env.Type)
	}
	return types
}

func TestSendQueue(t *testing.T) {
	t.Run("PreservesOrder", func(t *testing.T) {
		q := newSendQueue(10)
		for i := 0; i < 3; i++ {
			assert.False(t, q.Append(noteEnvelope(i)))
		}
		require.Equal(t, 3, q.Len())

		items := q.Drain()
		require.Len(t, items, 3)
		for i, env := range items {
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(env.Payload))
		}
		assert.Equal(t, 0, q.Len())
	})

	t.Run("EvictsOldestHeartbeatFirst", func(t *testing.T) {
		q := newSendQueue(3)
		q.Append(noteEnvelope(1))
		q.Append(wire.Heartbeat())
		q.Append(noteEnvelope(2))

		assert.True(t, q.Append(noteEnvelope(3)))
		assert.Equal(t, 3, q.Len())

		types := drainTypes(q)
		for _, typ := range types {
			assert.NotEqual(t, wire.TypeHeartbeat, typ)
		}
	})

	t.Run("EvictsOldestMessageWithoutHeartbeat", func(t *testing.T) {
		q := newSendQueue(2)
		q.Append(noteEnvelope(1))
		q.Append(noteEnvelope(2))

		assert.True(t, q.Append(noteEnvelope(3)))

		items := q.Drain()
		require.Len(t, items, 2)
		assert.JSONEq(t, `{"n":2}`, string(items[0].Payload))
		assert.JSONEq(t, `{"n":3}`, string(items[1].Payload))
	})

	t.Run("DrainEmpty", func(t *testing.T) {
		q := newSendQueue(4)
		assert.Empty(t, q.Drain())
	})
}
