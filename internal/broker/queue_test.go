// ABOUTME: Tests for the waiting queue's ordering and membership operations.

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingQueue(t *testing.T) {
	var q waitingQueue

	_, ok := q.popHead()
	assert.False(t, ok)

	q.push("c1")
	q.push("c2")
	q.push("c3")
	assert.True(t, q.contains("c2"))
	assert.False(t, q.contains("c9"))

	head, ok := q.popHead()
	require.True(t, ok)
	assert.Equal(t, "c1", head)

	q.restoreHead("c1")
	assert.Equal(t, waitingQueue{"c1", "c2", "c3"}, q)

	q.remove("c2")
	assert.Equal(t, waitingQueue{"c1", "c3"}, q)

	q.remove("not-there")
	assert.Equal(t, waitingQueue{"c1", "c3"}, q)
}
