package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFO(t *testing.T) {
	var q fifo
	_, ok := q.pop()
	assert.False(t, ok)

	q.push("a")
	q.push("b")
	q.push("c")
	assert.Equal(t, 3, q.len())

	// Re-pushing moves an id to the back instead of duplicating it.
	q.push("a")
	assert.Equal(t, 3, q.len())

	assert.True(t, q.remove("b"))
	assert.False(t, q.remove("b"))

	id, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, "c", id)
	id, _ = q.pop()
	assert.Equal(t, "a", id)
	assert.Equal(t, 0, q.len())

	q.push("d")
	q.reset()
	assert.Equal(t, 0, q.len())
}
