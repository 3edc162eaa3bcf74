package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDrainSameSession(t *testing.T) {
	b := New()
	b.Enqueue("hello", "s1")

	msg, ok := b.Drain("s1")
	require.True(t, ok)
	require.Equal(t, "hello", msg.Content)
	require.Equal(t, 0, b.Len())
}

func TestDrainEmptyBuffer(t *testing.T) {
	b := New()
	_, ok := b.Drain("s1")
	require.False(t, ok)
}

func TestDrainSessionMismatchClearsWholeBuffer(t *testing.T) {
	b := New()
	b.Enqueue("first", "s1")
	b.Enqueue("second", "s1")

	_, ok := b.Drain("s3")
	require.False(t, ok)
	require.Equal(t, 0, b.Len())

	_, ok = b.Drain("s1")
	require.False(t, ok)
}

func TestDrainOnlyPopsHeadWhenMatched(t *testing.T) {
	b := New()
	b.Enqueue("first", "s1")
	b.Enqueue("second", "s1")

	msg, ok := b.Drain("s1")
	require.True(t, ok)
	require.Equal(t, "first", msg.Content)
	require.Equal(t, 1, b.Len())
}
