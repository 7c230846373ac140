package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_CountsKnownModel(t *testing.T) {
	c := NewCounter()

	n, err := c.Count("gpt-4", "hello world")
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.LessOrEqual(t, n, 4)

	empty, err := c.Count("gpt-4", "")
	require.NoError(t, err)
	require.Equal(t, 0, empty)
}

func TestCounter_UnknownModelFallsBack(t *testing.T) {
	c := NewCounter()

	n, err := c.Count("made-up-model-9000", "hello world")
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestCounter_CachesCodecPerModel(t *testing.T) {
	c := NewCounter()

	_, err := c.Count("gpt-4", "once")
	require.NoError(t, err)
	_, err = c.Count("gpt-4", "twice")
	require.NoError(t, err)

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Len(t, c.codecs, 1)
}
