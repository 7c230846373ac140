package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	require.NoError(t, Setup("debug", "json"))
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, Setup("warn", "console"))
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	require.NoError(t, Setup("info", ""))

	require.Error(t, Setup("shouting", "console"))
	require.Error(t, Setup("info", "xml"))
}
