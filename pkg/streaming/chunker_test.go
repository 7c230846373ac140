package streaming

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitWordGroups_Reassembles(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog again and again"
	groups := splitWordGroups(text, 5)
	require.NotEmpty(t, groups)
	require.LessOrEqual(t, len(groups), 5)
	// trailing spaces make plain concatenation reproduce the text
	require.Equal(t, text, strings.Join(groups, ""))
}

func TestSplitWordGroups_ShortInputs(t *testing.T) {
	require.Equal(t, []string{"single"}, splitWordGroups("single", 10))
	require.Nil(t, splitWordGroups("", 10))
	require.Nil(t, splitWordGroups("   ", 10))
	require.Equal(t, []string{"a b c"}, splitWordGroups("a b c", 0))
}

func TestSplitWordGroups_NormalizesWhitespace(t *testing.T) {
	groups := splitWordGroups("a  b\n c\t d", 2)
	require.Len(t, groups, 2)
	require.Equal(t, "a b c d", strings.Join(groups, ""))
}

func TestPacing_StaysInRange(t *testing.T) {
	lo, hi := 100*time.Millisecond, 300*time.Millisecond
	for i := 0; i < 200; i++ {
		d := pacing(lo, hi)
		require.GreaterOrEqual(t, d, lo)
		require.Less(t, d, hi)
	}
	require.Equal(t, lo, pacing(lo, lo))
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.Error(t, sleepCtx(ctx, time.Minute))
	require.Less(t, time.Since(start), time.Second)
}
