package streaming

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// splitWordGroups fragments text into at most n groups of whole words.
// Every group but the last carries a trailing space so clients can
// concatenate groups back into the normalized text.
func splitWordGroups(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	size := (len(words) + n - 1) / n
	groups := make([]string, 0, n)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		group := strings.Join(words[start:end], " ")
		if end < len(words) {
			group += " "
		}
		groups = append(groups, group)
	}
	return groups
}

// pacing picks a random delay in [lo, hi).
func pacing(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
