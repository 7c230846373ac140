package synthesis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"no punctuation", "just a fragment", []string{"just a fragment"}},
		{"two sentences", "First one. Second one.", []string{"First one.", "Second one."}},
		{"mixed terminators", "Really?! Yes. Fine", []string{"Really?!", "Yes.", "Fine"}},
		{"decimal not split", "Pi is 3.14 roughly. Next.", []string{"Pi is 3.14 roughly.", "Next."}},
		{"ellipsis", "Wait... done.", []string{"Wait...", "done."}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, splitSentences(tc.in))
		})
	}
}
