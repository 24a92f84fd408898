package social

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLoginName(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":        "jane.doe",
		"  Spaced  Name ": "spaced.name",
		"Édith Piaf":      "edith.piaf",
		"under_score":     "under_score",
		"dash-name":       "dash-name",
		"weird!!chars##":  "weirdchars",
		"...dots...":      "dots",
		"日本語":             "user",
		"":                "user",
		"CamelCase":       "camelcase",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeLoginName(input), "input %q", input)
	}
}
