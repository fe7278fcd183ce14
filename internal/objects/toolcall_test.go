package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnake(t *testing.T) {
	tests := map[string]string{
		"Support Chat":    "support_chat",
		"supportChat":     "support_chat",
		"already_snake":   "already_snake",
		"  Team--Board  ": "team_board",
		"v2 API":          "v2_api",
		"":                "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Snake(in))
		})
	}
}
