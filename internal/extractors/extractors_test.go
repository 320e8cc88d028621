package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlayerServerExtractor_RejectsInvalidParamName(t *testing.T) {
	_, err := NewPlayerServerExtractor("server-id", "player", nil)
	require.Error(t, err)
}

func TestNewPlayerServerExtractor_AcceptsValidParamNames(t *testing.T) {
	e, err := NewPlayerServerExtractor("server", "player", nil)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestMustNewMapServerExtractor_PanicsOnInvalidPattern(t *testing.T) {
	assert.Panics(t, func() {
		MustNewMapServerExtractor("", "map", nil)
	})
}
