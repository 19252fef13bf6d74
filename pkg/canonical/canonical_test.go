package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{"zeta": 1, "alpha": "x", "mid": true})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","mid":true,"zeta":1}`, string(out))
}

func TestJCSDoesNotEscapeHTML(t *testing.T) {
	out, err := JCS(map[string]string{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, string(out))
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	a, err := Hash(map[string]any{"vendor": "DELTA", "amount": 42017})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"amount": 42017, "vendor": "DELTA"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashDistinguishesValues(t *testing.T) {
	a, err := Hash(map[string]any{"text": "uber trip"})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"text": "uber eats"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
