package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(24)
	require.NoError(t, err)
	assert.Len(t, token, 32)

	hash, err := HashToken([]byte(token))
	require.NoError(t, err)
	assert.True(t, TokenCorrect(token, hash))
	assert.False(t, TokenCorrect(token+"x", hash))
	assert.False(t, TokenCorrect(token, "not a hash"))
}

func TestGenerateTokenLength(t *testing.T) {
	for _, length := range []int{0, 15, MaxTokenBytes + 1} {
		_, err := GenerateToken(length)
		assert.Error(t, err, "length %d", length)
	}

	token, err := GenerateToken(MaxTokenBytes)
	require.NoError(t, err)
	assert.Len(t, token, 72)
	hash, err := HashToken([]byte(token))
	require.NoError(t, err)
	assert.True(t, TokenCorrect(token, hash))
	assert.False(t, TokenCorrect("", hash))
}
