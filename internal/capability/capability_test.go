package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	token, h, err := Issue()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, Verify(token, h))
	assert.False(t, Verify(token+"x", h))
	assert.False(t, Verify("", h))
}

func TestIssue_DistinctTokensAndSalts(t *testing.T) {
	t1, h1, err := Issue()
	require.NoError(t, err)
	t2, h2, err := Issue()
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2)
	assert.NotEqual(t, h1, h2)
	assert.False(t, Verify(t1, h2))
}

func TestVerify_MalformedHash(t *testing.T) {
	for _, h := range []Hash{"", "no-separator", "!!!$abc", "YWJj$!!!"} {
		assert.False(t, Verify("token", h), string(h))
	}
}
