package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	svc := NewService()

	hash, err := svc.Hash("s3cret-pass")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "s3cret-pass", hash)

	assert.True(t, svc.Verify(hash, "s3cret-pass"))
	assert.False(t, svc.Verify(hash, "wrong-pass"))
}

func TestHashRejectsEmptyPlaintext(t *testing.T) {
	svc := NewService()
	_, err := svc.Hash("")
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestVerifyMalformedInputReturnsFalse(t *testing.T) {
	svc := NewService()
	assert.False(t, svc.Verify("", "anything"))
	assert.False(t, svc.Verify("not-a-bcrypt-hash", "anything"))
	assert.False(t, svc.Verify("$2a$10$short", ""))
}

func TestIssueConfirmationCodeUnique(t *testing.T) {
	svc := NewService()
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		code, err := svc.IssueConfirmationCode()
		require.NoError(t, err)
		require.NotEmpty(t, code)
		require.False(t, seen[code], "duplicate confirmation code issued")
		seen[code] = true
	}
}

func TestCodesMatch(t *testing.T) {
	assert.True(t, CodesMatch("abc123", "abc123"))
	assert.False(t, CodesMatch("abc123", "abc124"))
	assert.False(t, CodesMatch("", ""))
	assert.False(t, CodesMatch("", "abc"))
	assert.False(t, CodesMatch("abc", ""))
}
