package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// cheap keeps the tests fast; the format is the same.
var cheap = Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	for _, pw := range []string{"pw", "", "   spaces   ", "пароль🔒密码", strings.Repeat("a", 200)} {
		hash, err := HashPasswordWith(pw, cheap)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"), hash)

		require.NoError(t, VerifyPassword(pw, hash))
		require.ErrorIs(t, VerifyPassword(pw+"x", hash), ErrMismatch)
	}
}

func TestHashIsSalted(t *testing.T) {
	t.Parallel()

	a, err := HashPasswordWith("same", cheap)
	require.NoError(t, err)
	b, err := HashPasswordWith("same", cheap)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	t.Parallel()

	for _, hash := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=64,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=64,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$c2FsdA$",
	} {
		err := VerifyPassword("pw", hash)
		require.Error(t, err, hash)
		require.NotErrorIs(t, err, ErrMismatch, hash)
	}
}

func TestAppPassword(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for range 20 {
		pw, err := GenerateAppPassword()
		require.NoError(t, err)
		require.Len(t, pw, 19)
		require.True(t, IsAppPassword(pw), pw)
		require.False(t, seen[pw])
		seen[pw] = true
	}

	require.False(t, IsAppPassword("hunter2"))
	require.False(t, IsAppPassword("ABCD-efgh-ijkl-mnop"))
}
