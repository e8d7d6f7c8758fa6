package routing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomName(t *testing.T) {
	assert.Equal(t, "conv-abc", RoomName("abc"))

	convID, ok := ParseRoom("conv-abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", convID)

	_, ok = ParseRoom("lobby")
	assert.False(t, ok)
}

func TestTokenIssuer(t *testing.T) {
	t.Run("issued token verifies", func(t *testing.T) {
		issuer := NewTokenIssuer("test-secret", time.Hour)

		token, err := issuer.Issue("conv-1", "alice", "Alice")
		require.NoError(t, err)

		room, identity, err := issuer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, RoomName("conv-1"), room)
		assert.Equal(t, "alice", identity)
	})

	t.Run("rejects tampered token", func(t *testing.T) {
		issuer := NewTokenIssuer("test-secret", time.Hour)

		token, err := issuer.Issue("conv-1", "alice", "Alice")
		require.NoError(t, err)

		encoded, signature, ok := strings.Cut(token, ".")
		require.True(t, ok)

		forged, err := NewTokenIssuer("other-secret", time.Hour).Issue("conv-1", "mallory", "Mallory")
		require.NoError(t, err)
		forgedEncoded, _, _ := strings.Cut(forged, ".")

		_, _, err = issuer.Verify(forgedEncoded + "." + signature)
		assert.Error(t, err)

		_, _, err = issuer.Verify(encoded + ".deadbeef")
		assert.Error(t, err)
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		token, err := NewTokenIssuer("secret-a", time.Hour).Issue("conv-1", "alice", "Alice")
		require.NoError(t, err)

		_, _, err = NewTokenIssuer("secret-b", time.Hour).Verify(token)
		assert.Error(t, err)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		issuer := NewTokenIssuer("test-secret", -time.Minute)

		token, err := issuer.Issue("conv-1", "alice", "Alice")
		require.NoError(t, err)

		_, _, err = issuer.Verify(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		issuer := NewTokenIssuer("test-secret", time.Hour)
		_, _, err := issuer.Verify("not-a-token")
		assert.Error(t, err)
	})
}
