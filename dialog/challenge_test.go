package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wwwChallenge = `Digest realm="ims.example.com", nonce="n0nce1", algorithm=MD5, qop="auth"`
const wwwChallengeStale = `Digest realm="ims.example.com", nonce="n0nce2", algorithm=MD5, qop="auth", stale=true`
const wwwChallengeFresh = `Digest realm="ims.example.com", nonce="n0nce3", algorithm=MD5, qop="auth"`

func TestChallengeStoreUpdate(t *testing.T) {
	t.Run("InsertsNewRealm", func(t *testing.T) {
		cs := newChallengeStore()
		c, err := cs.update(wwwChallenge, false, false)
		require.NoError(t, err)
		assert.Equal(t, "ims.example.com", c.Realm)
		assert.Equal(t, "n0nce1", c.Nonce)
		assert.False(t, c.Proxy)
	})

	t.Run("RejectsReplayWithoutStaleOrNewVector", func(t *testing.T) {
		cs := newChallengeStore()
		_, err := cs.update(wwwChallenge, false, false)
		require.NoError(t, err)

		_, err = cs.update(wwwChallengeFresh, false, false)
		assert.ErrorIs(t, err, ErrBadNonce)
	})

	t.Run("ReplacesWhenStale", func(t *testing.T) {
		cs := newChallengeStore()
		_, err := cs.update(wwwChallenge, false, false)
		require.NoError(t, err)

		c, err := cs.update(wwwChallengeStale, false, false)
		require.NoError(t, err)
		assert.Equal(t, "n0nce2", c.Nonce)
		assert.True(t, c.Stale)
	})

	t.Run("ReplacesWhenAcceptingNewVector", func(t *testing.T) {
		cs := newChallengeStore()
		_, err := cs.update(wwwChallenge, false, false)
		require.NoError(t, err)

		c, err := cs.update(wwwChallengeFresh, false, true)
		require.NoError(t, err)
		assert.Equal(t, "n0nce3", c.Nonce)
	})

	t.Run("WWWAndProxyAreIndependent", func(t *testing.T) {
		cs := newChallengeStore()
		_, err := cs.update(wwwChallenge, false, false)
		require.NoError(t, err)
		_, err = cs.update(wwwChallenge, true, false)
		require.NoError(t, err)

		all := cs.all()
		assert.Len(t, all, 2)
	})
}

func TestChallengeAuthorizationHeader(t *testing.T) {
	cs := newChallengeStore()
	c, err := cs.update(wwwChallenge, false, false)
	require.NoError(t, err)

	h, err := c.authorizationHeader("REGISTER", "sip:ims.example.com", "alice@ims.example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", h.Name())
	assert.Contains(t, h.Value(), `username="alice@ims.example.com"`)
	assert.Contains(t, h.Value(), `realm="ims.example.com"`)
}

func TestChallengeAuthorizationHeaderProxy(t *testing.T) {
	cs := newChallengeStore()
	c, err := cs.update(wwwChallenge, true, false)
	require.NoError(t, err)

	h, err := c.authorizationHeader("INVITE", "sip:ims.example.com", "alice@ims.example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Proxy-Authorization", h.Name())
}

func TestChallengeStoreEmpty(t *testing.T) {
	cs := newChallengeStore()
	assert.True(t, cs.empty())
	_, err := cs.update(wwwChallenge, false, false)
	require.NoError(t, err)
	assert.False(t, cs.empty())
}
