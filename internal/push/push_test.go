package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "fcm-ab…mnop", maskToken("fcm-abcdefghijklmnop", false))
	assert.Equal(t, "abcd…", maskToken("abcde", false))
	assert.Equal(t, "****", maskToken("ab", false))
	assert.Equal(t, "secret-token", maskToken("secret-token", true))
}

func TestCachedBearerFreshWithinSafetyMargin(t *testing.T) {
	c := &cachedBearer{}
	assert.False(t, c.fresh(), "an empty cache must never be considered fresh")

	c.token = "cached"
	c.expiresAt = time.Now().Add(30 * time.Second)
	assert.False(t, c.fresh(), "a token expiring inside the safety margin must not be considered fresh")

	c.expiresAt = time.Now().Add(2 * time.Minute)
	assert.True(t, c.fresh(), "a token with more than the safety margin left is fresh")
}
