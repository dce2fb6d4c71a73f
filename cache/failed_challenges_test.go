package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRememberedChallengeFailsRecently(t *testing.T) {
	c := NewFailedChallengesCache()
	assert.False(t, c.DidChallengeFailRecently("0xchallenge"))

	c.RememberFailedChallenge("0xchallenge", time.Minute)
	assert.True(t, c.DidChallengeFailRecently("0xchallenge"))
	assert.False(t, c.DidChallengeFailRecently("0xother"))
}

func TestChallengeExpiresAfterTTL(t *testing.T) {
	c := NewFailedChallengesCache()
	c.RememberFailedChallenge("0xchallenge", 10*time.Millisecond)

	assert.True(t, c.DidChallengeFailRecently("0xchallenge"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.DidChallengeFailRecently("0xchallenge"))
}

func TestRememberAgainExtendsTheWindow(t *testing.T) {
	c := NewFailedChallengesCache()
	c.RememberFailedChallenge("0xchallenge", 10*time.Millisecond)
	c.RememberFailedChallenge("0xchallenge", time.Minute)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.DidChallengeFailRecently("0xchallenge"))
}

func TestClearOutdatedChallengesDropsOnlyExpired(t *testing.T) {
	c := NewFailedChallengesCache()
	c.RememberFailedChallenge("0xold", 10*time.Millisecond)
	c.RememberFailedChallenge("0xfresh", time.Minute)

	time.Sleep(20 * time.Millisecond)
	c.ClearOutdatedChallenges()

	assert.Equal(t, 1, c.Size())
	assert.False(t, c.DidChallengeFailRecently("0xold"))
	assert.True(t, c.DidChallengeFailRecently("0xfresh"))
}
