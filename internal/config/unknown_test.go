package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("log_level", "log_levl"))
	assert.Equal(t, 2, levenshtein("fragmnet_size", "fragment_size"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "client_id", closestMatch("clientid", knownKeys))
	assert.Equal(t, "max_retries", closestMatch("max_retrie", knownKeys))
	assert.Empty(t, closestMatch("zzzzzzzzzzzz", knownKeys))
}

func TestKnownKeysCoverConfig(t *testing.T) {
	assert.Contains(t, knownKeys, "variant")
	assert.Contains(t, knownKeys, "bandwidth_limit")
	assert.Contains(t, knownKeys, "user_agent")
	assert.IsIncreasing(t, knownKeys)
}
