package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eprints2archives/eprints2archives/internal/auth"
)

func TestStaticAlwaysReturnsSameCredentials(t *testing.T) {
	s := auth.Static{User: "alice", Password: "secret"}
	user, password, cancelled := s.Credentials("eprints.example.org")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", password)
	assert.False(t, cancelled)
}

func TestEnvFallbackPrefersExplicitFields(t *testing.T) {
	t.Setenv("EPRINTS2ARCHIVES_USER", "from-env")
	t.Setenv("EPRINTS2ARCHIVES_PASSWORD", "env-secret")

	e := auth.EnvFallback{User: "explicit", Password: "explicit-secret"}
	user, password, cancelled := e.Credentials("eprints.example.org")
	assert.Equal(t, "explicit", user)
	assert.Equal(t, "explicit-secret", password)
	assert.False(t, cancelled)
}

func TestEnvFallbackFallsBackToEnvironment(t *testing.T) {
	t.Setenv("EPRINTS2ARCHIVES_USER", "from-env")
	t.Setenv("EPRINTS2ARCHIVES_PASSWORD", "env-secret")

	e := auth.EnvFallback{}
	user, password, cancelled := e.Credentials("eprints.example.org")
	assert.Equal(t, "from-env", user)
	assert.Equal(t, "env-secret", password)
	assert.False(t, cancelled)
}

func TestEnvFallbackEmptyWhenNeitherSet(t *testing.T) {
	t.Setenv("EPRINTS2ARCHIVES_USER", "")
	t.Setenv("EPRINTS2ARCHIVES_PASSWORD", "")

	e := auth.EnvFallback{}
	user, password, _ := e.Credentials("eprints.example.org")
	assert.Empty(t, user)
	assert.Empty(t, password)
}
