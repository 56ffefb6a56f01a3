package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecret(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.DevServer.JWTSecret)
	require.True(t, generated["devserver.jwt_secret"])
}

func TestApplyRuntimeDefaultsPreservesExistingSecret(t *testing.T) {
	cfg := &Config{}
	cfg.DevServer.JWTSecret = strings.Repeat("a", 10)

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.DevServer.JWTSecret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.Error(t, err)
}
