package deployclient_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/deploywatch/pkg/deployclient"
	"github.com/nais/deploywatch/pkg/scale"
)

func validConfig() *deployclient.Config {
	cfg := deployclient.NewConfig()
	cfg.Mode = deployclient.ModeBuild
	cfg.Deployment = "dpl_8xp0dtk2"
	cfg.Token = "opaque-token"
	return cfg
}

func signedToken(t *testing.T, expiry time.Time) string {
	token, err := jwt.NewBuilder().
		Issuer("deploywatch-test").
		Expiration(expiry).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte("not-a-secret")))
	require.NoError(t, err)

	return string(signed)
}

func TestValidate(t *testing.T) {
	t.Run("valid build config", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
		assert.Empty(t, cfg.Constraints)
	})

	t.Run("mode is required", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = ""
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrModeRequired)
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "rollback"
		err := cfg.Validate()
		assert.ErrorIs(t, err, deployclient.ErrModeRequired)
		assert.Contains(t, err.Error(), "rollback")
	})

	t.Run("deployment is required", func(t *testing.T) {
		cfg := validConfig()
		cfg.Deployment = ""
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrDeploymentRequired)
	})

	t.Run("token is required", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token = ""
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrTokenRequired)
	})

	t.Run("expired JWT is rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token = signedToken(t, time.Now().Add(-time.Hour))
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrTokenExpired)
	})

	t.Run("JWT that has not expired is accepted", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token = signedToken(t, time.Now().Add(time.Hour))
		assert.NoError(t, cfg.Validate())
	})

	t.Run("poll interval must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.PollInterval = 0
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrInvalidPollInterval)
	})

	t.Run("scale mode requires constraints", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = deployclient.ModeScale
		assert.ErrorIs(t, cfg.Validate(), deployclient.ErrConstraintsRequired)
	})

	t.Run("invalid constraint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scale = []string{"sfo1"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("constraints from flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scale.yaml")
		err := os.WriteFile(path, []byte("scale:\n  sfo1:\n    min: 1\n    max: 3\n  bru1:\n    min: 0\n    max: auto\n"), 0o600)
		require.NoError(t, err)

		cfg := validConfig()
		cfg.Mode = deployclient.ModeScale
		cfg.ScaleFile = path
		cfg.Scale = []string{"sfo1=2"}

		require.NoError(t, cfg.Validate())
		assert.Equal(t, scale.Constraints{
			"sfo1": {Min: 2, Max: 2},
			"bru1": {Min: 0, Unbounded: true},
		}, cfg.Constraints)
	})
}
