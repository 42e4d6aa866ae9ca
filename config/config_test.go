package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	// GIVEN: A YAML file, environment variables and flags that overlap
	// WHEN: Loading
	// THEN: Flags beat env, env beats the file, the file beats defaults

	path := filepath.Join(t.TempDir(), "relief.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
db: from-file.db
log_mode: production
reconcile_interval: 30s
predictor_url: http://model.local/predict
`), 0o600))

	cfg, err := load(
		[]string{"-config", path, "-port", "9100"},
		env(map[string]string{"RELIEF_PORT": "9050", "RELIEF_DB": "from-env.db"}),
	)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, "production", cfg.LogMode)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, "http://model.local/predict", cfg.PredictorURL)
	assert.Equal(t, 5*time.Second, cfg.PredictorTimeout)
}

func TestLoad_UnsetFlagsDoNotOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relief.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o600))

	cfg, err := load([]string{"-config", path, "-db", ":memory:"}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad port flag", []string{"-port", "0"}, nil},
		{"bad env port", nil, map[string]string{"RELIEF_PORT": "http"}},
		{"bad log mode", []string{"-log", "loud"}, nil},
		{"negative interval", []string{"-reconcile-interval", "-1s"}, nil},
		{"zero predictor timeout", []string{"-predictor-timeout", "0s"}, nil},
		{"missing file", []string{"-config", "/nonexistent/relief.yaml"}, nil},
		{"unknown flag", []string{"-verbose"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}
