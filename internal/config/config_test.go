package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable applyEnv reads, so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "SECURE_COOKIES", "LOG_LEVEL", "STORE_BACKEND", "DB_PATH", "MONGO_URI", "MONGO_DATABASE",
		"JWT_SECRET", "GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_CALLBACK_URL",
		"EXECUTOR_BACKEND", "EXECUTOR_LANGUAGES", "JUDGE0_URL", "JUDGE0_TOKEN",
		"GEMINI_API_KEY", "GOOGLE_AI_API_KEY", "GEMINI_MODEL",
	} {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "sqlite", c.Store.Backend)
	assert.Equal(t, "data/codeflow.db", c.Store.SQLitePath)
	assert.True(t, c.SnippetIndexEnabled())
	assert.Equal(t, 24*time.Hour, c.Auth.TokenTTL)
	assert.Equal(t, "docker", c.Executor.Backend)
	assert.Equal(t, 10, c.Executor.PerMinute)
	assert.Equal(t, 50, c.Executor.PerHour)
	assert.Equal(t, 2*time.Second, c.Editor.AutosaveDelay)
	assert.Equal(t, 2*time.Second, c.Editor.SavedDecay)
	assert.Equal(t, "@every 1m", c.Editor.SweepSchedule)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", c.Auth.GitHubCallbackURL)
	assert.Equal(t, slog.LevelInfo, c.SlogLevel())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
server:
  port: 9000
log:
  level: debug
store:
  snippet-index: false
  sqlite-path: ""
editor:
  autosave-delay: 500ms
executor:
  backend: judge0
  languages: [python, go]
`)
	t.Setenv("JWT_SECRET", "from-env-secret")
	t.Setenv("EXECUTOR_LANGUAGES", "ruby, c")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, c.File)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, slog.LevelDebug, c.SlogLevel())
	assert.False(t, c.SnippetIndexEnabled())
	assert.Equal(t, "data/codeflow.db", c.Store.SQLitePath, "empty YAML value gets the default back")
	assert.Equal(t, 500*time.Millisecond, c.Editor.AutosaveDelay)
	assert.Equal(t, "judge0", c.Executor.Backend)
	assert.Equal(t, []string{"ruby", "c"}, c.Executor.Languages)
	assert.Equal(t, "from-env-secret", c.Auth.JWTSecret)
	assert.Equal(t, "http://localhost:9000/auth/github/callback", c.Auth.GitHubCallbackURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{name: "unknown backend", yaml: "store:\n  backend: postgres\n", want: "Backend"},
		{name: "mongo without uri", yaml: "store:\n  backend: mongo\n", want: "MongoURI"},
		{name: "bad port env", env: map[string]string{"PORT": "eighty"}, want: "PORT"},
		{name: "bad log level", yaml: "log:\n  level: loud\n", want: "Level"},
		{name: "bad yaml", yaml: "server: [", want: "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeYAML(t, tt.yaml)
			}

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv_LegacyAssistantKey(t *testing.T) {
	c := &Config{}
	env := map[string]string{"GOOGLE_AI_API_KEY": "legacy"}
	require.NoError(t, c.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "legacy", c.Assistant.APIKey)

	env["GEMINI_API_KEY"] = "preferred"
	require.NoError(t, c.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "preferred", c.Assistant.APIKey)
}

func TestLogValue_MasksSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "super-secret-value")
	t.Setenv("GEMINI_API_KEY", "AIza-very-secret")

	c, err := Load("")
	require.NoError(t, err)

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("config loaded", slog.Any("config", c))

	out := buf.String()
	assert.NotContains(t, out, "super-secret-value")
	assert.NotContains(t, out, "AIza-very-secret")
	assert.Contains(t, out, "config.jwtSecret=****")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CODEFLOW_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("CODEFLOW_TEST_DOTENV", "")
	os.Unsetenv("CODEFLOW_TEST_DOTENV")

	got, err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, envFile, got)
	assert.Equal(t, "loaded", os.Getenv("CODEFLOW_TEST_DOTENV"))

	got, err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
