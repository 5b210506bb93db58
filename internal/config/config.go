// Package config loads server configuration.
//
// LOAD ORDER (later wins):
//
//  1. struct tag defaults (creasty/defaults)
//  2. YAML file, if one is given (CODEFLOW_CONFIG or --config)
//  3. defaults again, so keys present in YAML but left empty still get one
//  4. .env file (joho/godotenv), which never overrides the real environment
//  5. environment variables
//
// The result is checked with validator struct tags before it is returned.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the YAML path.
const EnvConfigPath = "CODEFLOW_CONFIG"

type Config struct {
	File string `yaml:"-"`

	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Assistant AssistantConfig `yaml:"assistant"`
	Editor    EditorConfig    `yaml:"editor"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read-timeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"write-timeout" default:"90s"`
	IdleTimeout  time.Duration `yaml:"idle-timeout" default:"60s"`
	// SecureCookies marks the auth cookie Secure; turn on behind HTTPS.
	SecureCookies bool `yaml:"secure-cookies"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend" default:"sqlite" validate:"oneof=sqlite mongo"`
	SQLitePath    string `yaml:"sqlite-path" default:"data/codeflow.db"`
	MongoURI      string `yaml:"mongo-uri" validate:"required_if=Backend mongo"`
	MongoDatabase string `yaml:"mongo-database" default:"codeflow"`
	// SnippetIndex declares the (user_id, created_at) composite index. With
	// it off, listing falls back to sorting in the service.
	SnippetIndex *bool `yaml:"snippet-index" default:"true"`
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt-secret"`
	TokenTTL           time.Duration `yaml:"token-ttl" default:"24h"`
	GitHubClientID     string        `yaml:"github-client-id"`
	GitHubClientSecret string        `yaml:"github-client-secret"`
	GitHubCallbackURL  string        `yaml:"github-callback-url"`
}

type ExecutorConfig struct {
	Backend     string        `yaml:"backend" default:"docker" validate:"oneof=docker judge0 none"`
	Languages   []string      `yaml:"languages"`
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	PoolSize    int           `yaml:"pool-size" default:"1" validate:"min=0"`
	Judge0URL   string        `yaml:"judge0-url" default:"https://ce.judge0.com/" validate:"omitempty,url"`
	Judge0Token string        `yaml:"judge0-token"`
	PerMinute   int           `yaml:"per-minute" default:"10" validate:"min=1"`
	PerHour     int           `yaml:"per-hour" default:"50" validate:"min=1"`
}

type AssistantConfig struct {
	APIKey  string `yaml:"api-key"`
	Model   string `yaml:"model" default:"gemini-1.5-flash"`
	BaseURL string `yaml:"base-url" default:"https://generativelanguage.googleapis.com" validate:"omitempty,url"`
}

type EditorConfig struct {
	AutosaveDelay time.Duration `yaml:"autosave-delay" default:"2s"`
	SavedDecay    time.Duration `yaml:"saved-decay" default:"2s"`
	IdleTimeout   time.Duration `yaml:"idle-timeout" default:"30m"`
	SweepSchedule string        `yaml:"sweep-schedule" default:"@every 1m"`
}

// Load builds the configuration from path (may be empty) and the
// environment.
func Load(path string) (*Config, error) {
	c := new(Config)
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config: setting defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if err := defaults.Set(c); err != nil {
			return nil, fmt.Errorf("config: setting defaults: %w", err)
		}
		c.File = path
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDotEnv loads the first .env file found among paths into the process
// environment and returns its path, or "" when none exists. Variables that
// are already set are left alone.
func LoadDotEnv(paths ...string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return "", fmt.Errorf("config: loading %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside
// tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid SECURE_COOKIES %q: %w", v, err)
		}
		c.Server.SecureCookies = b
	}

	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Store.Backend, "STORE_BACKEND")
	str(&c.Store.SQLitePath, "DB_PATH")
	str(&c.Store.MongoURI, "MONGO_URI")
	str(&c.Store.MongoDatabase, "MONGO_DATABASE")
	str(&c.Auth.JWTSecret, "JWT_SECRET")
	str(&c.Auth.GitHubClientID, "GITHUB_CLIENT_ID")
	str(&c.Auth.GitHubClientSecret, "GITHUB_CLIENT_SECRET")
	str(&c.Auth.GitHubCallbackURL, "GITHUB_CALLBACK_URL")
	str(&c.Executor.Backend, "EXECUTOR_BACKEND")
	str(&c.Executor.Judge0URL, "JUDGE0_URL")
	str(&c.Executor.Judge0Token, "JUDGE0_TOKEN")
	str(&c.Assistant.APIKey, "GEMINI_API_KEY", "GOOGLE_AI_API_KEY")
	str(&c.Assistant.Model, "GEMINI_MODEL")

	if v, ok := lookup("EXECUTOR_LANGUAGES"); ok && v != "" {
		c.Executor.Languages = splitList(v)
	}

	if c.Auth.GitHubCallbackURL == "" {
		c.Auth.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Server.Port)
	}
	return nil
}

// SnippetIndexEnabled reports whether the composite index is declared.
func (c *Config) SnippetIndexEnabled() bool {
	return c.Store.SnippetIndex == nil || *c.Store.SnippetIndex
}

// SlogLevel maps Log.Level onto slog.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LogValue lets the config be logged with secrets masked.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("file", c.File),
		slog.Int("port", c.Server.Port),
		slog.String("logLevel", c.Log.Level),
		slog.String("store", c.Store.Backend),
		slog.String("sqlitePath", c.Store.SQLitePath),
		slog.String("mongoURI", mask(c.Store.MongoURI)),
		slog.Bool("snippetIndex", c.SnippetIndexEnabled()),
		slog.String("jwtSecret", mask(c.Auth.JWTSecret)),
		slog.Duration("tokenTTL", c.Auth.TokenTTL),
		slog.String("githubClientID", c.Auth.GitHubClientID),
		slog.String("githubClientSecret", mask(c.Auth.GitHubClientSecret)),
		slog.String("executor", c.Executor.Backend),
		slog.String("judge0Token", mask(c.Executor.Judge0Token)),
		slog.String("assistantKey", mask(c.Assistant.APIKey)),
		slog.String("assistantModel", c.Assistant.Model),
		slog.Duration("autosaveDelay", c.Editor.AutosaveDelay),
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
