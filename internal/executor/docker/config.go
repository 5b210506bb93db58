package docker

import (
	"sort"
	"time"
)

// Runtime describes how to run one language inside a container.
type Runtime struct {
	// Image is the Docker image that has the toolchain installed.
	Image string
	// File is the name the source is written to under /tmp.
	File string
	// Run is the shell command that compiles (if needed) and runs /tmp/<File>.
	Run string
	// Env is extra environment for the exec, e.g. cache dirs for compilers.
	Env []string
}

// Config holds the configuration for Docker execution.
type Config struct {
	// Runtimes maps a language name to the runtime used for it.
	Runtimes map[string]Runtime
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the maximum amount of time the execution can take.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers kept per language.
	PoolSize int
}

// DefaultRuntimes covers the languages that have small official images.
// Anything else is rejected with executor.ErrUnsupportedLanguage.
func DefaultRuntimes() map[string]Runtime {
	return map[string]Runtime{
		"python": {
			Image: "python:3.12-alpine",
			File:  "main.py",
			Run:   "python /tmp/main.py",
		},
		"javascript": {
			Image: "node:20-alpine",
			File:  "main.js",
			Run:   "node /tmp/main.js",
		},
		"ruby": {
			Image: "ruby:3.3-alpine",
			File:  "main.rb",
			Run:   "ruby /tmp/main.rb",
		},
		"bash": {
			Image: "bash:5.2",
			File:  "main.sh",
			Run:   "bash /tmp/main.sh",
		},
		"go": {
			Image: "golang:1.25-alpine",
			File:  "main.go",
			Run:   "cd /tmp && go run main.go",
			Env:   []string{"HOME=/tmp", "GOCACHE=/tmp/.cache", "GOPATH=/tmp/go", "CGO_ENABLED=0"},
		},
		"c": {
			Image: "gcc:14",
			File:  "main.c",
			Run:   "gcc -O2 -o /tmp/main /tmp/main.c && /tmp/main",
		},
		"cpp": {
			Image: "gcc:14",
			File:  "main.cpp",
			Run:   "g++ -O2 -o /tmp/main /tmp/main.cpp && /tmp/main",
		},
	}
}

// DefaultConfig provides sensible defaults for the sandbox.
func DefaultConfig() Config {
	return Config{
		Runtimes: DefaultRuntimes(),
		// 128 MB memory limit
		MemoryLimit: 128 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit: 0.5,
		// compilers need more than the interpreters did
		Timeout:  10 * time.Second,
		PoolSize: 1,
	}
}

// Only narrows the runtime table to the given languages. Unknown names are
// ignored; an empty list keeps everything.
func (c Config) Only(languages ...string) Config {
	if len(languages) == 0 {
		return c
	}
	kept := make(map[string]Runtime, len(languages))
	for _, lang := range languages {
		if rt, ok := c.Runtimes[lang]; ok {
			kept[lang] = rt
		}
	}
	c.Runtimes = kept
	return c
}

// Languages lists the configured languages in a stable order.
func (c Config) Languages() []string {
	out := make([]string, 0, len(c.Runtimes))
	for lang := range c.Runtimes {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
