// Package config loads the runtime's tunables: worker count, call-stack
// frame limit, and the work-stealing retry count. An optional TOML file
// supplies defaults; environment variables (spec.md §6) always win, so a
// supervised deployment that can set env vars never needs a file on disk.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/naoina/toml"
)

// Env var names consumed by the core (spec.md §6).
const (
	EnvWorkerCount   = "SMOGVM_WORKER_COUNT"
	EnvStackLimit    = "SMOGVM_STACK_LIMIT"
	EnvStealAttempts = "SMOGVM_STEAL_ATTEMPTS"
)

// Config holds every override the VM and scheduler accept. Zero values mean
// "let the package pick its own default" (2x CPU workers, maxFrames call
// depth, 8 steal attempts).
type Config struct {
	WorkerCount   int `toml:"worker_count"`
	StackLimit    int `toml:"stack_limit"`
	StealAttempts int `toml:"steal_attempts"`
}

// tomlSettings keeps TOML keys matching the struct tags verbatim and
// rejects unknown fields in the file, rather than silently ignoring typos.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey: func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("config: unknown field %q in %s", field, rt.String())
	},
}

// Load reads path (if non-empty) as TOML into a Config, then overlays any of
// EnvWorkerCount/EnvStackLimit/EnvStealAttempts that are set. An empty path
// skips the file and uses only environment variables and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: opening %s: %w", path, err)
		}
		defer f.Close()
		if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	for _, o := range []struct {
		env    string
		target *int
	}{
		{EnvWorkerCount, &cfg.WorkerCount},
		{EnvStackLimit, &cfg.StackLimit},
		{EnvStealAttempts, &cfg.StealAttempts},
	} {
		raw, ok := os.LookupEnv(o.env)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not an integer: %w", o.env, raw, err)
		}
		*o.target = n
	}
	return nil
}
