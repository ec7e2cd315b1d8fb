package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxHistoryLimit caps history.limit so one embed stays readable.
const maxHistoryLimit = 25

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document is a
// valid starting point when the token comes from the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets from VITROLA_* environment variables. Unset
// variables leave the file's values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set VITROLA_DISCORD_TOKEN)"))
	}
	if strings.ContainsFunc(cfg.Discord.Prefix, isSpace) {
		errs = append(errs, fmt.Errorf("discord.prefix %q must not contain whitespace", cfg.Discord.Prefix))
	}

	if (cfg.Spotify.ClientID == "") != (cfg.Spotify.ClientSecret == "") {
		errs = append(errs, errors.New("spotify.client_id and spotify.client_secret must be set together"))
	}

	seen := make(map[string]bool, len(cfg.Resolver.Backends))
	for i, b := range cfg.Resolver.Backends {
		if !slices.Contains([]string{BackendYTDLP, BackendNative}, b) {
			errs = append(errs, fmt.Errorf("resolver.backends[%d] %q is invalid; valid values: ytdlp, native", i, b))
		}
		if seen[b] {
			errs = append(errs, fmt.Errorf("resolver.backends[%d] %q is listed twice", i, b))
		}
		seen[b] = true
	}
	if cfg.Resolver.Timeout < 0 {
		errs = append(errs, fmt.Errorf("resolver.timeout %s must be positive", cfg.Resolver.Timeout))
	}

	if cfg.Playback.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.idle_timeout %s must be positive", cfg.Playback.IdleTimeout))
	}
	if v := cfg.Playback.DefaultVolume; v < 1 || v > 100 {
		errs = append(errs, fmt.Errorf("playback.default_volume %d is out of range [1, 100]", v))
	}

	if cfg.Notify.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("notify.rate_per_second %g must be positive", cfg.Notify.RatePerSecond))
	}
	if cfg.Notify.Burst < 0 {
		errs = append(errs, fmt.Errorf("notify.burst %d must be positive", cfg.Notify.Burst))
	}

	if l := cfg.History.Limit; l < 1 || l > maxHistoryLimit {
		errs = append(errs, fmt.Errorf("history.limit %d is out of range [1, %d]", l, maxHistoryLimit))
	}

	return errors.Join(errs...)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
