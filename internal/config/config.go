// Package config provides the configuration schema and loader for the
// vitrola music bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Resolver backend names accepted in resolver.backends.
const (
	BackendYTDLP  = "ytdlp"
	BackendNative = "native"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Resolver ResolverConfig `yaml:"resolver"`
	Playback PlaybackConfig `yaml:"playback"`
	Notify   NotifyConfig   `yaml:"notify"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics server. Empty
	// disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the gateway credentials and command prefix.
type DiscordConfig struct {
	Token  string `yaml:"token" env:"VITROLA_DISCORD_TOKEN"`
	Prefix string `yaml:"prefix"`
}

// SpotifyConfig holds client-credentials for Spotify track links. Both
// fields empty disables link support.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" env:"VITROLA_SPOTIFY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"VITROLA_SPOTIFY_CLIENT_SECRET"`
}

// Enabled reports whether credentials are configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// ResolverConfig selects and tunes the track resolution backends.
type ResolverConfig struct {
	// Backends lists extraction backends in fallback order.
	Backends []string `yaml:"backends"`

	// YTDLPPath overrides the yt-dlp executable. Empty searches PATH.
	YTDLPPath string `yaml:"ytdlp_path"`

	Timeout time.Duration `yaml:"timeout"`
}

// PlaybackConfig holds per-session playback settings.
type PlaybackConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	DefaultVolume int           `yaml:"default_volume"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
}

// NotifyConfig bounds outgoing chat messages.
type NotifyConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// MaxRetries is how often a rate-limited message is retried. Zero
	// selects the default; a negative value disables retries.
	MaxRetries int `yaml:"max_retries"`
}

// HistoryConfig configures the play history store. An empty DSN disables
// history.
type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"VITROLA_POSTGRES_DSN"`
	Limit       int    `yaml:"limit"`
}

// Enabled reports whether a database is configured.
func (h HistoryConfig) Enabled() bool { return h.PostgresDSN != "" }
