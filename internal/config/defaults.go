package config

import "time"

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr    = ":9090"
	DefaultPrefix        = "!"
	DefaultTimeout       = 30 * time.Second
	DefaultIdleTimeout   = 3 * time.Minute
	DefaultVolume        = 50
	DefaultFFmpegPath    = "ffmpeg"
	DefaultRatePerSecond = 5
	DefaultBurst         = 5
	DefaultMaxRetries    = 3
	DefaultHistoryLimit  = 10
)

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.Prefix == "" {
		cfg.Discord.Prefix = DefaultPrefix
	}
	if len(cfg.Resolver.Backends) == 0 {
		cfg.Resolver.Backends = []string{BackendYTDLP, BackendNative}
	}
	if cfg.Resolver.Timeout == 0 {
		cfg.Resolver.Timeout = DefaultTimeout
	}
	if cfg.Playback.IdleTimeout == 0 {
		cfg.Playback.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Playback.DefaultVolume == 0 {
		cfg.Playback.DefaultVolume = DefaultVolume
	}
	if cfg.Playback.FFmpegPath == "" {
		cfg.Playback.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.Notify.RatePerSecond == 0 {
		cfg.Notify.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Notify.Burst == 0 {
		cfg.Notify.Burst = DefaultBurst
	}
	if cfg.Notify.MaxRetries == 0 {
		cfg.Notify.MaxRetries = DefaultMaxRetries
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = DefaultHistoryLimit
	}
}
