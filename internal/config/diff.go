package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs. The New* fields
// are only meaningful when the matching *Changed flag is set.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	IdleTimeoutChanged bool
	NewIdleTimeout     time.Duration

	DefaultVolumeChanged bool
	NewDefaultVolume     int

	// RestartRequired names changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// HasChanges reports whether anything hot-reloadable changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.IdleTimeoutChanged || d.DefaultVolumeChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.IdleTimeout != new.Playback.IdleTimeout {
		d.IdleTimeoutChanged = true
		d.NewIdleTimeout = new.Playback.IdleTimeout
	}
	if old.Playback.DefaultVolume != new.Playback.DefaultVolume {
		d.DefaultVolumeChanged = true
		d.NewDefaultVolume = new.Playback.DefaultVolume
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"discord.token", old.Discord.Token != new.Discord.Token},
		{"discord.prefix", old.Discord.Prefix != new.Discord.Prefix},
		{"spotify", old.Spotify != new.Spotify},
		{"resolver", !equalResolver(old.Resolver, new.Resolver)},
		{"playback.ffmpeg_path", old.Playback.FFmpegPath != new.Playback.FFmpegPath},
		{"notify", old.Notify != new.Notify},
		{"history", old.History != new.History},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}

func equalResolver(a, b ResolverConfig) bool {
	return a.YTDLPPath == b.YTDLPPath && a.Timeout == b.Timeout && slices.Equal(a.Backends, b.Backends)
}
