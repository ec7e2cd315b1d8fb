// Package app wires the vitrola subsystems into a running bot.
//
// New builds every subsystem from the config, Run serves until the context
// is cancelled, and Shutdown tears everything down in dependency order.
// Tests inject doubles through the With* options; anything not injected is
// created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vitrola/internal/config"
	"github.com/MrWong99/vitrola/internal/discord"
	"github.com/MrWong99/vitrola/internal/discord/commands"
	"github.com/MrWong99/vitrola/internal/health"
	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/resolver"
	"github.com/MrWong99/vitrola/internal/session"
	"github.com/MrWong99/vitrola/pkg/audio"
	"github.com/MrWong99/vitrola/pkg/history"
	"github.com/MrWong99/vitrola/pkg/history/postgres"
)

// ShutdownTimeout is the budget main gives [App.Shutdown].
const ShutdownTimeout = 15 * time.Second

// readHeaderTimeout bounds the admin server's request header reads.
const readHeaderTimeout = 10 * time.Second

// Bot is the chat platform gateway. *discord.Bot implements it.
type Bot interface {
	Run(ctx context.Context) error
	Close() error
	Ready() bool
	Platform() audio.Platform
	Notifier() *discord.Notifier
	Router() *discord.CommandRouter
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	bot      Bot
	resolver session.Resolver
	history  history.Store
	manager  *session.Manager
	health   *health.Handler

	mu       sync.Mutex
	listener net.Listener

	// closers run in order at the end of Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
	stopErr  error
}

// Option configures [New].
type Option func(*App)

// WithBot injects the gateway instead of connecting to Discord.
func WithBot(b Bot) Option { return func(a *App) { a.bot = b } }

// WithResolver injects the track resolver.
func WithResolver(r session.Resolver) Option { return func(a *App) { a.resolver = r } }

// WithHistory injects the history store instead of opening PostgreSQL.
func WithHistory(h history.Store) Option { return func(a *App) { a.history = h } }

// WithTelemetry supplies the OTel providers. Their metrics back every
// instrument and their handler is served on /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.telemetry = t
		a.metrics = t.Metrics
	}
}

// WithMetrics overrides the instruments without serving /metrics.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option { return func(a *App) { a.logLevel = v } }

// New builds the application. Nothing is connected to Discord until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}
	a.logLevel.Set(cfg.Server.LogLevel.Level())

	if err := a.initResolver(ctx); err != nil {
		return nil, fmt.Errorf("app: init resolver: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initBot(); err != nil {
		return nil, fmt.Errorf("app: init bot: %w", err)
	}

	sessOpts := []session.Option{session.WithMetrics(a.metrics)}
	if a.history != nil {
		sessOpts = append(sessOpts, session.WithHistory(a.history))
	}
	a.manager = session.NewManager(a.bot.Platform(), a.resolver, a.bot.Notifier(), session.Config{
		IdleTimeout:   cfg.Playback.IdleTimeout,
		DefaultVolume: cfg.Playback.DefaultVolume,
	}, sessOpts...)
	commands.NewMusicCommands(a.bot.Router(), a.manager, a.history, cfg.History.Limit)

	a.initHealth()
	slog.Info("app: initialised",
		"backends", cfg.Resolver.Backends,
		"spotify", cfg.Spotify.Enabled(),
		"history", a.history != nil,
		"prefix", cfg.Discord.Prefix,
	)
	return a, nil
}

func (a *App) initResolver(ctx context.Context) error {
	if a.resolver != nil {
		return nil
	}
	opts := []resolver.Option{
		resolver.WithMetrics(a.metrics),
		resolver.WithTimeout(a.cfg.Resolver.Timeout),
	}
	for _, name := range a.cfg.Resolver.Backends {
		switch name {
		case config.BackendYTDLP:
			opts = append(opts, resolver.WithExtractor(resolver.SourceYTDLP, resolver.NewYTDLP(a.cfg.Resolver.YTDLPPath)))
		case config.BackendNative:
			opts = append(opts, resolver.WithExtractor(resolver.SourceNative, resolver.NewNative()))
		default:
			return fmt.Errorf("unknown backend %q", name)
		}
	}
	if a.cfg.Spotify.Enabled() {
		cat, err := resolver.NewSpotifyCatalog(ctx, resolver.SpotifyConfig{
			ClientID:     a.cfg.Spotify.ClientID,
			ClientSecret: a.cfg.Spotify.ClientSecret,
		})
		if err != nil {
			return err
		}
		opts = append(opts, resolver.WithCatalog(cat))
	} else {
		slog.Warn("app: spotify credentials not set; track links will be rejected")
	}

	r, err := resolver.New(opts...)
	if err != nil {
		return err
	}
	a.resolver = r
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil || !a.cfg.History.Enabled() {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.History.PostgresDSN)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initBot() error {
	if a.bot != nil {
		return nil
	}
	b, err := discord.New(discord.Config{
		Token:      a.cfg.Discord.Token,
		Prefix:     a.cfg.Discord.Prefix,
		FFmpegPath: a.cfg.Playback.FFmpegPath,
		Notify: discord.NotifierConfig{
			RatePerSecond: a.cfg.Notify.RatePerSecond,
			Burst:         a.cfg.Notify.Burst,
			MaxRetries:    a.cfg.Notify.MaxRetries,
		},
	}, a.metrics)
	if err != nil {
		return err
	}
	a.bot = b
	return nil
}

func (a *App) initHealth() {
	checks := []health.Checker{
		health.Gateway(a.bot.Ready),
		health.Executable("ffmpeg", a.cfg.Playback.FFmpegPath),
	}
	if p, ok := a.history.(health.Pinger); ok {
		checks = append(checks, health.Ping("history", p))
	}
	a.health = health.New(checks...)
}

// Manager returns the session controller.
func (a *App) Manager() *session.Manager { return a.manager }

// Handler returns the admin HTTP handler: health probes, /metrics when
// telemetry is configured, all wrapped in [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// Run connects to Discord and serves the admin endpoints until ctx is
// cancelled or one of them fails. Call [App.Shutdown] afterwards.
func (a *App) Run(ctx context.Context) error {
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: admin listen %q: %w", addr, err)
		}
		a.mu.Lock()
		a.listener = ln
		a.mu.Unlock()
		slog.Info("app: admin server listening", "addr", ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.bot.Run(gctx) })

	if a.listener != nil {
		srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: readHeaderTimeout}
		g.Go(func() error {
			if err := srv.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), readHeaderTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("app: running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// AdminAddr returns the admin server's bound address once Run is
// listening, or nil.
func (a *App) AdminAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Reload applies the hot-reloadable part of a config change. It is the
// callback for [config.Watcher].
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.IdleTimeoutChanged {
		a.manager.SetIdleTimeout(d.NewIdleTimeout)
		slog.Info("app: idle timeout changed", "idle_timeout", d.NewIdleTimeout)
	}
	if d.DefaultVolumeChanged {
		a.manager.SetDefaultVolume(d.NewDefaultVolume)
		slog.Info("app: default volume changed", "default_volume", d.NewDefaultVolume)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "settings", d.RestartRequired)
	}
}

// Shutdown ends every session (disconnecting voice and flushing pending
// notices), then closes the gateway, the history store and telemetry. It
// is safe to call more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		slog.Info("app: shutting down", "sessions", a.manager.Len())

		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		if err := a.bot.Close(); err != nil {
			errs = append(errs, err)
		}
		for i, c := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := c(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("app: shutdown complete")
	})
	return a.stopErr
}
