package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/MrWong99/vitrola/internal/observe"
	"github.com/MrWong99/vitrola/internal/session"
)

// Notification outcomes recorded in metrics.
const (
	notifySent    = "sent"
	notifyRetried = "rate_limited"
	notifyDropped = "dropped"
)

// MessageSender is the subset of [discordgo.Session] used to post
// messages.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NotifierConfig configures a [Notifier].
type NotifierConfig struct {
	// RatePerSecond and Burst throttle all outbound messages. Defaults: 5
	// and 5.
	RatePerSecond float64
	Burst         int

	// MaxRetries bounds resends after rate-limit responses. Zero disables
	// retries.
	MaxRetries int

	// Prefix is the command prefix shown in notices. Defaults to "!".
	Prefix string
}

// Notifier posts messages to text channels. A rate-limit response is
// retried after the delay Discord asks for, up to MaxRetries times; any
// other failure is logged and dropped. It implements [session.Notifier].
//
// The underlying session must have ShouldRetryOnRateLimit disabled,
// otherwise discordgo sleeps and retries on its own and the bound here is
// meaningless.
type Notifier struct {
	sender     MessageSender
	limiter    *rate.Limiter
	maxRetries int
	prefix     string
	metrics    *observe.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ session.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier posting through sender. A nil metrics
// uses [observe.DefaultMetrics].
func NewNotifier(sender MessageSender, cfg NotifierConfig, metrics *observe.Metrics) *Notifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Notifier{
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		prefix:     cfg.Prefix,
		metrics:    metrics,
		sleep:      sleepCtx,
	}
}

// Prefix returns the command prefix used in notices.
func (n *Notifier) Prefix() string { return n.prefix }

// Send posts a plain text message.
func (n *Notifier) Send(ctx context.Context, channelID, content string) error {
	return n.send(ctx, channelID, &discordgo.MessageSend{Content: content})
}

// SendEmbed posts a single embed.
func (n *Notifier) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	return n.send(ctx, channelID, embedMessage(embed))
}

// Notify implements [session.Notifier].
func (n *Notifier) Notify(ctx context.Context, channelID string, notice session.Notice) {
	msg := NoticeMessage(notice, n.prefix)
	if msg == nil {
		slog.Warn("discord: notice without rendering", "kind", notice.Kind.String())
		return
	}
	_ = n.send(ctx, channelID, msg)
}

// send delivers msg. The returned error has already been logged.
func (n *Notifier) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	for attempt := 0; ; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			n.drop(ctx, channelID, err)
			return err
		}

		_, err := n.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
		if err == nil {
			n.metrics.RecordNotification(ctx, notifySent)
			return nil
		}

		var rl *discordgo.RateLimitError
		if !errors.As(err, &rl) || attempt >= n.maxRetries {
			n.drop(ctx, channelID, err)
			return err
		}

		wait := retryAfter(rl)
		slog.Info("discord: rate limited, retrying",
			"channel_id", channelID,
			"retry_after", wait,
			"attempt", attempt+1,
		)
		n.metrics.RecordNotification(ctx, notifyRetried)
		if err := n.sleep(ctx, wait); err != nil {
			n.drop(ctx, channelID, err)
			return err
		}
	}
}

func (n *Notifier) drop(ctx context.Context, channelID string, err error) {
	slog.Warn("discord: message dropped", "channel_id", channelID, "err", err)
	n.metrics.RecordNotification(ctx, notifyDropped)
}

func retryAfter(rl *discordgo.RateLimitError) time.Duration {
	if rl.RateLimit == nil || rl.TooManyRequests == nil || rl.RetryAfter <= 0 {
		return time.Second
	}
	return rl.RetryAfter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
