package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/internal/observe"
)

// commandTimeout bounds a single command, voice join and resolution
// included.
const commandTimeout = 60 * time.Second

// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
// mean" reply.
const suggestThreshold = 0.8

// HandlerFunc handles one command. Handlers reply through the request
// themselves; the returned error only feeds logs and metrics.
type HandlerFunc func(ctx context.Context, r *Request) error

// VoiceLocator returns the voice channel a guild member is connected to,
// or "" when they are not in one.
type VoiceLocator func(guildID, userID string) string

// Request is one parsed command message.
type Request struct {
	GuildID   string
	ChannelID string
	AuthorID  string

	// VoiceChannelID is the author's voice channel at dispatch time.
	VoiceChannelID string

	// Command is the lowercased command name without prefix.
	Command string

	// Args is the raw remainder after the command name, trimmed.
	Args string

	// Prefix is the router's command prefix.
	Prefix string

	out *Notifier
}

// Reply posts content to the request's channel.
func (r *Request) Reply(ctx context.Context, content string) {
	_ = r.out.Send(ctx, r.ChannelID, content)
}

// ReplyEmbed posts an embed to the request's channel.
func (r *Request) ReplyEmbed(ctx context.Context, e *discordgo.MessageEmbed) {
	_ = r.out.SendEmbed(ctx, r.ChannelID, e)
}

// CommandInfo describes a registered command for help output.
type CommandInfo struct {
	Name        string
	Usage       string
	Description string
}

type commandEntry struct {
	info    CommandInfo
	handler HandlerFunc
}

// CommandRouter dispatches prefixed guild messages to registered handlers.
type CommandRouter struct {
	prefix  string
	out     *Notifier
	voice   VoiceLocator
	metrics *observe.Metrics

	mu       sync.RWMutex
	commands map[string]commandEntry
	order    []string
}

// NewCommandRouter creates an empty router. A nil metrics uses
// [observe.DefaultMetrics].
func NewCommandRouter(prefix string, out *Notifier, voice VoiceLocator, metrics *observe.Metrics) *CommandRouter {
	if prefix == "" {
		prefix = "!"
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &CommandRouter{
		prefix:   prefix,
		out:      out,
		voice:    voice,
		metrics:  metrics,
		commands: make(map[string]commandEntry),
	}
}

// Prefix returns the command prefix.
func (r *CommandRouter) Prefix() string { return r.prefix }

// RegisterCommand registers handler under name. usage is the argument
// hint shown in help, e.g. "[0-100]".
func (r *CommandRouter) RegisterCommand(name, usage, description string, handler HandlerFunc) {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = commandEntry{
		info:    CommandInfo{Name: name, Usage: usage, Description: description},
		handler: handler,
	}
}

// Commands returns the registered commands in registration order.
func (r *CommandRouter) Commands() []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CommandInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name].info)
	}
	return out
}

// Parse splits a prefixed message into command name and arguments.
func (r *CommandRouter) Parse(content string) (name, args string, ok bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), r.prefix)
	if !ok || rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

// Dispatch handles a message from the gateway. Messages from bots, direct
// messages and messages without the prefix are ignored.
func (r *CommandRouter) Dispatch(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	name, args, ok := r.Parse(m.Content)
	if !ok {
		return
	}

	req := &Request{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Command:   name,
		Args:      args,
		Prefix:    r.prefix,
		out:       r.out,
	}

	r.mu.RLock()
	entry, found := r.commands[name]
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if !found {
		r.metrics.RecordCommand(ctx, "unknown", "rejected")
		if s, ok := r.suggest(name); ok {
			req.Reply(ctx, fmt.Sprintf("Comando desconhecido. Você quis dizer `%s%s`?", r.prefix, s))
		}
		slog.Debug("discord: unknown command", "command", name, "guild_id", m.GuildID)
		return
	}

	if r.voice != nil {
		req.VoiceChannelID = r.voice(m.GuildID, m.Author.ID)
	}

	start := time.Now()
	err := entry.handler(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.RecordCommand(ctx, name, outcome)
	slog.Debug("discord: command handled",
		"command", name,
		"guild_id", m.GuildID,
		"duration", time.Since(start),
		"err", err,
	)
}

// suggest returns the registered command closest to name.
func (r *CommandRouter) suggest(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, bestScore := "", 0.0
	for _, cand := range r.order {
		if score := matchr.JaroWinkler(name, cand, false); score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best, bestScore >= suggestThreshold
}
