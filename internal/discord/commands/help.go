package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vitrola/internal/discord"
)

// handleHelp lists every registered command. It counts as activity for an
// existing session.
func (mc *MusicCommands) handleHelp(ctx context.Context, r *discord.Request) error {
	mc.player.Touch(ctx, r.GuildID)
	r.ReplyEmbed(ctx, HelpEmbed(r.Prefix, mc.router.Commands()))
	return nil
}

// HelpEmbed renders the help table.
func HelpEmbed(prefix string, cmds []discord.CommandInfo) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		usage := ""
		if c.Usage != "" {
			usage = " " + c.Usage
		}
		lines = append(lines, fmt.Sprintf("%s%s%s - %s", prefix, c.Name, usage, c.Description))
	}
	return discord.Embed("Comandos do Bot de Música", strings.Join(lines, "\n"), discord.ColorBlue)
}

func (mc *MusicCommands) handleHistory(ctx context.Context, r *discord.Request) error {
	mc.player.Touch(ctx, r.GuildID)
	if mc.history == nil {
		r.Reply(ctx, "O histórico está desativado.")
		return nil
	}
	entries, err := mc.history.Recent(ctx, r.GuildID, mc.historyLimit)
	if err != nil {
		r.Reply(ctx, "Não foi possível carregar o histórico.")
		return fmt.Errorf("commands: history: %w", err)
	}
	if len(entries) == 0 {
		r.Reply(ctx, "Nenhuma música tocada ainda.")
		return nil
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s (%s) · <t:%d:R>", i+1, e.Title, discord.FormatDuration(e.Duration), e.PlayedAt.Unix())
	}
	r.ReplyEmbed(ctx, discord.Embed("Histórico", b.String(), discord.ColorBlue))
	return nil
}
