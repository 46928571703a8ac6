package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
)

var userMentionRegex = regexp.MustCompile(`^<@!?(\d+)>$`)

const defaultTimeout = 10 * time.Minute

// moderationPermissions maps each action to the permission bits the
// invoker must hold. Commands can tighten this further through
// RequiredPermissions; this floor always applies.
var moderationPermissions = map[string]int64{
	"kick":    discordgo.PermissionKickMembers,
	"ban":     discordgo.PermissionBanMembers,
	"unban":   discordgo.PermissionBanMembers,
	"timeout": discordgo.PermissionModerateMembers,
	"purge":   discordgo.PermissionManageMessages,
	"warn":    discordgo.PermissionKickMembers,
}

// moderate executes a moderation command: kick, ban, unban, timeout,
// purge or warn. The invoker needs the action's permission bits even when
// the command itself declares none.
func (e *CommandEngine) moderate(inv *gateway.Invocation, cmd *models.Command) error {
	action := strings.ToLower(cmd.ModerationAction)
	required, ok := moderationPermissions[action]
	if !ok {
		return fmt.Errorf("unknown moderation action %q", action)
	}
	if inv.GuildID == "" {
		return inv.Reply("Moderation commands only work in a server.")
	}

	perms, err := inv.Conn.MemberPermissions(inv.GuildID, inv.ChannelID, inv.UserID)
	if err != nil {
		return fmt.Errorf("resolving permissions: %w", err)
	}
	if perms&required != required {
		return inv.ReplyEphemeral("You do not have permission to do that.")
	}

	switch action {
	case "purge":
		return e.purge(inv)
	case "kick":
		return e.kick(inv)
	case "ban":
		return e.ban(inv)
	case "unban":
		return e.unban(inv)
	case "timeout":
		return e.timeout(inv)
	case "warn":
		return e.warn(inv)
	}
	return nil
}

// parseTarget resolves the first argument as a user mention or a raw id.
func parseTarget(args []string) (userID string, rest []string, ok bool) {
	if len(args) == 0 {
		return "", nil, false
	}
	if m := userMentionRegex.FindStringSubmatch(args[0]); m != nil {
		return m[1], args[1:], true
	}
	if _, err := strconv.ParseUint(args[0], 10, 64); err == nil {
		return args[0], args[1:], true
	}
	return "", nil, false
}

func reasonFrom(rest []string) string {
	if len(rest) == 0 {
		return "No reason provided"
	}
	return strings.Join(rest, " ")
}

func (e *CommandEngine) kick(inv *gateway.Invocation) error {
	target, rest, ok := parseTarget(inv.Args)
	if !ok {
		return inv.Reply("Usage: kick @user [reason]")
	}
	if err := inv.Conn.Kick(inv.GuildID, target, reasonFrom(rest)); err != nil {
		return fmt.Errorf("kicking %s: %w", target, err)
	}
	return inv.Reply(fmt.Sprintf("Kicked <@%s>.", target))
}

func (e *CommandEngine) ban(inv *gateway.Invocation) error {
	target, rest, ok := parseTarget(inv.Args)
	if !ok {
		return inv.Reply("Usage: ban @user [reason]")
	}
	if err := inv.Conn.Ban(inv.GuildID, target, reasonFrom(rest)); err != nil {
		return fmt.Errorf("banning %s: %w", target, err)
	}
	return inv.Reply(fmt.Sprintf("Banned <@%s>.", target))
}

func (e *CommandEngine) unban(inv *gateway.Invocation) error {
	target, _, ok := parseTarget(inv.Args)
	if !ok {
		return inv.Reply("Usage: unban <user id>")
	}
	if err := inv.Conn.Unban(inv.GuildID, target); err != nil {
		return fmt.Errorf("unbanning %s: %w", target, err)
	}
	return inv.Reply(fmt.Sprintf("Unbanned <@%s>.", target))
}

// timeout mutes a member. An optional duration argument like 30m or 2h
// follows the target; default is ten minutes.
func (e *CommandEngine) timeout(inv *gateway.Invocation) error {
	target, rest, ok := parseTarget(inv.Args)
	if !ok {
		return inv.Reply("Usage: timeout @user [duration]")
	}
	d := defaultTimeout
	if len(rest) > 0 {
		if parsed, err := time.ParseDuration(rest[0]); err == nil && parsed > 0 {
			d = parsed
		}
	}
	if err := inv.Conn.Timeout(inv.GuildID, target, time.Now().Add(d)); err != nil {
		return fmt.Errorf("timing out %s: %w", target, err)
	}
	return inv.Reply(fmt.Sprintf("Timed out <@%s> for %s.", target, d))
}

// purge bulk-deletes recent messages in the channel, capped at 100 per
// invocation by the platform.
func (e *CommandEngine) purge(inv *gateway.Invocation) error {
	n := 10
	if len(inv.Args) > 0 {
		if parsed, err := strconv.Atoi(inv.Args[0]); err == nil {
			n = parsed
		}
	}
	if n < 1 || n > 100 {
		return inv.Reply("Please give a count between 1 and 100.")
	}

	deleted, err := inv.Conn.Purge(inv.ChannelID, n)
	if err != nil {
		return fmt.Errorf("purging %d messages: %w", n, err)
	}
	return inv.ReplyEphemeral(fmt.Sprintf("Deleted %d messages.", deleted))
}

func (e *CommandEngine) warn(inv *gateway.Invocation) error {
	target, rest, ok := parseTarget(inv.Args)
	if !ok {
		return inv.Reply("Usage: warn @user [reason]")
	}
	return inv.Reply(fmt.Sprintf("<@%s>, you have been warned: %s", target, reasonFrom(rest)))
}
