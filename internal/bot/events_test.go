package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsmith/botsmith/internal/gateway"
	"github.com/botsmith/botsmith/internal/models"
	"github.com/botsmith/botsmith/pkg/logger"
)

func testEventEngine(t *testing.T, rules ...models.EventRule) (*EventEngine, *fakeConn) {
	t.Helper()
	engine := NewEventEngine("bot-cfg", logger.Default().Logger, nil)
	conn := newFakeConn()
	engine.Resync(conn, &models.BotConfig{Events: rules})
	return engine, conn
}

func memberAdd(userID, username, guildID string) *discordgo.GuildMemberAdd {
	return &discordgo.GuildMemberAdd{
		Member: &discordgo.Member{
			GuildID: guildID,
			User:    &discordgo.User{ID: userID, Username: username},
		},
	}
}

func TestWelcomeMessagePlaceholders(t *testing.T) {
	_, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventMemberAdd,
		Config:    models.EventConfig{WelcomeChannelID: "welcome"},
		Action: models.EventAction{
			Type:    models.ActionSendMessage,
			Message: "Welcome {user} to {server}! You are member #{memberCount}.",
		},
	})
	conn.guilds["g1"] = &discordgo.Guild{ID: "g1", Name: "Testers", MemberCount: 7}

	conn.fire(gateway.EventMemberAdd, memberAdd("u5", "newbie", "g1"))

	msgs := conn.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome", msgs[0].ChannelID)
	assert.Equal(t, "Welcome <@u5> to Testers! You are member #7.", msgs[0].Content)
}

func TestMemberAddAssignsRole(t *testing.T) {
	_, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventMemberAdd,
		Action:    models.EventAction{Type: models.ActionAssignRole, RoleID: "role-9"},
	})

	conn.fire(gateway.EventMemberAdd, memberAdd("u5", "newbie", "g1"))
	require.Len(t, conn.roleAdds, 1)
	assert.Equal(t, "u5:role-9", conn.roleAdds[0])
}

func TestRoleReactionAddAndRemove(t *testing.T) {
	rule := models.EventRule{
		ID:        "r1",
		EventType: models.EventReactionAdd,
		Config: models.EventConfig{
			RoleReactions: []models.RoleReaction{{Emoji: "🎮", RoleID: "gamer"}},
		},
	}
	_, conn := testEventEngine(t, rule)

	conn.fire(gateway.EventReactionAdd, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:  "u2",
			GuildID: "g1",
			Emoji:   discordgo.Emoji{Name: "🎮"},
		},
	})
	require.Len(t, conn.roleAdds, 1)
	assert.Equal(t, "u2:gamer", conn.roleAdds[0])

	// The bot's own reactions must not trigger role grants.
	conn.fire(gateway.EventReactionAdd, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:  "bot-1",
			GuildID: "g1",
			Emoji:   discordgo.Emoji{Name: "🎮"},
		},
	})
	assert.Len(t, conn.roleAdds, 1)
}

func TestUnmappedEmojiIsIgnored(t *testing.T) {
	_, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventReactionAdd,
		Config: models.EventConfig{
			RoleReactions: []models.RoleReaction{{Emoji: "🎮", RoleID: "gamer"}},
		},
	})

	conn.fire(gateway.EventReactionAdd, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:  "u2",
			GuildID: "g1",
			Emoji:   discordgo.Emoji{Name: "🔥"},
		},
	})
	assert.Empty(t, conn.roleAdds)
}

func TestMessageDeleteLogsToChannel(t *testing.T) {
	_, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventMessageDelete,
		Config:    models.EventConfig{LogChannelID: "modlog"},
	})

	conn.fire(gateway.EventMessageDelete, &discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "m1", ChannelID: "c1"},
		BeforeDelete: &discordgo.Message{
			Content: "something rude",
		},
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.embeds, 1)
	assert.Equal(t, "modlog", conn.embeds[0].ChannelID)
	assert.Contains(t, conn.embeds[0].Embeds[0].Description, "something rude")
}

func TestMessageEditLogsOnlyRealChanges(t *testing.T) {
	_, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventMessageUpdate,
		Config:    models.EventConfig{LogChannelID: "modlog"},
	})

	conn.fire(gateway.EventMessageUpdate, &discordgo.MessageUpdate{
		Message:      &discordgo.Message{ID: "m1", ChannelID: "c1", Content: "after"},
		BeforeUpdate: &discordgo.Message{Content: "before"},
	})
	// Embed unfurls fire updates with identical content; those stay quiet.
	conn.fire(gateway.EventMessageUpdate, &discordgo.MessageUpdate{
		Message:      &discordgo.Message{ID: "m1", ChannelID: "c1", Content: "after"},
		BeforeUpdate: &discordgo.Message{Content: "after"},
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.embeds, 1)
	assert.Equal(t, "modlog", conn.embeds[0].ChannelID)
	fields := conn.embeds[0].Embeds[0].Fields
	require.Len(t, fields, 2)
	assert.Equal(t, "before", fields[0].Value)
	assert.Equal(t, "after", fields[1].Value)
}

func TestTruncateTextKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "héllo", truncateText("héllo", 10))
	assert.Equal(t, "日本語の…", truncateText("日本語のテキストです", 5))
}

func TestResyncDropsRemovedRules(t *testing.T) {
	engine, conn := testEventEngine(t, models.EventRule{
		ID:        "r1",
		EventType: models.EventMemberAdd,
		Config:    models.EventConfig{WelcomeChannelID: "welcome"},
		Action:    models.EventAction{Type: models.ActionSendMessage, Message: "hi {username}"},
	})
	assert.Equal(t, 1, conn.handlerCount(gateway.EventMemberAdd))

	// Resync with no rules detaches everything.
	engine.Resync(conn, &models.BotConfig{})
	assert.Equal(t, 0, conn.handlerCount(gateway.EventMemberAdd))

	conn.fire(gateway.EventMemberAdd, memberAdd("u5", "newbie", "g1"))
	assert.Empty(t, conn.sentMessages())
}

func TestDetachRemovesAllListeners(t *testing.T) {
	engine, conn := testEventEngine(t,
		models.EventRule{ID: "r1", EventType: models.EventMemberAdd, Action: models.EventAction{Type: models.ActionAssignRole, RoleID: "x"}},
		models.EventRule{ID: "r2", EventType: models.EventMessageDelete, Config: models.EventConfig{LogChannelID: "log"}},
	)
	assert.Equal(t, 1, conn.handlerCount(gateway.EventMemberAdd))
	assert.Equal(t, 1, conn.handlerCount(gateway.EventMessageDelete))

	engine.Detach()
	assert.Equal(t, 0, conn.handlerCount(gateway.EventMemberAdd))
	assert.Equal(t, 0, conn.handlerCount(gateway.EventMessageDelete))
}
