package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Discord is the discordgo edge. Connection handling is the library's
// concern; this wrapper only feeds the queue and sends replies.
type Discord struct {
	session *discordgo.Session
	logger  zerolog.Logger
}

// NewDiscord builds a Discord session for the bot token.
func NewDiscord(token string, logger zerolog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return &Discord{
		session: session,
		logger:  logger.With().Str("component", "discord").Logger(),
	}, nil
}

// Attach registers the message handler feeding the gateway queue. The
// bot's own messages are ignored.
func (d *Discord) Attach(g *Gateway) {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		g.Enqueue(Message{
			Content:   m.Content,
			AuthorID:  m.Author.ID,
			ChannelID: m.ChannelID,
		})
	})
}

// Open connects to the Discord gateway.
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	d.logger.Info().Msg("discord connection open")
	return nil
}

// Close shuts the connection down.
func (d *Discord) Close() error {
	return d.session.Close()
}

// Reply sends a message to a channel.
func (d *Discord) Reply(channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content)
	return err
}
