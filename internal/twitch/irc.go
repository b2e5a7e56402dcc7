package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coneflip-overlay/server/internal/config"
)

const ircURL = "wss://irc-ws.chat.twitch.tv:443"

// ChatMessage is a parsed PRIVMSG from the channel.
type ChatMessage struct {
	User string
	Text string
}

// MessageHandler receives parsed chat messages.
type MessageHandler func(ctx context.Context, msg ChatMessage)

// IRCClient is the bot's connection to Twitch chat. It joins a single channel,
// answers server PINGs and reconnects with backoff when the link drops.
type IRCClient struct {
	botName string
	token   string
	channel string
	handler MessageHandler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIRCClient creates a chat client for the configured bot account.
func NewIRCClient(cfg *config.TwitchConfig, handler MessageHandler, logger *slog.Logger) *IRCClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &IRCClient{
		botName: cfg.BotName,
		token:   cfg.BotAccessToken,
		channel: strings.ToLower(cfg.Channel),
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start connects and begins the read loop. Reconnects are handled internally
// until Stop is called.
func (c *IRCClient) Start() {
	go c.run()
}

// Stop closes the connection and ends the read loop.
func (c *IRCClient) Stop() {
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

// Say sends a chat line to the channel. The "> " prefix marks bot output.
func (c *IRCClient) Say(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.logger.Warn("chat not connected, dropping message", "text", text)
		return
	}
	line := fmt.Sprintf("PRIVMSG #%s :> %s", c.channel, text)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		c.logger.Error("failed to send chat message", "error", err)
	}
}

func (c *IRCClient) run() {
	defer close(c.done)

	backoff := time.Second
	for {
		if c.ctx.Err() != nil {
			return
		}

		if err := c.connect(); err != nil {
			c.logger.Error("chat connection failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.readLoop()
	}
}

func (c *IRCClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(ircURL, nil)
	if err != nil {
		return fmt.Errorf("dialing twitch chat: %w", err)
	}

	auth := []string{
		"PASS oauth:" + c.token,
		"NICK " + strings.ToLower(c.botName),
		"JOIN #" + c.channel,
	}
	for _, line := range auth {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			conn.Close()
			return fmt.Errorf("authenticating to twitch chat: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to twitch chat", "channel", c.channel)
	return nil
}

func (c *IRCClient) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("chat connection lost", "error", err)
			}
			return
		}

		// A frame may carry multiple IRC lines
		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			c.handleLine(line)
		}
	}
}

func (c *IRCClient) handleLine(line string) {
	if strings.HasPrefix(line, "PING") {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.WriteMessage(websocket.TextMessage, []byte("PONG :tmi.twitch.tv"))
		}
		c.mu.Unlock()
		return
	}

	msg, ok := parsePrivmsg(line)
	if !ok {
		return
	}
	if c.handler != nil {
		c.handler(c.ctx, msg)
	}
}

// parsePrivmsg extracts the sender and text from an IRC PRIVMSG line,
// e.g. `:nick!nick@nick.tmi.twitch.tv PRIVMSG #channel :hello`.
func parsePrivmsg(line string) (ChatMessage, bool) {
	if !strings.HasPrefix(line, ":") {
		return ChatMessage{}, false
	}
	rest := line[1:]

	bang := strings.Index(rest, "!")
	space := strings.Index(rest, " ")
	if bang < 0 || space < 0 || bang > space {
		return ChatMessage{}, false
	}
	user := rest[:bang]

	parts := strings.SplitN(rest[space+1:], " :", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "PRIVMSG ") {
		return ChatMessage{}, false
	}

	return ChatMessage{
		User: strings.ToLower(user),
		Text: strings.TrimRight(parts[1], "\r\n"),
	}, true
}
