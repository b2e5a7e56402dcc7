package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/twitch"
)

const eventSubURL = "wss://eventsub.wss.twitch.tv/ws"

const redemptionSubType = "channel.channel_points_custom_reward_redemption.add"

// Redemption is a channel point reward redemption notification.
type Redemption struct {
	RewardID  string
	UserLogin string
	UserInput string
}

// RedemptionHandler receives reward redemptions routed by reward ID.
type RedemptionHandler interface {
	HandleRedemption(ctx context.Context, r Redemption)
}

// Listener maintains a websocket EventSub session subscribed to channel point
// redemptions. Twitch-initiated reconnects and keepalive timeouts both roll
// into a fresh session.
type Listener struct {
	helix   *twitch.Client
	rewards config.RewardsConfig
	handler RedemptionHandler
	logger  *slog.Logger

	url string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type wsMessage struct {
	Metadata struct {
		MessageType string `json:"message_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID                      string `json:"id"`
			KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
			ReconnectURL            string `json:"reconnect_url"`
		} `json:"session"`
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event struct {
			UserLogin string `json:"user_login"`
			UserInput string `json:"user_input"`
			Reward    struct {
				ID string `json:"id"`
			} `json:"reward"`
		} `json:"event"`
	} `json:"payload"`
}

// NewListener creates an EventSub listener dispatching to handler.
func NewListener(helix *twitch.Client, cfg *config.TwitchConfig, handler RedemptionHandler, logger *slog.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		helix:   helix,
		rewards: cfg.Rewards,
		handler: handler,
		logger:  logger,
		url:     eventSubURL,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start begins the session loop.
func (l *Listener) Start() {
	go l.run()
}

// Stop tears down the session.
func (l *Listener) Stop() {
	l.cancel()
	<-l.done
}

func (l *Listener) run() {
	defer close(l.done)

	url := l.url
	backoff := time.Second
	for {
		if l.ctx.Err() != nil {
			return
		}

		reconnectURL, err := l.session(url)
		if err != nil {
			l.logger.Error("eventsub session failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-l.ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			url = l.url
			continue
		}
		backoff = time.Second

		// A session_reconnect message carries the URL for the next session;
		// otherwise start over at the default endpoint.
		if reconnectURL != "" {
			url = reconnectURL
		} else {
			url = l.url
		}
	}
}

// session runs one websocket session to completion. It returns the reconnect
// URL when Twitch asked us to move, or an empty string when the session ended
// for any other reason.
func (l *Listener) session(url string) (string, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return "", fmt.Errorf("dialing eventsub: %w", err)
	}
	defer conn.Close()

	// The watchdog unblocks the read on shutdown and exits with the session,
	// so reconnects do not accumulate goroutines.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-l.ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	keepalive := 30 * time.Second
	for {
		conn.SetReadDeadline(time.Now().Add(keepalive + 10*time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if l.ctx.Err() != nil {
				return "", nil
			}
			return "", fmt.Errorf("reading eventsub message: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("invalid eventsub message", "error", err)
			continue
		}

		switch msg.Metadata.MessageType {
		case "session_welcome":
			if msg.Payload.Session.KeepaliveTimeoutSeconds > 0 {
				keepalive = time.Duration(msg.Payload.Session.KeepaliveTimeoutSeconds) * time.Second
			}
			if err := l.subscribe(msg.Payload.Session.ID); err != nil {
				return "", err
			}
			l.logger.Info("eventsub session established", "session_id", msg.Payload.Session.ID)

		case "session_keepalive":
			// Nothing to do, the read deadline was already pushed

		case "session_reconnect":
			l.logger.Info("eventsub reconnect requested")
			return msg.Payload.Session.ReconnectURL, nil

		case "notification":
			if msg.Payload.Subscription.Type != redemptionSubType {
				continue
			}
			l.dispatch(Redemption{
				RewardID:  msg.Payload.Event.Reward.ID,
				UserLogin: msg.Payload.Event.UserLogin,
				UserInput: msg.Payload.Event.UserInput,
			})

		case "revocation":
			return "", fmt.Errorf("eventsub subscription revoked")
		}
	}
}

func (l *Listener) subscribe(sessionID string) error {
	ctx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
	defer cancel()

	broadcasterID, err := l.helix.BroadcasterID(ctx)
	if err != nil {
		return fmt.Errorf("resolving broadcaster for eventsub: %w", err)
	}

	err = l.helix.CreateEventSubSubscription(ctx, sessionID, redemptionSubType, "1", map[string]string{
		"broadcaster_user_id": broadcasterID,
	})
	if err != nil {
		return err
	}
	return nil
}

func (l *Listener) dispatch(r Redemption) {
	switch r.RewardID {
	case l.rewards.Cone, l.rewards.Duel, l.rewards.Unbox, l.rewards.Buy:
		l.logger.Info("reward redeemed", "reward_id", r.RewardID, "user", r.UserLogin)
		l.handler.HandleRedemption(l.ctx, r)
	default:
		l.logger.Debug("ignoring unknown reward", "reward_id", r.RewardID)
	}
}
