package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/redis"
)

const defaultHelixURL = "https://api.twitch.tv/helix"

// Client talks to the Twitch Helix API on behalf of the streamer account.
// Login-to-ID and subscription lookups are cached in Redis so chat command
// bursts do not hammer Helix.
type Client struct {
	httpClient *http.Client
	cache      *redis.Cache
	logger     *slog.Logger

	baseURL     string
	clientID    string
	accessToken string
	channel     string
	idTTL       time.Duration
	subTTL      time.Duration

	broadcasterMu sync.Mutex
	broadcasterID string
}

// NewClient creates a Helix client. cache may be nil, in which case every
// lookup goes to the API.
func NewClient(cfg *config.TwitchConfig, cache *redis.Cache, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		cache:       cache,
		logger:      logger,
		baseURL:     defaultHelixURL,
		clientID:    cfg.ClientID,
		accessToken: cfg.StreamerAccessToken,
		channel:     cfg.Channel,
		idTTL:       cfg.IDCacheTTL,
		subTTL:      cfg.SubCacheTTL,
	}
}

// SetBaseURL overrides the Helix endpoint, used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

type helixUsersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

type helixSubsResponse struct {
	Data []struct {
		Tier string `json:"tier"`
	} `json:"data"`
}

// UserID resolves a login name to its Twitch account ID. Results are cached
// for the configured ID TTL; logins that do not exist return
// domain.ErrTwitchIDNotFound.
func (c *Client) UserID(ctx context.Context, login string) (string, error) {
	cacheKey := "twitch:id:" + login
	if c.cache != nil {
		if id, err := c.cache.Get(ctx, cacheKey); err == nil {
			return id, nil
		}
	}

	var resp helixUsersResponse
	if err := c.get(ctx, "/users?login="+url.QueryEscape(login), &resp); err != nil {
		return "", fmt.Errorf("resolving twitch id for %q: %w", login, err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrTwitchIDNotFound, login)
	}

	id := resp.Data[0].ID
	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, id, c.idTTL); err != nil {
			c.logger.Warn("failed to cache twitch id", "login", login, "error", err)
		}
	}
	return id, nil
}

// BroadcasterID resolves and memoizes the channel owner's account ID. It is
// called from both the EventSub session goroutine and request handlers.
func (c *Client) BroadcasterID(ctx context.Context) (string, error) {
	c.broadcasterMu.Lock()
	defer c.broadcasterMu.Unlock()
	if c.broadcasterID != "" {
		return c.broadcasterID, nil
	}
	id, err := c.UserID(ctx, c.channel)
	if err != nil {
		return "", err
	}
	c.broadcasterID = id
	return id, nil
}

// SubscriptionTier reports the viewer's subscription tier on the channel:
// 0 for none, 1 to 3 otherwise. Cached for the configured sub TTL.
func (c *Client) SubscriptionTier(ctx context.Context, login string) (int, error) {
	cacheKey := "twitch:sub:" + login
	if c.cache != nil {
		if v, err := c.cache.Get(ctx, cacheKey); err == nil {
			return strconv.Atoi(v)
		}
	}

	broadcasterID, err := c.BroadcasterID(ctx)
	if err != nil {
		return 0, err
	}
	userID, err := c.UserID(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrTwitchIDNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var resp helixSubsResponse
	path := fmt.Sprintf("/subscriptions?broadcaster_id=%s&user_id=%s", broadcasterID, userID)
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("checking subscription for %q: %w", login, err)
	}

	tier := 0
	if len(resp.Data) > 0 {
		// Helix reports tiers as "1000", "2000", "3000"
		switch resp.Data[0].Tier {
		case "1000":
			tier = 1
		case "2000":
			tier = 2
		case "3000":
			tier = 3
		}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, strconv.Itoa(tier), c.subTTL); err != nil {
			c.logger.Warn("failed to cache subscription tier", "login", login, "error", err)
		}
	}
	return tier, nil
}

// CreateEventSubSubscription registers a websocket EventSub subscription
// bound to the given session.
func (c *Client) CreateEventSubSubscription(ctx context.Context, sessionID, subType, version string, condition map[string]string) error {
	body := map[string]interface{}{
		"type":      subType,
		"version":   version,
		"condition": condition,
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling eventsub subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/eventsub/subscriptions", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building eventsub request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("creating eventsub subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("creating eventsub subscription: helix returned %d: %s", resp.StatusCode, b)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix returned %d: %s", resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}
