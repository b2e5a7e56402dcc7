package seventv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coneflip-overlay/server/internal/config"
)

const (
	defaultGQLURL    = "https://7tv.io/v3/gql"
	defaultEmotesURL = "https://7tv.io/v3/emote-sets/global"
)

// PaintDetails describes a user's active 7TV paint, flattened for the overlay
// nameplate renderer.
type PaintDetails struct {
	Message       string         `json:"message,omitempty"`
	Username      string         `json:"username,omitempty"`
	Name          string         `json:"name,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Function      string         `json:"function,omitempty"`
	Shape         string         `json:"shape,omitempty"`
	Color         interface{}    `json:"color,omitempty"`
	GradientAngle interface{}    `json:"gradientAngle,omitempty"`
	GradientStops []GradientStop `json:"gradientStops,omitempty"`
	Image         string         `json:"image,omitempty"`
	Shadows       []Shadow       `json:"shadows,omitempty"`
}

// GradientStop is one color stop of a gradient paint.
type GradientStop struct {
	Order int         `json:"order"`
	At    string      `json:"at"`
	Color interface{} `json:"color"`
}

// Shadow is one drop shadow layer of a paint.
type Shadow struct {
	XOffset float64     `json:"x_offset"`
	YOffset float64     `json:"y_offset"`
	Radius  float64     `json:"radius"`
	Color   interface{} `json:"color"`
}

// Client talks to the 7TV GQL and REST APIs for overlay cosmetics. The
// streamer emote map is cached; emote sets change rarely.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	gqlURL    string
	emotesURL string
	token     string
	channel   string

	emoteMu    sync.Mutex
	emoteCache map[string]string
	emoteAsOf  time.Time
	emoteTTL   time.Duration
}

// NewClient creates a 7TV client for the configured channel.
func NewClient(cfg *config.SevenTVConfig, channel string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		gqlURL:     defaultGQLURL,
		emotesURL:  defaultEmotesURL,
		token:      cfg.Token,
		channel:    channel,
		emoteTTL:   10 * time.Minute,
	}
}

// SetBaseURLs overrides the 7TV endpoints, used by tests.
func (c *Client) SetBaseURLs(gql, emotes string) {
	c.gqlURL = gql
	c.emotesURL = emotes
}

type gqlRequest struct {
	OperationName string                 `json:"operationName,omitempty"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

// UserPaint fetches the active paint of a 7TV user by Twitch login.
func (c *Client) UserPaint(ctx context.Context, username string) (*PaintDetails, error) {
	userID, sevenTVName, err := c.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			User struct {
				Username string `json:"username"`
				Style    struct {
					Paint *struct {
						Name     string      `json:"name"`
						Kind     string      `json:"kind"`
						Function string      `json:"function"`
						Color    interface{} `json:"color"`
						Angle    interface{} `json:"angle"`
						Shape    string      `json:"shape"`
						ImageURL string      `json:"image_url"`
						Stops    []struct {
							At    float64     `json:"at"`
							Color interface{} `json:"color"`
						} `json:"stops"`
						Shadows []struct {
							XOffset float64     `json:"x_offset"`
							YOffset float64     `json:"y_offset"`
							Radius  float64     `json:"radius"`
							Color   interface{} `json:"color"`
						} `json:"shadows"`
					} `json:"paint"`
				} `json:"style"`
			} `json:"user"`
		} `json:"data"`
		Errors []gqlError `json:"errors"`
	}

	query := `query GetUserForUserPage($id: ObjectID!) {
		user(id: $id) {
			username
			style {
				paint {
					name kind function color angle shape image_url
					stops { at color }
					shadows { x_offset y_offset radius color }
				}
			}
		}
	}`
	if err := c.gql(ctx, gqlRequest{Query: query, Variables: map[string]interface{}{"id": userID}}, &resp); err != nil {
		return nil, fmt.Errorf("fetching 7tv paint for %q: %w", username, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("fetching 7tv paint for %q: %s", username, resp.Errors[0].Message)
	}

	details := &PaintDetails{Username: resp.Data.User.Username}
	if details.Username == "" {
		details.Username = sevenTVName
	}

	paint := resp.Data.User.Style.Paint
	if paint == nil {
		details.Message = "No active paint set."
		return details, nil
	}

	details.Name = paint.Name
	details.Kind = paint.Kind
	details.Function = paint.Function
	details.Shape = paint.Shape

	if paint.Function == "LINEAR_GRADIENT" || paint.Function == "RADIAL_GRADIENT" {
		details.GradientAngle = paint.Angle
		details.GradientStops = make([]GradientStop, 0, len(paint.Stops))
		for i, stop := range paint.Stops {
			details.GradientStops = append(details.GradientStops, GradientStop{
				Order: i + 1,
				At:    fmt.Sprintf("%g%%", stop.At*100),
				Color: stop.Color,
			})
		}
	} else {
		details.Color = paint.Color
	}

	if paint.ImageURL != "" {
		details.Image = paint.ImageURL
	}
	details.Shadows = make([]Shadow, 0, len(paint.Shadows))
	for _, s := range paint.Shadows {
		details.Shadows = append(details.Shadows, Shadow{
			XOffset: s.XOffset,
			YOffset: s.YOffset,
			Radius:  s.Radius,
			Color:   s.Color,
		})
	}
	return details, nil
}

// EmoteMap returns the streamer's emote names mapped to 4x webp URLs, with
// global emotes merged in (streamer emotes win on name collision).
func (c *Client) EmoteMap(ctx context.Context) (map[string]string, error) {
	c.emoteMu.Lock()
	defer c.emoteMu.Unlock()

	if c.emoteCache != nil && time.Since(c.emoteAsOf) < c.emoteTTL {
		return c.emoteCache, nil
	}

	emotes, err := c.streamerEmotes(ctx)
	if err != nil {
		return nil, err
	}
	for name, url := range c.globalEmotes(ctx) {
		if _, ok := emotes[name]; !ok {
			emotes[name] = url
		}
	}

	c.emoteCache = emotes
	c.emoteAsOf = time.Now()
	return emotes, nil
}

func (c *Client) streamerEmotes(ctx context.Context) (map[string]string, error) {
	userID, _, err := c.lookupUser(ctx, c.channel)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			User struct {
				EmoteSets []struct {
					Emotes []struct {
						Name string `json:"name"`
						Data struct {
							Host struct {
								URL string `json:"url"`
							} `json:"host"`
						} `json:"data"`
					} `json:"emotes"`
				} `json:"emote_sets"`
			} `json:"user"`
		} `json:"data"`
		Errors []gqlError `json:"errors"`
	}

	query := `query GetUserEmotes($id: ObjectID!) {
		user(id: $id) {
			emote_sets {
				emotes { name data { host { url } } }
			}
		}
	}`
	if err := c.gql(ctx, gqlRequest{Query: query, Variables: map[string]interface{}{"id": userID}}, &resp); err != nil {
		return nil, fmt.Errorf("fetching streamer emotes: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("fetching streamer emotes: %s", resp.Errors[0].Message)
	}

	emotes := make(map[string]string)
	for _, set := range resp.Data.User.EmoteSets {
		for _, e := range set.Emotes {
			if e.Name != "" && e.Data.Host.URL != "" {
				emotes[strings.ToLower(e.Name)] = e.Data.Host.URL + "/4x.webp"
			}
		}
	}
	return emotes, nil
}

// globalEmotes degrades to an empty map on failure; the streamer's own emotes
// still work without the global set.
func (c *Client) globalEmotes(ctx context.Context) map[string]string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.emotesURL, nil)
	if err != nil {
		return map[string]string{}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to fetch global 7tv emotes", "error", err)
		return map[string]string{}
	}
	defer resp.Body.Close()

	var body struct {
		Emotes []struct {
			Name string `json:"name"`
			Data struct {
				Host struct {
					URL string `json:"url"`
				} `json:"host"`
			} `json:"data"`
		} `json:"emotes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn("failed to decode global 7tv emotes", "error", err)
		return map[string]string{}
	}

	emotes := make(map[string]string, len(body.Emotes))
	for _, e := range body.Emotes {
		if e.Name != "" && e.Data.Host.URL != "" {
			emotes[strings.ToLower(e.Name)] = e.Data.Host.URL + "/4x.webp"
		}
	}
	return emotes
}

// lookupUser resolves a Twitch login to its 7TV user ID and username.
func (c *Client) lookupUser(ctx context.Context, username string) (string, string, error) {
	var resp struct {
		Data struct {
			Users []struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"users"`
		} `json:"data"`
		Errors []gqlError `json:"errors"`
	}

	query := `query FetchUser($username: String!) {
		users(query: $username) { id username }
	}`
	req := gqlRequest{
		OperationName: "FetchUser",
		Query:         query,
		Variables:     map[string]interface{}{"username": username},
	}
	if err := c.gql(ctx, req, &resp); err != nil {
		return "", "", fmt.Errorf("looking up 7tv user %q: %w", username, err)
	}
	if len(resp.Errors) > 0 {
		return "", "", fmt.Errorf("looking up 7tv user %q: %s", username, resp.Errors[0].Message)
	}
	if len(resp.Data.Users) == 0 {
		return "", "", fmt.Errorf("7tv user %q not found", username)
	}
	return resp.Data.Users[0].ID, resp.Data.Users[0].Username, nil
}

func (c *Client) gql(ctx context.Context, body gqlRequest, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gqlURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("7tv returned %d: %s", resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
