package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/domain"
)

// HTTPGateway talks to the chat platform's REST API.
type HTTPGateway struct {
	cfg    config.GatewayConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGateway builds a gateway client from configuration.
func NewHTTPGateway(cfg config.GatewayConfig, logger *zap.Logger) *HTTPGateway {
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

type channelResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type messageResponse struct {
	ID string `json:"id"`
}

// CreateScopedChannel opens a private channel for the member interview.
func (g *HTTPGateway) CreateScopedChannel(ctx context.Context, communityID domain.CommunityID, member domain.Member, name string) (Channel, error) {
	body := map[string]any{
		"name":     name,
		"owner_id": member.UserID,
		"private":  true,
	}

	var resp channelResponse
	path := fmt.Sprintf("/communities/%s/channels", communityPath(communityID))
	if err := g.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return Channel{}, fmt.Errorf("create scoped channel: %w", err)
	}
	return Channel{ID: resp.ID, Name: resp.Name}, nil
}

// SendMessage posts text to a channel and returns the message id.
func (g *HTTPGateway) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	var resp messageResponse
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	if err := g.doJSON(ctx, http.MethodPost, path, map[string]any{"text": text}, &resp); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// React adds an emoji reaction to a message.
func (g *HTTPGateway) React(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s",
		url.PathEscape(channelID), url.PathEscape(messageID), url.PathEscape(emoji))
	if err := g.doJSON(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	return nil
}

// SetNickname updates the member's display nickname in the community.
func (g *HTTPGateway) SetNickname(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, nickname string) error {
	path := fmt.Sprintf("/communities/%s/members/%s",
		communityPath(communityID), userPath(userID))
	if err := g.doJSON(ctx, http.MethodPatch, path, map[string]any{"nickname": nickname}, nil); err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return nil
}

// GrantRole grants the named role to the member within the community.
func (g *HTTPGateway) GrantRole(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, roleName string) error {
	path := fmt.Sprintf("/communities/%s/members/%s/roles/%s",
		communityPath(communityID), userPath(userID), url.PathEscape(roleName))
	if err := g.doJSON(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// DeleteChannel tears down an interview channel.
func (g *HTTPGateway) DeleteChannel(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/channels/%s", url.PathEscape(channelID))
	if err := g.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

func (g *HTTPGateway) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Warn("gateway request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func communityPath(id domain.CommunityID) string {
	return url.PathEscape(strconv.FormatInt(int64(id), 10))
}

func userPath(id domain.UserID) string {
	return url.PathEscape(strconv.FormatInt(int64(id), 10))
}
