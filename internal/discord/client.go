package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dsuauth/internal/service"
)

const apiBase = "https://discord.com/api/v10"

// Client implements service.RolePlatform against the Discord REST API.
// Role and nickname mutations are idempotent on Discord's side, so repeats
// are harmless.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		Token:      token,
		BaseURL:    apiBase,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) IsMember(ctx context.Context, guildID string, userID string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusErr("member lookup", status)
}

func (c *Client) AddRole(ctx context.Context, guildID string, userID string, roleID string) error {
	status, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return statusErr("add role", status)
	}
	return nil
}

func (c *Client) RemoveRole(ctx context.Context, guildID string, userID string, roleID string) error {
	status, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return statusErr("remove role", status)
	}
	return nil
}

func (c *Client) SetNickname(ctx context.Context, guildID string, userID string, nick string) error {
	status, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), map[string]any{"nick": nick})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return statusErr("set nickname", status)
	}
	return nil
}

func (c *Client) Announce(ctx context.Context, channelID string, message string) error {
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), map[string]any{"content": message})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusErr("announce", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Authorization", "Bot "+c.Token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)
	return response.StatusCode, nil
}

func statusErr(step string, status int) error {
	if status == http.StatusForbidden {
		return fmt.Errorf("%w: %s: status 403", service.ErrRoleSyncDenied, step)
	}
	return fmt.Errorf("discord: %s: status %d", step, status)
}
