package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webchat_home/native/internal/domain"

	"github.com/rs/zerolog/log"
)

const requestTimeout = 10 * time.Second

type onlineStatusRequest struct {
	IsOnline bool `json:"is_online"`
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Client talks to the chat server's REST API.
// It implements domain.Directory.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates an API client for the server at baseURL.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

// SetOnlineStatus updates the presence flag of user.
func (c *Client) SetOnlineStatus(ctx context.Context, user domain.PeerID, online bool) error {
	body, err := json.Marshal(onlineStatusRequest{IsOnline: online})
	if err != nil {
		return fmt.Errorf("marshal online status: %w", err)
	}

	path := "/api/users/" + url.PathEscape(user.String()) + "/online-status"
	if _, err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	log.Debug().Str("module", "api").Str("user", user.String()).Bool("online", online).Msg("online status updated")
	return nil
}

// FetchUser returns the public profile of id.
func (c *Client) FetchUser(ctx context.Context, id domain.PeerID) (*domain.User, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}

	var user domain.User
	if err := json.Unmarshal(respBody, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
