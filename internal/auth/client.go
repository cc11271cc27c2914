package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/johndosdos/messenger/internal/model"
)

// Client talks to the identity service over HTTP.
//
//	GET {base}/profile      Authorization: Bearer <token>
//	GET {base}/users/{id}
//
// Both endpoints answer 200 with {"id", "username", "avatar"}.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) ProfileByToken(ctx context.Context, token string) (model.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profile", http.NoBody)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.fetch(req)
}

func (c *Client) ProfileByID(ctx context.Context, userID int64) (model.Profile, error) {
	endpoint, err := url.JoinPath(c.baseURL, "users", strconv.FormatInt(userID, 10))
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	return c.fetch(req)
}

func (c *Client) fetch(req *http.Request) (model.Profile, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(req.Context(), "identity service unreachable",
			"path", req.URL.Path,
			"error", err)
		return model.Profile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			c.log.WarnContext(req.Context(), "identity service error",
				"path", req.URL.Path,
				"status", resp.StatusCode)
		}
		return model.Profile{}, fmt.Errorf("%w: identity service answered %d", ErrNotFound, resp.StatusCode)
	}

	var profile model.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return model.Profile{}, fmt.Errorf("%w: could not decode profile: %v", ErrNotFound, err)
	}
	if profile.ID == 0 {
		return model.Profile{}, fmt.Errorf("%w: profile without id", ErrNotFound)
	}

	return profile, nil
}
