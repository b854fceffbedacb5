// Package vault mirrors the export feed into a directory of Markdown notes
// with YAML frontmatter.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thoughtstream/thoughtstream/internal/store"
)

// Feed is one page of the server's export feed.
type Feed struct {
	Thoughts      []store.Thought      `json:"thoughts"`
	Conversations []store.Conversation `json:"conversations"`
	Deleted       []string             `json:"deleted"`
	SyncTimestamp int64                `json:"syncTimestamp"`
}

// Client pulls the export feed over HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type remoteError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Export fetches every change after since.
func (c *Client) Export(ctx context.Context, since int64) (*Feed, error) {
	u, err := url.Parse(c.baseURL + "/export")
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	u.RawQuery = url.Values{"since": {strconv.FormatInt(since, 10)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var re remoteError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &re) == nil && re.Error.Code != "" {
			return nil, fmt.Errorf("export failed with status %d: %s: %s", resp.StatusCode, re.Error.Code, re.Error.Message)
		}
		return nil, fmt.Errorf("export failed with status %d", resp.StatusCode)
	}

	var feed Feed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &feed, nil
}
