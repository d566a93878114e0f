package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is the CLI-side counterpart to Server: it reads a daemon's
// auth cookie file and issues one HTTP request per command, the same
// shape taker-cli and maker-cli both use against their respective
// daemons.
type Client struct {
	addr   string
	cookie string
	http   *http.Client
}

// NewClient builds a Client for the daemon listening on addr,
// authenticating with the cookie file at cookiePath.
func NewClient(addr, cookiePath string) (*Client, error) {
	raw, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("reading auth cookie: %w", err)
	}

	return &Client{
		addr:   strings.TrimSpace(addr),
		cookie: strings.TrimSpace(string(raw)),
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Call issues one RPC command and returns its decoded response
// payload.
func (c *Client) Call(route string, args []string) (*ResponsePayload, error) {
	body, err := json.Marshal(RawParams{Args: args})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/%s", c.addr, route)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth("", c.cookie)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var payload ResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding response (status %s): %w", resp.Status, err)
	}
	if payload.Error != nil {
		return &payload, fmt.Errorf("%s: %s", route, payload.Error.Message)
	}
	return &payload, nil
}
