// Package sessionservice is the HTTP client for the external identity
// service (Mojang-style hasJoined check), generalized from the teacher's
// repository-interface pattern (one interface, one concrete HTTP
// implementation) to an outbound collaborator.
package sessionservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Profile is the authoritative identity returned by a successful
// hasJoined check.
type Profile struct {
	UUID       uuid.UUID
	Username   string
	Properties []Property
}

type Property struct {
	Name      string
	Value     string
	Signature string
	Signed    bool
}

// ErrNotFound is returned on a 204 response (player not found / hash
// mismatch).
var ErrNotFound = fmt.Errorf("sessionservice: player not found")

// ErrInvalidHash is returned on a 400 response.
var ErrInvalidHash = fmt.Errorf("sessionservice: invalid server hash")

// ErrValidationFailed is returned on a 403 response.
var ErrValidationFailed = fmt.Errorf("sessionservice: validation failed")

// Client calls the identity service's hasJoined endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient constructs a Client. baseURL defaults to Mojang's session
// server when empty, overridable for tests against a mock.
func NewClient(baseURL string, maxRetries uint64) *Client {
	if baseURL == "" {
		baseURL = "https://sessionserver.mojang.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: maxRetries,
	}
}

type hasJoinedResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties []struct {
		Name      string `json:"name"`
		Value     string `json:"value"`
		Signature string `json:"signature"`
	} `json:"properties"`
}

// HasJoined performs the HasJoined check with exponential-backoff retry on
// HTTP 429 and network errors, up to maxRetries (§4.L / §6).
func (c *Client) HasJoined(ctx context.Context, username, serverHash, clientIP string) (Profile, error) {
	var profile Profile

	op := func() (Profile, error) {
		p, retriable, err := c.attempt(ctx, username, serverHash, clientIP)
		if err != nil && retriable {
			return Profile{}, err
		}
		if err != nil {
			return Profile{}, backoff.Permanent(err)
		}
		return p, nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	profile, err := backoff.RetryNotifyWithData(op, backoff.WithContext(bo, ctx), nil)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (c *Client) attempt(ctx context.Context, username, serverHash, clientIP string) (Profile, bool, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("serverId", serverHash)
	if clientIP != "" {
		q.Set("ip", clientIP)
	}
	reqURL := c.baseURL + "/session/minecraft/hasJoined?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Profile{}, false, fmt.Errorf("sessionservice: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, true, fmt.Errorf("sessionservice: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Profile{}, true, fmt.Errorf("sessionservice: reading body: %w", err)
		}
		var parsed hasJoinedResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return Profile{}, false, fmt.Errorf("sessionservice: invalid response body: %w", err)
		}
		id, err := parseUndashedUUID(parsed.ID)
		if err != nil {
			return Profile{}, false, fmt.Errorf("sessionservice: invalid uuid in response: %w", err)
		}
		if !strings.EqualFold(parsed.Name, username) {
			return Profile{}, false, fmt.Errorf("sessionservice: username mismatch: got %q want %q", parsed.Name, username)
		}
		props := make([]Property, 0, len(parsed.Properties))
		for _, p := range parsed.Properties {
			props = append(props, Property{Name: p.Name, Value: p.Value, Signature: p.Signature, Signed: p.Signature != ""})
		}
		return Profile{UUID: id, Username: parsed.Name, Properties: props}, false, nil
	case http.StatusNoContent:
		return Profile{}, false, ErrNotFound
	case http.StatusTooManyRequests:
		return Profile{}, true, fmt.Errorf("sessionservice: busy (429)")
	case http.StatusBadRequest:
		return Profile{}, false, ErrInvalidHash
	case http.StatusForbidden:
		return Profile{}, false, ErrValidationFailed
	default:
		return Profile{}, false, fmt.Errorf("sessionservice: unexpected status %d", resp.StatusCode)
	}
}

// parseUndashedUUID parses a 32-hex-digit UUID (as Mojang's API returns,
// without dashes) into the canonical 8-4-4-4-12 form.
func parseUndashedUUID(s string) (uuid.UUID, error) {
	if len(s) == 32 {
		s = s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	}
	return uuid.Parse(s)
}
