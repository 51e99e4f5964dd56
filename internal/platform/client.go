package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const maxResponseBody = 4 << 20

// Client is the HTTP client adapters share. It throttles outbound calls and
// maps destination responses onto the error taxonomy.
type Client struct {
	platform string
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(platform string, httpClient *http.Client, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{platform: platform, http: httpClient, limiter: limiter}
}

func (c *Client) HTTP() *http.Client {
	return c.http
}

// Do sends req and decodes a JSON body into out when out is non-nil.
func (c *Client) Do(req *http.Request, out any) error {
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return ExternalAPI(c.platform, 0, "unreadable response", err)
	}
	return nil
}

// Raw sends req and returns the response body.
func (c *Client) Raw(req *http.Request) ([]byte, error) {
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ExternalAPI(c.platform, 0, "rate limit wait", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, ExternalAPI(c.platform, 0, "request timed out", err)
		}
		return nil, ExternalAPI(c.platform, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, ExternalAPI(c.platform, resp.StatusCode, "reading response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e := Authentication(c.platform, ResponseMessage(body, resp.Status), nil)
		e.StatusCode = resp.StatusCode
		return nil, e
	case resp.StatusCode >= 300:
		return nil, ExternalAPI(c.platform, resp.StatusCode, ResponseMessage(body, resp.Status), nil)
	}
	return body, nil
}

// JSON sends body as JSON. A non-empty token is sent as a bearer credential.
func (c *Client) JSON(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.Do(req, out)
}

func (c *Client) Form(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req, out)
}

// ResponseMessage pulls a human readable message out of a destination error
// body, falling back to the body itself and then to fallback.
func ResponseMessage(body []byte, fallback string) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		if msg := messageFrom(doc); msg != "" {
			return msg
		}
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(body), "\uFFFD"))
	if text == "" {
		return fallback
	}
	return truncate(text, maxMessageBytes)
}

const maxMessageBytes = 300

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func messageFrom(doc map[string]any) string {
	for _, key := range []string{"error_description", "message", "detail", "title", "description"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}

	switch v := doc["error"].(type) {
	case string:
		return v
	case map[string]any:
		return messageFrom(v)
	}

	if list, ok := doc["errors"].([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			return messageFrom(first)
		}
	}
	return ""
}
