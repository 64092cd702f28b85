// Package nlu is a focused client for the external intent-recognition
// backend. Clients are built per request from the tenant's decrypted key
// material and discarded with the request.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultLanguageCode = "en-US"

// Credentials is the JSON shape of the tenant's key material blob.
type Credentials struct {
	ProjectID string `json:"project_id"`
	Token     string `json:"token"`
}

// ParseCredentials decodes and validates key material fetched from the blob
// store.
func ParseCredentials(raw []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("nlu: unmarshal key material: %w", err)
	}
	if creds.ProjectID == "" {
		return Credentials{}, errors.New("nlu: key material missing project_id")
	}
	if creds.Token == "" {
		return Credentials{}, errors.New("nlu: key material missing token")
	}
	return creds, nil
}

// detectIntentRequest is the minimal request shape for the detectIntent
// endpoint.
type detectIntentRequest struct {
	QueryInput queryInput `json:"queryInput"`
}

type queryInput struct {
	Text textInput `json:"text"`
}

type textInput struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
}

// detectIntentResponse is the minimal response shape returned by the
// detectIntent endpoint.
type detectIntentResponse struct {
	QueryResult struct {
		FulfillmentText string `json:"fulfillmentText"`
	} `json:"queryResult"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("nlu: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the intent backend for one tenant's project.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	creds        Credentials
	languageCode string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLanguageCode(code string) Option {
	return func(c *Client) {
		c.languageCode = code
	}
}

// NewClient creates a tenant-scoped Client.
func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("nlu: base url must not be empty")
	}
	if creds.ProjectID == "" || creds.Token == "" {
		return nil, errors.New("nlu: credentials are incomplete")
	}
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		creds:        creds,
		languageCode: defaultLanguageCode,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DetectIntent sends the utterance to the backend under the given session id
// (the conversation id, so the backend keeps dialogue context per
// conversation) and returns the fulfillment text.
func (c *Client) DetectIntent(ctx context.Context, sessionID, utterance string) (string, error) {
	if sessionID == "" {
		return "", errors.New("nlu: session id must not be empty")
	}

	body, err := json.Marshal(detectIntentRequest{
		QueryInput: queryInput{Text: textInput{Text: utterance, LanguageCode: c.languageCode}},
	})
	if err != nil {
		return "", fmt.Errorf("nlu: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/projects/%s/agent/sessions/%s:detectIntent", c.baseURL, c.creds.ProjectID, sessionID)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("nlu: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.creds.Token)

	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return "", fmt.Errorf("nlu: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("nlu: read response body: %w", err)
	}

	var payload detectIntentResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("nlu: decode response: %w", decErr)
	}
	return payload.QueryResult.FulfillmentText, nil
}
