// Package messaging sends bot replies over the WhatsApp channel through a
// Twilio-compatible Messages API. Clients are built per request from the
// tenant's decrypted account credentials.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"chatbot-gateway/internal/domain"
)

const channelPrefix = "whatsapp:"

// sendResponse is the minimal response shape of the Messages endpoint.
type sendResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// apiError is the provider's error document for non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client sends messages from one tenant's channel number.
type Client struct {
	httpClient  *resty.Client
	accountSID  string
	fromAddress string
}

// New creates a tenant-scoped Client. fromAddress is the bot's own channel
// address; the channel prefix is added if missing.
func New(baseURL, accountSID, authToken, fromAddress string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("messaging: base url must not be empty")
	}
	if accountSID == "" || authToken == "" {
		return nil, errors.New("messaging: account credentials must not be empty")
	}
	if strings.TrimSpace(fromAddress) == "" {
		return nil, errors.New("messaging: from address must not be empty")
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetBasicAuth(accountSID, authToken).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:  httpClient,
		accountSID:  accountSID,
		fromAddress: withChannelPrefix(fromAddress),
	}, nil
}

// Send delivers one text message to the customer and returns the provider's
// receipt. toAddress may be given with or without the channel prefix.
func (c *Client) Send(ctx context.Context, toAddress, text string) (domain.DeliveryReceipt, error) {
	if strings.TrimSpace(toAddress) == "" {
		return domain.DeliveryReceipt{}, errors.New("messaging: to address must not be empty")
	}

	var out sendResponse
	var apiErr apiError
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   withChannelPrefix(toAddress),
			"From": c.fromAddress,
			"Body": text,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.accountSID))
	if err != nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("messaging: send request: %w", err)
	}
	if res.IsError() {
		return domain.DeliveryReceipt{}, fmt.Errorf("messaging: send rejected with status %d (code %d): %s",
			res.StatusCode(), apiErr.Code, apiErr.Message)
	}
	if out.SID == "" {
		return domain.DeliveryReceipt{}, errors.New("messaging: response missing message sid")
	}
	return domain.DeliveryReceipt{MessageSID: out.SID, Status: out.Status}, nil
}

func withChannelPrefix(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, channelPrefix) {
		return addr
	}
	return channelPrefix + addr
}
