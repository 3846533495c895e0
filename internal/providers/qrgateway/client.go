// Package qrgateway wraps the third-party QR-session gateway that relays
// messages through a paired phone. Its REST surface is small and unsigned;
// auth is a static api key header.
package qrgateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	httpClient *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("qr gateway baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, errors.New("qr gateway apiKey cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetTimeout(timeout)
	return &Client{httpClient: c}, nil
}

type SendRequest struct {
	InstanceID string
	To         string
	Type       string
	Body       string
	MediaURL   string
}

type sendTextPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SendMessage posts a message through an instance and returns the
// gateway-assigned message id.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (string, int, error) {
	var (
		path string
		body any
	)
	if req.MediaURL != "" && req.Type != "" && req.Type != "text" {
		path = fmt.Sprintf("/message/sendMedia/%s", req.InstanceID)
		body = sendMediaPayload{Number: req.To, MediaType: req.Type, Media: req.MediaURL, Caption: req.Body}
	} else {
		path = fmt.Sprintf("/message/sendText/%s", req.InstanceID)
		body = sendTextPayload{Number: req.To, Text: req.Body}
	}

	var out sendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(path)
	if err != nil {
		return "", 0, err
	}
	if resp.IsError() {
		if out.Message != "" {
			return "", resp.StatusCode(), errors.New(out.Message)
		}
		return "", resp.StatusCode(), fmt.Errorf("gateway send failed: %s", resp.Status())
	}
	if out.Key.ID == "" {
		return "", resp.StatusCode(), errors.New("gateway returned no message id")
	}
	return out.Key.ID, resp.StatusCode(), nil
}
