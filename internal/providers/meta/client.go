package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client talks to the WhatsApp Cloud API (Meta Graph). One instance is shared
// process-wide; the http.Client carries the bounded timeout.
type Client struct {
	AccessToken string
	HTTP        *http.Client

	BaseURL    string
	APIVersion string
}

type SendRequest struct {
	PhoneNumberID string
	To            string
	Type          string
	Body          string
	MediaURL      string
	TemplateName  string
}

type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (r SendResponse) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
	}
	switch {
	case req.TemplateName != "":
		payload["type"] = "template"
		payload["template"] = map[string]any{
			"name":     req.TemplateName,
			"language": map[string]string{"code": "pt_BR"},
		}
	case req.MediaURL != "" && req.Type != "" && req.Type != "text":
		payload["type"] = req.Type
		payload[req.Type] = map[string]string{"link": req.MediaURL}
	default:
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": req.Body}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResponse{}, 0, nil, err
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	version := c.APIVersion
	if version == "" {
		version = "v19.0"
	}
	endpoint := baseURL + "/" + version + "/" + req.PhoneNumberID + "/messages"

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return out, resp.StatusCode, b, errors.New(out.Error.Message)
		}
		return out, resp.StatusCode, b, errors.New("graph api send failed")
	}
	if out.MessageID() == "" {
		return out, resp.StatusCode, b, errors.New("graph api returned no message id")
	}
	return out, resp.StatusCode, b, nil
}

// Retry decision for transient errors
func ShouldRetry(err error, httpStatus int) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	}
	if httpStatus == 429 || httpStatus == 408 {
		return true
	}
	if httpStatus >= 500 && httpStatus <= 599 {
		return true
	}
	return false
}

func Backoff(attempt int) time.Duration {
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
