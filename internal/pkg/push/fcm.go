package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers a data push to a single device. The redemption flow uses it
// to hand the one-time PIN to the customer's device, never to the merchant.
type Sender interface {
	SendData(ctx context.Context, deviceToken string, data map[string]string) error
}

// FCMConfig holds Firebase Cloud Messaging configuration
type FCMConfig struct {
	ServerKey string
	ProjectID string
}

// FCMClient sends push notifications via Firebase Cloud Messaging
type FCMClient struct {
	config     FCMConfig
	httpClient *http.Client
}

// NewFCMClient creates a new FCM client
func NewFCMClient(config FCMConfig) *FCMClient {
	return &FCMClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token string            `json:"token"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendData sends a data-only message to the device token.
func (c *FCMClient) SendData(ctx context.Context, deviceToken string, data map[string]string) error {
	if c.config.ServerKey == "" || c.config.ProjectID == "" {
		return fmt.Errorf("fcm: not configured")
	}

	payload := fcmRequest{
		Message: fcmMessage{
			Token: deviceToken,
			Data:  data,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fcm: marshal message: %w", err)
	}

	url := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", c.config.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fcm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.ServerKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fcm: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fcm: unexpected status %d", resp.StatusCode)
	}
	return nil
}
