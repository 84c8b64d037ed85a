// Package push triggers the backend's push notification function for
// messages sent from this client. Delivery is fire-and-forget: the sender's
// flow never waits on or fails because of it.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier invokes the notify function endpoint after a successful send.
type Notifier struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a Notifier for the given backend.
func New(baseURL, apiKey, token string, logger *zap.Logger) *Notifier {
	return &Notifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("push"),
	}
}

type notifyRequest struct {
	MinistryID string `json:"ministry_id"`
	MessageID  string `json:"message_id"`
}

// MessageSent asks the backend to fan out a push notification for the
// message. Failures are logged and swallowed; the message is already
// delivered and a missed notification is not worth surfacing.
func (n *Notifier) MessageSent(ctx context.Context, roomID, messageID string) {
	body, err := json.Marshal(notifyRequest{MinistryID: roomID, MessageID: messageID})
	if err != nil {
		return
	}

	url := n.baseURL + "/functions/v1/notify-ministry-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Debug("notify request build failed", zap.Error(err))
		return
	}
	req.Header.Set("apikey", n.apiKey)
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("push notify failed", zap.String("message", messageID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("push notify rejected",
			zap.String("message", messageID),
			zap.String("status", fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))))
	}
}
