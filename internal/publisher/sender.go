package publisher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSender posts the publish envelope to the configured endpoint with an
// HMAC signature. The receiving side holds the actual platform adapters.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender() *HTTPSender {
	return &HTTPSender{
		client: &http.Client{},
	}
}

// Publish posts the envelope.
// Headers: X-PostPilot-Attempt-ID, X-PostPilot-Item-ID, X-PostPilot-Signature.
func (s *HTTPSender) Publish(ctx context.Context, req PublishRequest) PublishResult {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return PublishResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(req.Secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return PublishResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-PostPilot-Attempt-ID", req.AttemptID)
	httpReq.Header.Set("X-PostPilot-Item-ID", req.Payload.ItemID)
	httpReq.Header.Set("X-PostPilot-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return PublishResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return PublishResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming publish requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
