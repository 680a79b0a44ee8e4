package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendEndpoint = "https://api.resend.com/emails"

type ResendConfig struct {
	APIKey   string
	From     string
	FromName string
	ReplyTo  string
	// Endpoint overrides the Resend API URL.
	Endpoint string
	Timeout  time.Duration
}

// ResendSender posts messages to the Resend HTTP API.
type ResendSender struct {
	apiKey     string
	from       string
	replyTo    string
	endpoint   string
	httpClient *http.Client
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	from := strings.TrimSpace(cfg.From)
	if apiKey == "" {
		return nil, fmt.Errorf("missing resend api key")
	}
	if from == "" {
		return nil, fmt.Errorf("missing sender address")
	}

	if name := strings.TrimSpace(cfg.FromName); name != "" {
		from = fmt.Sprintf("%s <%s>", name, from)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultResendEndpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &ResendSender{
		apiKey:   apiKey,
		from:     from,
		replyTo:  strings.TrimSpace(cfg.ReplyTo),
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: s.replyTo,
	})
	if err != nil {
		return fmt.Errorf("encode resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read resend response: %w", err)
	}

	var parsed resendResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case parsed.Error != nil && parsed.Error.Message != "":
			return fmt.Errorf("resend send failed: %s", parsed.Error.Message)
		case parsed.Message != "":
			return fmt.Errorf("resend send failed: %s", parsed.Message)
		}
		return fmt.Errorf("resend send failed with status %d", resp.StatusCode)
	}

	if parsed.ID == "" {
		return fmt.Errorf("resend response missing id")
	}

	return nil
}
