package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dsuauth/internal/utils"
)

type ResendEmailSender struct {
	APIKey     string
	HTTPClient *http.Client
	From       string
}

func NewResendEmailSender(apiKey string, from string) *ResendEmailSender {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailSender{}
	}
	return &ResendEmailSender{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		From:       from,
	}
}

func (s *ResendEmailSender) SendVerificationCode(ctx context.Context, email string, discordTag string, code string, requestID string) error {
	if strings.TrimSpace(s.APIKey) == "" {
		return errors.New("email sender not configured")
	}
	name := utils.DeriveName(email)
	subject := "DSU Discord Verification"
	text := fmt.Sprintf(`Welcome to the DSU Discord Server!
Verifying will link you to @%s and allow you to talk in voice and text channels.
Our bot will set your nickname to %s. Message a @Moderator if you would like it changed.

To verify, send code %s in the #please-verify channel.
The code is valid for the next 30 minutes.

Didn't request this email? You are safe to delete it.
Auth request ID: %s`, discordTag, name, code, requestID)
	html := fmt.Sprintf(`<html><body>
<h2>Welcome to the DSU Discord Server!</h2>
<p>Verifying will link you to <strong>@%s</strong> and allow you to talk in voice and text channels.</p>
<p>Our bot will set your nickname to <em>%s</em>. Message a @Moderator if you would like it changed.</p>
<p>To verify, send code <strong>%s</strong> in the <strong>#please-verify</strong> channel.</p>
<p>The code is valid for the next 30 minutes.</p>
<p>Didn't request this email? You are safe to delete it.</p>
<p>Auth request ID: %s</p>
</body></html>`, discordTag, name, code, requestID)
	return s.send(ctx, email, subject, html, text)
}

func (s *ResendEmailSender) send(ctx context.Context, to string, subject string, html string, text string) error {
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	payload := map[string]any{
		"from":    s.From,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
		"text":    text,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(data))
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+s.APIKey)
	request.Header.Set("Content-Type", "application/json")
	response, err := s.HTTPClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return fmt.Errorf("resend email failed with status %d", response.StatusCode)
	}
	return nil
}
