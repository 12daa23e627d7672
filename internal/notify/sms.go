package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"rfids/internal/config"
	"rfids/internal/model"
)

// SMS sends the short alert text through the Twilio messages API.
type SMS struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMS(cfg config.SMSConfig, client *http.Client) *SMS {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &SMS{cfg: cfg, client: client}
}

func (s *SMS) Name() string {
	return "sms"
}

func (s *SMS) Notify(ctx context.Context, alert model.Alert) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.cfg.AccountSID))
	form := url.Values{
		"From": {s.cfg.FromNumber},
		"To":   {s.cfg.ToNumber},
		"Body": {alert.Short},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var apiErr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
	if apiErr.Message == "" {
		apiErr.Message = "Unknown error"
	}
	return fmt.Errorf("twilio status %d: %s", resp.StatusCode, apiErr.Message)
}
