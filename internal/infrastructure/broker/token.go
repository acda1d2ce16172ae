package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// CredentialProvider issues access tokens from the venue's oauth endpoint.
// It implements domain.TokenProvider.
type CredentialProvider struct {
	tokenURL  string
	appKey    string
	secretKey string
	client    *http.Client
}

func NewCredentialProvider(tokenURL, appKey, secretKey string) *CredentialProvider {
	return &CredentialProvider{
		tokenURL:  tokenURL,
		appKey:    appKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *CredentialProvider) RequestToken(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     p.appKey,
		"secretkey":  p.secretKey,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", time.Time{}, &domain.AuthError{Reason: "token request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, &domain.AuthError{Reason: "token response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, &domain.AuthError{
			Reason: fmt.Sprintf("token request status=%d body=%s", resp.StatusCode, respBody),
		}
	}

	var raw struct {
		TokenType string `json:"token_type"`
		Token     string `json:"token"`
		ExpiresDt string `json:"expires_dt"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return "", time.Time{}, &domain.AuthError{Reason: "token decode", Err: err}
	}
	if raw.Token == "" {
		return "", time.Time{}, &domain.AuthError{Reason: "token missing in response"}
	}

	// expires_dt comes as local ISO 8601 without zone, e.g. 2025-06-10T12:34:56.
	expiry, err := time.ParseInLocation("2006-01-02T15:04:05", raw.ExpiresDt, time.Local)
	if err != nil {
		return "", time.Time{}, &domain.AuthError{Reason: "malformed expiry", Err: err}
	}
	return raw.Token, expiry, nil
}
