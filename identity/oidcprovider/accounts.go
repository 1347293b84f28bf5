package oidcprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/learnbox-auth/identity"
)

func (p *Provider) SendVerificationEmail(ctx context.Context, principal *identity.Principal) error {
	raw, err := p.IDToken(ctx, principal, false)
	if err != nil {
		return err
	}
	return p.postAccounts(ctx, "/verification", raw, struct{}{})
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	return p.postAccounts(ctx, "/password-reset", "", map[string]string{"email": email})
}

func (p *Provider) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	req := map[string]string{"code": code, "new_password": newPassword}
	return p.postAccounts(ctx, "/password-reset/confirm", "", req)
}

func (p *Provider) postAccounts(ctx context.Context, path, bearer string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("[oidcprovider%s] encode request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AccountsURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("[oidcprovider%s] build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", p.cfg.ClientID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("[oidcprovider%s] %w: %w", path, identity.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr accountsError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &apiErr)
	return mapAccountsError(resp.StatusCode, apiErr)
}
