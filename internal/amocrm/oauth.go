package amocrm

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

const apiTokenPath = "/oauth2/access_token"

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshToken runs the refresh_token grant when the integration secrets are
// known. Without them, or when the grant fails, the current token is kept and
// simply re-attached to the retried request. Called with c.mu held.
func (c *Client) refreshToken(ctx context.Context) {
	if !c.creds.canRefresh() {
		c.logger.Debug("no refresh credentials, re-attaching the current token")
		return
	}

	body, err := json.Marshal(tokenRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: c.creds.RefreshToken,
		RedirectURI:  c.creds.RedirectURI,
	})
	if err != nil {
		c.logger.Warn("encoding token request", zap.Error(err))
		return
	}

	resp, err := c.do(ctx, http.MethodPost, c.APIURL+apiTokenPath, body)
	if err != nil {
		c.logger.Warn("token refresh failed", zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("token refresh rejected", zap.String("response", resp.String()))
		return
	}

	var token tokenResponse
	if err := json.Unmarshal(resp.Body, &token); err != nil || token.AccessToken == "" {
		c.logger.Warn("token refresh returned no access token", zap.String("response", resp.String()))
		return
	}

	c.creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.creds.RefreshToken = token.RefreshToken
	}

	c.logger.Info("access token refreshed", zap.Int("expires_in", token.ExpiresIn))

	if c.cfg.CredentialsFile == "" {
		return
	}
	if err := SaveCredentials(c.cfg.CredentialsFile, c.creds); err != nil {
		c.logger.Warn("saving refreshed credentials", zap.String("file", c.cfg.CredentialsFile), zap.Error(err))
	}
}
