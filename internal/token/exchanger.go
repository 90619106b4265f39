// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package token

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/models"
)

// Exchanger obtains a fresh bearer token from the provider.
type Exchanger interface {
	Exchange(ctx context.Context) (*models.Token, error)
}

// ClientCredentialsExchanger performs the OAuth2 client-credentials grant.
type ClientCredentialsExchanger struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	defaultTTL time.Duration
	now        func() time.Time
}

// NewClientCredentialsExchanger builds an exchanger posting client_id and
// client_secret as form fields to tokenURL.
func NewClientCredentialsExchanger(tokenURL, clientID, clientSecret string, httpClient *http.Client, defaultTTL time.Duration) *ClientCredentialsExchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &ClientCredentialsExchanger{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Exchange implements Exchanger. The provider omits expires_in on some
// tenants; defaultTTL applies then.
func (e *ClientCredentialsExchanger) Exchange(ctx context.Context) (*models.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	tok, err := e.cfg.Token(ctx)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	issued := e.now()
	lifetime := e.defaultTTL
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &models.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(lifetime),
	}, nil
}

func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return &apierr.UpstreamError{Err: err}
	}
	status := re.Response.StatusCode
	msg := strings.TrimSpace(re.ErrorCode + " " + re.ErrorDescription)
	switch {
	case status == http.StatusTooManyRequests:
		return &apierr.RateLimitError{}
	case status >= 500:
		return &apierr.UpstreamError{StatusCode: status, Message: msg}
	default:
		return &apierr.AuthError{StatusCode: status, Message: msg, Err: err}
	}
}
