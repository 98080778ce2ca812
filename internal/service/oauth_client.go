package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const azureBaseURL = "https://login.microsoftonline.com/common/oauth2/v2.0/"

// Error code the provider returns when an authorization code has already
// been redeemed (AADSTS54005).
const alreadyRedeemedCode = 54005

type AzureOAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	DomainHint   string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
}

func NewAzureOAuth(clientID string, clientSecret string, redirectURI string, scopes []string, domainHint string, logger logrus.FieldLogger) *AzureOAuth {
	return &AzureOAuth{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
		DomainHint:   domainHint,
		BaseURL:      azureBaseURL,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		Logger:       logger,
	}
}

func (a *AzureOAuth) AuthorizeURL(state string) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", a.ClientID)
	query.Set("scope", strings.Join(a.Scopes, " "))
	query.Set("redirect_uri", a.RedirectURI)
	query.Set("state", state)
	if a.DomainHint != "" {
		query.Set("domain_hint", a.DomainHint)
	}
	return a.BaseURL + "authorize?" + query.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ErrorCodes  []int  `json:"error_codes"`
}

// Exchange redeems an authorization code for an access token. A replayed
// code surfaces as ErrCodeAlreadyRedeemed so the caller can fall back to
// the token recorded on the first redemption.
func (a *AzureOAuth) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.RedirectURI)
	form.Set("client_id", a.ClientID)
	form.Set("client_secret", a.ClientSecret)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := a.httpClient().Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer response.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		a.log().WithError(err).Warn("undecodable token response")
		return "", fmt.Errorf("%w: undecodable response", ErrExchangeFailed)
	}

	if response.StatusCode != http.StatusOK {
		for _, errorCode := range body.ErrorCodes {
			if errorCode == alreadyRedeemedCode {
				return "", ErrCodeAlreadyRedeemed
			}
		}
		a.log().WithFields(logrus.Fields{
			"status":      response.StatusCode,
			"error_codes": body.ErrorCodes,
		}).Warn("token exchange rejected")
		return "", fmt.Errorf("%w: status %d", ErrExchangeFailed, response.StatusCode)
	}

	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}
	return body.AccessToken, nil
}

func (a *AzureOAuth) httpClient() *http.Client {
	if a.HTTPClient == nil {
		a.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return a.HTTPClient
}

func (a *AzureOAuth) log() logrus.FieldLogger {
	if a.Logger == nil {
		a.Logger = logrus.StandardLogger()
	}
	return a.Logger
}
