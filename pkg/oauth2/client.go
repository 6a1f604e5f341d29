package oauth2

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gematik/zero-gate/pkg/util"
	xoauth2 "golang.org/x/oauth2"
)

const maxBodySize = 1 << 20

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	// "current user" endpoint of the provider
	ProfileURL string
}

// Client turns authorization codes into identities. It talks to the token and the
// profile endpoint of a single provider and never retries.
type Client struct {
	config     *xoauth2.Config
	profileURL string
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		config: &xoauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: xoauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: xoauth2.AuthStyleInParams,
			},
		},
		profileURL: cfg.ProfileURL,
		httpClient: httpClient,
	}
}

func (c *Client) ClientID() string {
	return c.config.ClientID
}

func (c *Client) RedirectURI() string {
	return c.config.RedirectURL
}

// AuthCodeURL returns the URL the visitor is sent to for logging in. It carries no
// state parameter.
func (c *Client) AuthCodeURL() string {
	query := url.Values{}
	query.Set("client_id", c.config.ClientID)
	query.Set("redirect_uri", c.config.RedirectURL)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(c.config.Scopes, " "))

	sep := "?"
	if strings.Contains(c.config.Endpoint.AuthURL, "?") {
		sep = "&"
	}
	return c.config.Endpoint.AuthURL + sep + query.Encode()
}

// Exchange redeems the authorization code and fetches the profile of the visitor.
// ErrNoToken is returned when the provider declined the code, every other failure is
// an *ExchangeError.
func (c *Client) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := c.requestToken(ctx, code)
	if err != nil {
		return nil, err
	}

	return c.fetchProfile(ctx, token)
}

func (c *Client) requestToken(ctx context.Context, code string) (*xoauth2.Token, error) {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("client_secret", c.config.ClientSecret)
	params.Set("code", code)
	params.Set("grant_type", "authorization_code")
	params.Set("redirect_uri", c.config.RedirectURL)
	params.Set("scope", strings.Join(c.config.Scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, exchangeError(ExchangeErrorNetwork, "build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, exchangeError(ExchangeErrorNetwork, "unable to exchange code for token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, exchangeError(ExchangeErrorNetwork, "unable to read token response: %w", err)
	}

	// declined codes come back as a regular body, usually with a 4xx status
	tokenResponse, err := util.ParseJSON[TokenResponse](body)
	if err != nil {
		return nil, exchangeError(ExchangeErrorMalformedResponse, "unable to decode token response (status %d): %w", resp.StatusCode, err)
	}

	if tokenResponse.AccessToken == "" {
		slog.Info("Token endpoint declined the authorization code",
			"status", resp.StatusCode,
			"error", tokenResponse.ErrorCode,
			"error_description", tokenResponse.ErrorDescription,
		)
		return nil, ErrNoToken
	}

	slog.Debug("Exchanged code for token", "token", tokenResponse)

	tokenType := tokenResponse.TokenType
	if tokenType == "" {
		tokenType = TokenTypeBearer
	}

	token := &xoauth2.Token{
		AccessToken:  tokenResponse.AccessToken,
		TokenType:    string(tokenType),
		RefreshToken: tokenResponse.RefreshToken,
	}
	if tokenResponse.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second)
	}

	return token, nil
}

func (c *Client) fetchProfile(ctx context.Context, token *xoauth2.Token) (*Identity, error) {
	ctx = context.WithValue(ctx, xoauth2.HTTPClient, c.httpClient)
	client := xoauth2.NewClient(ctx, xoauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, exchangeError(ExchangeErrorProfileFetch, "build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, exchangeError(ExchangeErrorProfileFetch, "unable to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, exchangeError(ExchangeErrorProfileFetch, "profile endpoint returned status %d", resp.StatusCode)
	}

	identity, err := util.ReadJSON[Identity](resp.Body, maxBodySize)
	if err != nil {
		return nil, exchangeError(ExchangeErrorProfileFetch, "unable to decode profile: %w", err)
	}

	return identity, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("oauth2.Client{client_id=%s, token_url=%s}", c.config.ClientID, c.config.Endpoint.TokenURL)
}
