package providers

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Token is a bearer credential with its expiry. A zero Expiry means the
// token does not expire.
type Token struct {
	Value  string
	Expiry time.Time
}

// TokenSource supplies bearer tokens for providers that need credentials.
// Bridges must not cache a token beyond its reported expiry.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// StaticTokenSource returns a fixed, non-expiring token (API keys).
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(ctx context.Context) (Token, error) {
	return Token{Value: string(s)}, nil
}

// OAuth2TokenSource adapts a golang.org/x/oauth2 source, carrying its expiry
// through so callers respect the TTL.
type OAuth2TokenSource struct {
	Source oauth2.TokenSource
}

// Token implements TokenSource.
func (s OAuth2TokenSource) Token(ctx context.Context) (Token, error) {
	tok, err := s.Source.Token()
	if err != nil {
		return Token{}, NewProviderError(KindAuth, "", "", "oauth2 token fetch failed", err)
	}
	return Token{Value: tok.AccessToken, Expiry: tok.Expiry}, nil
}

// ServiceAccountTokenSource mints Google-style access tokens from a service
// account key: it signs a JWT assertion with the account's RSA key and
// exchanges it at the token endpoint. Tokens are cached until shortly before
// their reported expiry and never beyond it.
type ServiceAccountTokenSource struct {
	Email    string
	Key      *rsa.PrivateKey
	KeyID    string
	Scopes   []string
	TokenURL string
	Client   *http.Client

	mu     sync.Mutex
	cached Token
}

const googleTokenURL = "https://oauth2.googleapis.com/token"

// expirySlack is subtracted from the reported TTL so callers never present a
// token at the edge of expiry.
const expirySlack = 30 * time.Second

// NewServiceAccountTokenSource parses a JSON service-account key.
func NewServiceAccountTokenSource(keyJSON []byte, scopes ...string) (*ServiceAccountTokenSource, error) {
	var key struct {
		ClientEmail  string `json:"client_email"`
		PrivateKey   string `json:"private_key"`
		PrivateKeyID string `json:"private_key_id"`
		TokenURI     string `json:"token_uri"`
	}
	if err := json.Unmarshal(keyJSON, &key); err != nil {
		return nil, fmt.Errorf("providers: parse service account key: %w", err)
	}
	rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("providers: parse private key: %w", err)
	}
	tokenURL := key.TokenURI
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	return &ServiceAccountTokenSource{
		Email:    key.ClientEmail,
		Key:      rsaKey,
		KeyID:    key.PrivateKeyID,
		Scopes:   scopes,
		TokenURL: tokenURL,
	}, nil
}

// Token implements TokenSource.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.Value != "" && time.Until(s.cached.Expiry) > expirySlack {
		return s.cached, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.Email,
		"scope": joinScopes(s.Scopes),
		"aud":   s.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.KeyID != "" {
		tok.Header["kid"] = s.KeyID
	}
	assertion, err := tok.SignedString(s.Key)
	if err != nil {
		return Token{}, NewProviderError(KindAuth, "", "", "sign assertion", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return Token{}, NewProviderError(KindAuth, "", "", "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, NewProviderError(KindTransport, "", "", "token exchange", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Token{}, NewProviderError(KindFromStatus(resp.StatusCode), "", "",
			fmt.Sprintf("token exchange failed with status %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, NewProviderError(KindDecode, "", "", "decode token response", err)
	}
	s.cached = Token{
		Value:  body.AccessToken,
		Expiry: now.Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	return s.cached, nil
}

func joinScopes(scopes []string) string {
	out := ""
	for i, sc := range scopes {
		if i > 0 {
			out += " "
		}
		out += sc
	}
	return out
}
