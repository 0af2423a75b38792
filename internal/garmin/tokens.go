package garmin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	oauth1TokenFile = "oauth1_token.json"
	oauth2TokenFile = "oauth2_token.json"
)

// OAuth1Token is the long-lived token a Garmin Connect login leaves behind.
// It is exchanged for new OAuth2 tokens.
type OAuth1Token struct {
	OAuthToken       string `json:"oauth_token"`
	OAuthTokenSecret string `json:"oauth_token_secret"`
	MFAToken         string `json:"mfa_token,omitempty"`
	Domain           string `json:"domain,omitempty"`
}

// OAuth2Token is the bearer token used for API calls.
type OAuth2Token struct {
	Scope                 string `json:"scope"`
	JTI                   string `json:"jti,omitempty"`
	TokenType             string `json:"token_type"`
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	ExpiresAt             int64  `json:"expires_at"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at,omitempty"`
}

// Expired reports whether the token is past its expiry time.
func (t *OAuth2Token) Expired(now time.Time) bool {
	return t.ExpiresAt > 0 && now.Unix() >= t.ExpiresAt
}

// TokenStore holds the tokens read from the token directory or the base64
// token file, and writes renewed tokens back to the same place.
type TokenStore struct {
	OAuth1 *OAuth1Token
	OAuth2 *OAuth2Token

	dir        string
	base64File string
	rawOAuth1  jsoniter.RawMessage
}

// LoadTokens reads the token directory (oauth1_token.json and
// oauth2_token.json), falling back to the base64 token file (base64 of a JSON
// array [oauth1, oauth2]). A store without any OAuth2 token is reported as
// ErrAuthentication.
func LoadTokens(dir, base64File string) (*TokenStore, error) {
	store, err := loadTokenDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		store, err = loadTokenBase64(base64File)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no stored tokens in %q or %q; log in to Garmin Connect first", ErrAuthentication, dir, base64File)
	}
	if err != nil {
		return nil, err
	}
	if store.OAuth2.AccessToken == "" {
		return nil, fmt.Errorf("%w: stored token has no access_token", ErrAuthentication)
	}
	return store, nil
}

// LoadToken reads the stored tokens and returns the OAuth2 token without
// renewing it. Expired tokens are reported as ErrAuthentication.
func LoadToken(dir, base64File string, now time.Time) (*OAuth2Token, error) {
	store, err := LoadTokens(dir, base64File)
	if err != nil {
		return nil, err
	}
	return store.Token(context.Background(), nil, now)
}

// CanRenew reports whether an OAuth1 token is available for exchange.
func (s *TokenStore) CanRenew() bool {
	return s.OAuth1 != nil && s.OAuth1.OAuthToken != "" && s.OAuth1.OAuthTokenSecret != ""
}

// Token returns a usable OAuth2 token. An expired token is exchanged for a
// new one with the stored OAuth1 token when ex is not nil; the new token is
// written back to the store. A failed or impossible renewal is
// ErrAuthentication.
func (s *TokenStore) Token(ctx context.Context, ex *Exchanger, now time.Time) (*OAuth2Token, error) {
	if !s.OAuth2.Expired(now) {
		return s.OAuth2, nil
	}
	expiredAt := time.Unix(s.OAuth2.ExpiresAt, 0).Format(time.RFC3339)
	if ex == nil || !s.CanRenew() {
		return nil, fmt.Errorf("%w: stored token expired at %s", ErrAuthentication, expiredAt)
	}

	tok, err := ex.Exchange(ctx, s.OAuth1, now)
	if err != nil {
		return nil, fmt.Errorf("renewing token expired at %s: %w", expiredAt, err)
	}
	s.OAuth2 = tok
	if err := s.Save(); err != nil {
		ex.logger.Warn("Could not store renewed Garmin token", zap.Error(err))
	} else {
		ex.logger.Info("Renewed Garmin Connect token",
			zap.Time("expires_at", time.Unix(tok.ExpiresAt, 0)))
	}
	return tok, nil
}

// Save writes the OAuth2 token back to where the store was loaded from.
func (s *TokenStore) Save() error {
	switch {
	case s.dir != "":
		data, err := json.Marshal(s.OAuth2)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(s.dir, oauth2TokenFile), data, 0o600)
	case s.base64File != "":
		oauth1 := s.rawOAuth1
		if len(oauth1) == 0 {
			oauth1 = jsoniter.RawMessage("null")
		}
		data, err := json.Marshal([]any{oauth1, s.OAuth2})
		if err != nil {
			return err
		}
		return os.WriteFile(s.base64File, []byte(base64.StdEncoding.EncodeToString(data)), 0o600)
	}
	return nil
}

func loadTokenDir(dir string) (*TokenStore, error) {
	if dir == "" {
		return nil, os.ErrNotExist
	}
	dir = expandHome(dir)
	data, err := os.ReadFile(filepath.Join(dir, oauth2TokenFile))
	if err != nil {
		return nil, err
	}
	store := &TokenStore{dir: dir, OAuth2: &OAuth2Token{}}
	if err := json.Unmarshal(data, store.OAuth2); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", oauth2TokenFile, err)
	}

	// oauth1_token.json is optional; without it the OAuth2 token cannot be renewed.
	data, err = os.ReadFile(filepath.Join(dir, oauth1TokenFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		store.OAuth1 = &OAuth1Token{}
		if err := json.Unmarshal(data, store.OAuth1); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", oauth1TokenFile, err)
		}
	}
	return store, nil
}

func loadTokenBase64(path string) (*TokenStore, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 token file: %w", err)
	}

	var pair []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("parsing base64 token file: %w", err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("base64 token file: expected 2 tokens, got %d", len(pair))
	}

	store := &TokenStore{base64File: path, rawOAuth1: pair[0], OAuth2: &OAuth2Token{}}
	if err := json.Unmarshal(pair[1], store.OAuth2); err != nil {
		return nil, fmt.Errorf("parsing base64 oauth2 token: %w", err)
	}
	if s := strings.TrimSpace(string(pair[0])); s != "" && s != "null" {
		store.OAuth1 = &OAuth1Token{}
		if err := json.Unmarshal(pair[0], store.OAuth1); err != nil {
			return nil, fmt.Errorf("parsing base64 oauth1 token: %w", err)
		}
	}
	return store, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
