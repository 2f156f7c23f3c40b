package credentials

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/harunnryd/sttstream/pkg/errorsx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope required by the speech API.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Token is a resolved credential usable as a request header.
type Token struct {
	token  *oauth2.Token
	source oauth2.TokenSource
}

// Header returns the Authorization header value, e.g. "Bearer ya29...".
func (t *Token) Header() string {
	typ := t.token.Type()
	return typ + " " + t.token.AccessToken
}

// Source returns a token source that starts from the resolved token and
// refreshes through the original credentials once it expires.
func (t *Token) Source() oauth2.TokenSource {
	return oauth2.ReuseTokenSource(t.token, t.source)
}

// Resolver turns raw credential material into a token.
type Resolver interface {
	Resolve(ctx context.Context, raw []byte) (*Token, error)
}

// GoogleResolver resolves Google service account or authorized user JSON.
type GoogleResolver struct {
	Scopes []string
}

func (r GoogleResolver) Resolve(ctx context.Context, raw []byte) (*Token, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errorsx.New(errorsx.ReasonAuth, "credentials are empty")
	}
	if !json.Valid(raw) {
		return nil, errorsx.New(errorsx.ReasonAuth, "credentials are not valid JSON")
	}
	scopes := r.Scopes
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, scopes...)
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonAuth, "parse credentials: %w", err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonAuth, "fetch token: %w", err)
	}
	return &Token{token: tok, source: creds.TokenSource}, nil
}

// StaticResolver ignores the raw material and returns a fixed access token.
// Useful for emulators and tests.
type StaticResolver struct {
	AccessToken string
}

func (r StaticResolver) Resolve(ctx context.Context, raw []byte) (*Token, error) {
	if strings.TrimSpace(r.AccessToken) == "" {
		return nil, errorsx.New(errorsx.ReasonAuth, "static access token is empty")
	}
	tok := &oauth2.Token{AccessToken: r.AccessToken, TokenType: "Bearer"}
	return &Token{token: tok, source: oauth2.StaticTokenSource(tok)}, nil
}

// LoadFile reads raw credential material from path. An empty path falls back to
// GOOGLE_APPLICATION_CREDENTIALS.
func LoadFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errorsx.New(errorsx.ReasonAuth, "no credentials file configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errorsx.Errorf(errorsx.ReasonAuth, "read credentials %s: %w", path, err)
	}
	return raw, nil
}
