package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// InsertDataScope is the only scope ever requested.
	InsertDataScope = "https://www.googleapis.com/auth/bigquery.insertdata"

	// JWTBearerGrant is the OAuth 2.0 grant type for signed assertions (RFC 7523).
	JWTBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// AssertionLifetime is the validity window stamped into every assertion.
	AssertionLifetime = time.Hour
)

var (
	// ErrSigning is returned when the assertion cannot be built or signed.
	ErrSigning = errors.New("assertion signing failed")
	// ErrExchange is returned when the token endpoint does not issue a token.
	ErrExchange = errors.New("token exchange failed")
)

// Source yields a bearer token for a single batch of warehouse inserts.
type Source interface {
	Token(ctx context.Context) (*Token, error)
}

// Token is a bearer token returned by the exchange.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at now with margin to spare.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(margin).Before(t.ExpiresAt)
}

// Header is the JOSE header of an assertion.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims is the payload of an assertion.
type Claims struct {
	Issuer   string `json:"iss"`
	Scope    string `json:"scope"`
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	IssuedAt int64  `json:"iat"`
}

// Issuer mints assertions from a service credential and exchanges them for
// bearer tokens. The credential is parsed anew for every call.
type Issuer struct {
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithHTTPClient overrides the client used for the exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Issuer) {
		i.httpClient = client
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an issuer for the given credential secret.
func NewIssuer(secret []byte, opts ...Option) *Issuer {
	i := &Issuer{
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Assertion builds and signs a JWT-bearer assertion for the credential.
func Assertion(cred *Credential, issuedAt time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cred.PrivateKey))
	if err != nil {
		// The parser error can quote key bytes, keep it out of the chain.
		return "", fmt.Errorf("%w: private key is not a valid RSA PEM", ErrSigning)
	}

	header := Header{
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Type:      "JWT",
		KeyID:     cred.PrivateKeyID,
	}
	claims := Claims{
		Issuer:   cred.ClientEmail,
		Scope:    InsertDataScope,
		Audience: cred.TokenURI,
		IssuedAt: issuedAt.Unix(),
		Expiry:   issuedAt.Add(AssertionLifetime).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}

	signingInput := EncodeSegment(headerJSON) + "." + EncodeSegment(claimsJSON)

	signature, err := jwt.SigningMethodRS256.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}

	return signingInput + "." + EncodeSegment(signature), nil
}

type exchangeResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token signs a fresh assertion and exchanges it at the credential's token endpoint.
func (i *Issuer) Token(ctx context.Context) (*Token, error) {
	cred, err := ParseCredential(i.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	now := i.now()

	assertion, err := Assertion(cred, now)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", JWTBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrExchange, err)
	}

	var out exchangeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: status %d: malformed response", ErrExchange, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || out.AccessToken == "" {
		return nil, fmt.Errorf("%w: status %d: %s %s", ErrExchange, resp.StatusCode, out.Error, out.ErrorDescription)
	}

	expiresIn := time.Duration(out.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = AssertionLifetime
	}

	return &Token{AccessToken: out.AccessToken, ExpiresAt: now.Add(expiresIn)}, nil
}
