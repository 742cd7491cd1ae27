package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCredential is returned when the service credential secret cannot be used.
var ErrInvalidCredential = errors.New("invalid service credential")

// DefaultTokenURI is the token exchange endpoint used when the credential
// does not name one.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// Credential is a service-account key. It is only held for the duration of
// a single issuance call and formats as a redacted value.
type Credential struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// ParseCredential decodes the opaque JSON secret. Error messages never echo
// the secret itself.
func ParseCredential(secret []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(secret, &cred); err != nil {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidCredential)
	}

	switch {
	case cred.ClientEmail == "":
		return nil, fmt.Errorf("%w: client_email is required", ErrInvalidCredential)
	case cred.PrivateKey == "":
		return nil, fmt.Errorf("%w: private_key is required", ErrInvalidCredential)
	}

	// Secrets injected through env files often keep the JSON escape literally.
	cred.PrivateKey = strings.ReplaceAll(cred.PrivateKey, `\n`, "\n")

	if cred.TokenURI == "" {
		cred.TokenURI = DefaultTokenURI
	}

	return &cred, nil
}

// String implements fmt.Stringer without exposing key material.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{client_email: %q, private_key_id: %q, private_key: [redacted]}",
		c.ClientEmail, c.PrivateKeyID)
}

// GoString keeps %#v from printing the private key.
func (c Credential) GoString() string {
	return c.String()
}
