// Package auth defines the identity-verification boundary the
// session state machine consults during the Authenticating state.
// The actual OAuth2/OIDC flow (token acquisition, JWKS fetch,
// consent) is out of scope here; a Provider only verifies credentials
// already in hand and reports a username.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthFailed is returned by a Provider when credentials are
// syntactically valid but do not authenticate.
var ErrAuthFailed = errors.New("auth: authentication failed")

// Result is what a successful Provider.Authenticate call reports back
// to the session, destined for an eventbus.Authentication event.
type Result struct {
	Username string
	Method   string
}

// Provider verifies a control-channel auth payload and reports the
// authenticated identity, or an error.
type Provider interface {
	Authenticate(ctx context.Context, payload []byte) (Result, error)
}

// DecodeUserPass splits the `username\0password\0` UTF-8 byte layout
// used by the OpenVPN auth control message.
func DecodeUserPass(payload []byte) (username, password string, err error) {
	parts := splitNulTerminated(payload, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("auth: malformed user/pass payload")
	}
	return parts[0], parts[1], nil
}

func splitNulTerminated(payload []byte, want int) []string {
	var out []string
	start := 0
	for i, b := range payload {
		if b != 0 {
			continue
		}
		out = append(out, string(payload[start:i]))
		start = i + 1
		if len(out) == want {
			break
		}
	}
	return out
}

// StaticProvider authenticates against a fixed in-memory credential
// table. Intended for tests and single-operator deployments; a real
// deployment supplies its own Provider (e.g. backed by an OIDCCallbackProvider).
type StaticProvider struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticProvider builds a StaticProvider from a username->password
// table. The map is copied; later mutation of the input has no effect.
func NewStaticProvider(users map[string]string) *StaticProvider {
	p := &StaticProvider{users: make(map[string]string, len(users))}
	for u, pw := range users {
		p.users[u] = pw
	}
	return p
}

func (p *StaticProvider) Authenticate(_ context.Context, payload []byte) (Result, error) {
	username, password, err := DecodeUserPass(payload)
	if err != nil {
		return Result{}, err
	}

	p.mu.RLock()
	want, ok := p.users[username]
	p.mu.RUnlock()

	if !ok || want != password {
		return Result{}, ErrAuthFailed
	}
	return Result{Username: username, Method: "static"}, nil
}

// SetPassword adds or updates a user's password.
func (p *StaticProvider) SetPassword(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[username] = password
}

// RemoveUser revokes a user's credentials.
func (p *StaticProvider) RemoveUser(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, username)
}

// KeyFunc resolves the public key (or secret) a token was signed
// with, given the token's header. Callers own key distribution/JWKS;
// this package only handles parsing and claim extraction.
type KeyFunc func(token *jwt.Token) (interface{}, error)

// OIDCCallbackProvider treats the auth payload's password field as a
// bearer JWT issued by an external identity provider. It verifies the
// signature and standard claims, then reports the "sub" (or
// UsernameClaim) claim as the session's username. This is the
// "external identity callback" the session consults; it performs no
// network I/O of its own.
type OIDCCallbackProvider struct {
	KeyFunc        KeyFunc
	Issuer         string
	Audience       string
	UsernameClaim  string // defaults to "sub"
	ValidMethods   []string // defaults to RS256 only
}

func (p *OIDCCallbackProvider) Authenticate(_ context.Context, payload []byte) (Result, error) {
	_, token, err := DecodeUserPass(payload)
	if err != nil {
		return Result{}, err
	}

	methods := p.ValidMethods
	if len(methods) == 0 {
		methods = []string{"RS256"}
	}

	parsed, err := jwt.Parse(token, p.KeyFunc, jwt.WithValidMethods(methods),
		jwt.WithIssuer(p.Issuer), jwt.WithAudience(p.Audience))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !parsed.Valid {
		return Result{}, ErrAuthFailed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Result{}, fmt.Errorf("auth: unexpected claims type")
	}

	claimName := p.UsernameClaim
	if claimName == "" {
		claimName = "sub"
	}
	username, _ := claims[claimName].(string)
	if strings.TrimSpace(username) == "" {
		return Result{}, fmt.Errorf("auth: token missing %q claim", claimName)
	}

	return Result{Username: username, Method: "oidc"}, nil
}
