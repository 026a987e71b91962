// Package identity implements the federated-identity verification boundary.
//
// The platform never decodes or mints credentials itself: a service-account
// credential (opaque JSON, usually injected base64-encoded) establishes a
// trust anchor for the identity provider, and inbound bearer ID tokens are
// verified against that anchor via OIDC discovery. The rest of the backend
// only ever sees the resolved email (and optionally the display name) that
// comes out of a successful verification.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// issuerTemplate is the token issuer for projects of the default federated
// identity provider, keyed by project id.
const issuerTemplate = "https://securetoken.google.com/%s"

// Claims carries the identity resolved from a verified token.
type Claims struct {
	Email   string `json:"email"`
	Subject string `json:"sub"`
	Name    string `json:"name"`
}

// Verifier verifies bearer ID tokens and resolves them to claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// ServiceAccount is the subset of the service-account credential the backend
// needs: the project id names the token issuer and audience. All other
// fields are opaque and ignored.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// ParseServiceAccount decodes a service-account credential supplied either as
// raw JSON or base64-encoded JSON (the common shape for env-injected secrets).
func ParseServiceAccount(key string) (*ServiceAccount, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("service account key is empty")
	}

	raw := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("service account key is neither JSON nor base64: %w", err)
		}
		raw = decoded
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, fmt.Errorf("service account JSON has no project_id")
	}

	return &sa, nil
}

// Options configures a TokenVerifier. Either ServiceKey or IssuerURL must be
// set; IssuerURL/Audience take precedence when both are present.
type Options struct {
	ServiceKey string
	IssuerURL  string
	Audience   string
}

// TokenVerifier verifies ID tokens against an OIDC trust anchor.
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewTokenVerifier resolves the issuer from the options, runs OIDC discovery
// against it, and returns a verifier ready for request traffic. Discovery
// uses the supplied context so callers can bound startup time.
func NewTokenVerifier(ctx context.Context, opts Options) (*TokenVerifier, error) {
	issuer := opts.IssuerURL
	audience := opts.Audience

	if issuer == "" {
		sa, err := ParseServiceAccount(opts.ServiceKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load service account: %w", err)
		}
		issuer = fmt.Sprintf(issuerTemplate, sa.ProjectID)
		if audience == "" {
			audience = sa.ProjectID
		}
	}
	if audience == "" {
		return nil, fmt.Errorf("identity audience is required when issuer_url is set explicitly")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}

	return &TokenVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

// Verify checks the token's signature, issuer, audience, and expiry, then
// extracts the identity claims. A token without an email claim is rejected:
// email is the platform's identity key and an anonymous principal cannot be
// correlated to a participant record.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("token carries no email claim")
	}

	return &claims, nil
}
