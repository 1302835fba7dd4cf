package domain

import (
	"context"
	"errors"

	branddomain "github.com/smallbiznis/cashback/internal/brand/domain"
	purchasedomain "github.com/smallbiznis/cashback/internal/purchase/domain"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Webhook-Signature"
	HeaderBrandID   = "X-Brand-Id"
)

type IdentityKind string

const (
	IdentityMaster IdentityKind = "master"
	IdentityBrand  IdentityKind = "brand"
)

// Credentials are the authentication inputs of one webhook request.
type Credentials struct {
	APIKey    string
	Signature string
	BrandID   string
	Body      []byte
}

// Identity is the caller resolved from webhook credentials.
type Identity struct {
	Kind  IdentityKind
	Brand *branddomain.Brand
	// Signed is false when an unsigned request was let through outside
	// production.
	Signed bool
}

// BrandID is the authenticated brand, empty for the master key.
func (i Identity) BrandID() string {
	if i.Brand == nil {
		return ""
	}
	return i.Brand.BrandID
}

// Actor is recorded in purchase status history for changes made by this
// caller.
func (i Identity) Actor() purchasedomain.Actor {
	if i.Kind == IdentityMaster {
		return purchasedomain.ActorAdmin
	}
	return purchasedomain.ActorWebhook
}

type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Identity, error)
}

var (
	ErrInvalidAPIKey       = errors.New("invalid_api_key")
	ErrMissingSignature    = errors.New("missing_signature")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrSecretNotConfigured = errors.New("webhook_secret_not_configured")
)
