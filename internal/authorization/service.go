package authorization

import (
	"context"
	"errors"
)

// Service decides whether an admin actor may perform action on object.
type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}

// Actor is an authenticated operator. Role is the operator's role name
// without the "role:" prefix; the master key always acts as owner.
type Actor struct {
	Subject string
	Role    string
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
