package auth

import (
	"errors"

	"github.com/solatis/gears/internal/types"
)

// Authentication errors. Webhook failures never say which part was wrong
// beyond missing versus mismatched.
var (
	ErrSignatureMissing  = types.ErrSignatureMissing
	ErrSignatureMismatch = types.ErrSignatureMismatch
	ErrSignatureFormat   = errors.New("signature is not hex encoded")
	ErrMissingToken      = errors.New("admin token required in x-admin-token metadata")
	ErrInvalidToken      = errors.New("invalid admin token")
)
