package configstore

import "github.com/Molefas/trikhub/internal/common/apperrors"

var (
	// ErrConfigStore is the base error for the package.
	ErrConfigStore = apperrors.New("config store error")
)
