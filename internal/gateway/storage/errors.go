package storage

import "github.com/Molefas/trikhub/internal/common/apperrors"

var (
	// ErrStorage is the base error for the package.
	ErrStorage = apperrors.New("storage error")

	// ErrQuotaExceeded is returned when a set would push a trik's usage past
	// its maxSizeBytes cap.
	ErrQuotaExceeded = ErrStorage.New("storage quota exceeded")

	// ErrInvalidValue is returned for values that cannot be JSON-encoded.
	ErrInvalidValue = ErrStorage.New("value is not JSON-serialisable")

	// ErrBackend is returned for failures of the backing store.
	ErrBackend = ErrStorage.New("storage backend error")
)
