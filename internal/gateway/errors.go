package gateway

import "github.com/Molefas/trikhub/internal/common/apperrors"

var (
	// ErrGateway is the base error for the package.
	ErrGateway = apperrors.New("gateway error")

	// ErrManifestInvalid is returned when a manifest fails validation at load.
	ErrManifestInvalid = ErrGateway.New("manifest validation failed")

	// ErrTrikNotAllowed is returned when a trik id is not in the allowlist.
	ErrTrikNotAllowed = ErrGateway.New("trik is not in the allowlist")

	// ErrDuplicateTrik is returned when a different manifest is loaded under
	// an id that is already registered.
	ErrDuplicateTrik = ErrGateway.New("trik id already loaded with different content")

	// ErrGraphNotRegistered is returned when a host-runtime manifest's entry
	// has no graph in the in-process registry.
	ErrGraphNotRegistered = ErrGateway.New("entry graph not registered")

	// ErrManifestNotFound is returned when no manifest file exists at a path.
	ErrManifestNotFound = ErrGateway.New("manifest not found")

	// ErrConfigFile is returned for unreadable registry config files.
	ErrConfigFile = ErrGateway.New("cannot read triks config file")
)
