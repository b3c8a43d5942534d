package pki

import "errors"

var (
	// ErrUnsupportedAlgorithm is returned for unknown key or signature algorithms,
	// or key parameters the algorithm cannot satisfy.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrUnknownAttributeType is returned when a name attribute is not in the registry.
	ErrUnknownAttributeType = errors.New("unknown attribute type")

	// ErrDuplicateExtension is returned when an extension OID is added twice.
	ErrDuplicateExtension = errors.New("duplicate extension")

	// ErrInvalidValidityWindow is returned when notAfter is not after notBefore.
	ErrInvalidValidityWindow = errors.New("invalid validity window")

	// ErrMissingRequiredField is returned when a request is missing a mandatory input.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrSigningKeyMismatch is returned when the signing key does not belong to the issuer.
	ErrSigningKeyMismatch = errors.New("signing key mismatch")

	// ErrInvalidCriticality is returned when an extension that must be
	// non-critical (RFC 5280 4.2.1.1 and 4.2.1.2) is marked critical.
	ErrInvalidCriticality = errors.New("extension must not be critical")

	// ErrEncoding is returned when a value cannot be represented in DER or PEM.
	ErrEncoding = errors.New("encoding error")

	ErrInvalidSerialNumber       = errors.New("invalid serial number")
	ErrTBSConsumed               = errors.New("tbs certificate already signed")
	ErrInconsistentKeyUsage      = errors.New("inconsistent key usage")
	ErrProviderNotRegistered     = errors.New("crypto provider not registered")
	ErrProviderAlreadyRegistered = errors.New("crypto provider already registered")
)
