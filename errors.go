package webauthn

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies the category of failure behind an Error. Kinds are a
// closed set: callers can branch on them with errors.Is/As without
// inspecting Msg, which may change wording between releases.
type Kind int

// enum values for Kind
const (
	KindUnspecified Kind = iota
	KindMalformedData
	KindChallengeMismatch
	KindOriginMismatch
	KindRPIDHashMismatch
	KindUserPresenceMissing
	KindUserVerificationRequired
	KindUnsupportedAlgorithm
	KindUnknownAttestationFormat
	KindInvalidAttestation
	KindUntrustedAttestation
	KindSignatureInvalid
	KindCredentialNotRegistered
	KindUserHandleMismatch
	KindDisallowedCredential
	KindCounterRollback
	KindInternalCryptoError
	KindInternalStoreError
	KindConfigurationError
)

var kindStrings = map[Kind]string{
	KindUnspecified:              "Unspecified",
	KindMalformedData:            "MalformedData",
	KindChallengeMismatch:        "ChallengeMismatch",
	KindOriginMismatch:           "OriginMismatch",
	KindRPIDHashMismatch:         "RPIDHashMismatch",
	KindUserPresenceMissing:      "UserPresenceMissing",
	KindUserVerificationRequired: "UserVerificationRequired",
	KindUnsupportedAlgorithm:     "UnsupportedAlgorithm",
	KindUnknownAttestationFormat: "UnknownAttestationFormat",
	KindInvalidAttestation:       "InvalidAttestation",
	KindUntrustedAttestation:     "UntrustedAttestation",
	KindSignatureInvalid:         "SignatureInvalid",
	KindCredentialNotRegistered:  "CredentialNotRegistered",
	KindUserHandleMismatch:       "UserHandleMismatch",
	KindDisallowedCredential:     "DisallowedCredential",
	KindCounterRollback:          "CounterRollback",
	KindInternalCryptoError:      "InternalCryptoError",
	KindInternalStoreError:       "InternalStoreError",
	KindConfigurationError:       "ConfigurationError",
}

// String returns a human readable representation of the Kind.
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "Unknown"
}

// Error represents a failure in a WebAuthn relying party operation. The
// zero value's Kind is KindUnspecified; use NewError or one of the
// package-level Err* values as a base and Wrap it with the underlying
// cause.
type Error struct {
	Kind    Kind
	Msg     string
	Wrapped error
}

// Error implements the error interface. The message never contains
// challenge, key, or signature material.
func (e Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap allows for error unwrapping via errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an Error of the same Kind, letting callers
// write errors.Is(err, webauthn.ErrSignatureInvalid) without caring about
// Msg or the wrapped cause.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Wrap returns a copy of this error with the provided cause attached.
func (e Error) Wrap(err error) Error {
	n := e
	n.Wrapped = err
	return n
}

// NewError builds an ad hoc Error of unspecified kind from a format
// string, mirroring the teacher's historical `NewError` helper.
func NewError(format string, args ...interface{}) Error {
	return Error{Kind: KindUnspecified, Msg: fmt.Sprintf(format, args...)}
}

// NewKindError builds an Error of the given kind from a format string.
func NewKindError(kind Kind, format string, args ...interface{}) Error {
	return Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapExternalError folds a failure returned across an external
// boundary (a CredentialRepository or MetadataService call) into base, attaching a pkg/errors stack trace to the
// underlying cause so it survives past this package's own Wrap chain.
func wrapExternalError(base Error, err error, msg string) Error {
	return base.Wrap(pkgerrors.Wrap(err, msg))
}

// Package-level base errors. Each carries a Kind and a default message;
// use Wrap to attach the underlying cause before returning.
var (
	ErrMalformedData            = Error{Kind: KindMalformedData, Msg: "malformed WebAuthn data"}
	ErrGenerateChallenge         = Error{Kind: KindInternalCryptoError, Msg: "error generating challenge"}
	ErrUnmarshalClientData       = Error{Kind: KindMalformedData, Msg: "error unmarshaling client data"}
	ErrChallengeMismatch         = Error{Kind: KindChallengeMismatch, Msg: "challenge does not match"}
	ErrOriginMismatch            = Error{Kind: KindOriginMismatch, Msg: "origin is not an allowed origin"}
	ErrRPIDHashMismatch          = Error{Kind: KindRPIDHashMismatch, Msg: "rpIdHash does not match relying party ID"}
	ErrUserPresenceMissing       = Error{Kind: KindUserPresenceMissing, Msg: "user present flag not set"}
	ErrUserVerificationRequired  = Error{Kind: KindUserVerificationRequired, Msg: "user verification required but not performed"}
	ErrUnsupportedAlgorithm      = Error{Kind: KindUnsupportedAlgorithm, Msg: "unsupported COSE algorithm"}
	ErrUnknownAttestationFormat  = Error{Kind: KindUnknownAttestationFormat, Msg: "unknown attestation statement format"}
	ErrInvalidAttestation        = Error{Kind: KindInvalidAttestation, Msg: "invalid attestation statement"}
	ErrUntrustedAttestation      = Error{Kind: KindUntrustedAttestation, Msg: "attestation is not trusted by policy"}
	ErrSignatureInvalid          = Error{Kind: KindSignatureInvalid, Msg: "signature verification failed"}
	ErrCredentialNotRegistered   = Error{Kind: KindCredentialNotRegistered, Msg: "credential is not registered"}
	ErrUserHandleMismatch        = Error{Kind: KindUserHandleMismatch, Msg: "user handle does not match stored credential owner"}
	ErrDisallowedCredential      = Error{Kind: KindDisallowedCredential, Msg: "credential not present in allow list"}
	ErrCounterRollback           = Error{Kind: KindCounterRollback, Msg: "signature counter did not advance"}
	ErrInternalCryptoError       = Error{Kind: KindInternalCryptoError, Msg: "internal cryptographic error"}
	ErrInternalStoreError        = Error{Kind: KindInternalStoreError, Msg: "external store returned an error"}
	ErrConfigurationError        = Error{Kind: KindConfigurationError, Msg: "invalid relying party configuration"}
	ErrOption                    = Error{Kind: KindConfigurationError, Msg: "error applying option"}
	ErrVerifyRegistration        = Error{Kind: KindInvalidAttestation, Msg: "error verifying registration"}
	ErrVerifyAuthentication      = Error{Kind: KindSignatureInvalid, Msg: "error verifying authentication"}
	ErrDecodeAuthenticatorData   = Error{Kind: KindMalformedData, Msg: "error decoding authenticator data"}
	ErrDecodeAttestedCredentialData = Error{Kind: KindMalformedData, Msg: "error decoding attested credential data"}
	ErrDecodeCOSEKey             = Error{Kind: KindMalformedData, Msg: "error decoding COSE key"}
	ErrVerifySignature           = Error{Kind: KindSignatureInvalid, Msg: "error verifying signature"}
	ErrVerifyClientExtensionOutput = Error{Kind: KindMalformedData, Msg: "error verifying client extension output"}
)
