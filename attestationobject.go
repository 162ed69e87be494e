package webauthn

import (
	"crypto/x509"

	"github.com/fxamacker/cbor/v2"
)

// AttestationStatementFormat identifies the syntax and semantics of an
// attestation statement (spec.md §4.3).
type AttestationStatementFormat string

// enum values for AttestationStatementFormat
const (
	FormatNone             AttestationStatementFormat = "none"
	FormatPacked           AttestationStatementFormat = "packed"
	FormatFIDOU2F          AttestationStatementFormat = "fido-u2f"
	FormatAndroidKey       AttestationStatementFormat = "android-key"
	FormatAndroidSafetyNet AttestationStatementFormat = "android-safetynet"
	FormatTPM              AttestationStatementFormat = "tpm"
)

// Valid reports whether f is one of the formats this package can verify.
func (f AttestationStatementFormat) Valid() bool {
	switch f {
	case FormatNone, FormatPacked, FormatFIDOU2F, FormatAndroidKey, FormatAndroidSafetyNet, FormatTPM:
		return true
	default:
		return false
	}
}

// AttestationObject is the CBOR-encoded structure returned by the
// authenticator for a credential creation ceremony (spec.md §4.1).
type AttestationObject struct {
	Fmt      AttestationStatementFormat `cbor:"fmt"`
	AttStmt  cbor.RawMessage            `cbor:"attStmt"`
	AuthData []byte                     `cbor:"authData"`
}

// attestationVerifier validates an attestation statement of a particular
// format against the authenticator data and client data hash it was
// produced over, returning the trust chain (if any) it was signed by.
type attestationVerifier func(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error)

// attestationVerdict carries the outcome of verifying a single
// attestation statement: whether it is self-attested, and the
// certificate chain leading to a trust anchor, if any.
type attestationVerdict struct {
	SelfAttested bool
	Chain        []*x509.Certificate
	Warnings     []Warning
}

var attestationVerifiers = map[AttestationStatementFormat]attestationVerifier{
	FormatNone:             verifyNoneAttestation,
	FormatPacked:           verifyPackedAttestation,
	FormatFIDOU2F:          verifyFIDOU2FAttestation,
	FormatAndroidKey:       verifyAndroidKeyAttestation,
	FormatAndroidSafetyNet: verifyAndroidSafetyNetAttestation,
	FormatTPM:              verifyTPMAttestation,
}

// decodeAttestationObject parses the top level CBOR map of an attestation
// object and decodes its embedded authenticator data.
func decodeAttestationObject(raw []byte) (*AttestationObject, *AuthenticatorData, error) {
	obj := &AttestationObject{}
	if err := strictDecMode.Unmarshal(raw, obj); err != nil {
		return nil, nil, ErrMalformedData.Wrap(NewError("error decoding attestation object").Wrap(err))
	}

	// Whether an unrecognized fmt is fatal depends on the creation
	// options' attestation conveyance preference, which this function
	// does not see; that decision is left to the caller (spec.md §4.4
	// step 9).
	authData := &AuthenticatorData{}
	if err := authData.Decode(obj.AuthData); err != nil {
		return nil, nil, err
	}
	if authData.AttestedCredentialData == nil {
		return nil, nil, ErrMalformedData.Wrap(NewError("attestation object's authenticator data has no attested credential data"))
	}

	return obj, authData, nil
}

// verifyAttestationStatement dispatches to the verifier registered for
// obj.Fmt.
func verifyAttestationStatement(obj *AttestationObject, authData *AuthenticatorData, clientDataHash []byte) (*attestationVerdict, error) {
	verifier, ok := attestationVerifiers[obj.Fmt]
	if !ok {
		return nil, ErrUnknownAttestationFormat.Wrap(NewError("no verifier registered for format %q", obj.Fmt))
	}
	return verifier(obj.AttStmt, authData, obj.AuthData, clientDataHash)
}
