package webauthn

import "github.com/fxamacker/cbor/v2"

// verifyNoneAttestation implements the "none" attestation statement
// format (spec.md §4.3): the attestation statement carries no
// information at all, so verification trivially succeeds. Callers that
// require attestation should reject FormatNone at the policy layer
// rather than here.
func verifyNoneAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	if len(stmt) != 0 {
		var m map[interface{}]interface{}
		if err := strictDecMode.Unmarshal(stmt, &m); err != nil || len(m) != 0 {
			return nil, ErrInvalidAttestation.Wrap(NewError("none attestation statement must be an empty map"))
		}
	}
	return &attestationVerdict{SelfAttested: false}, nil
}
