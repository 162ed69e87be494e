package webauthn

import (
	"crypto/x509"
	"encoding/asn1"

	"github.com/fxamacker/cbor/v2"
)

// idFIDOGenCEAAGUIDOid is the id-fido-gen-ce-aaguid X.509 extension OID,
// which carries the AAGUID inside a packed attestation certificate and
// must match the AAGUID reported in authenticator data (spec.md §8.2.1).
var idFIDOGenCEAAGUIDOid = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 45724, 1, 1, 4}

type packedStatement struct {
	Alg int             `cbor:"alg"`
	Sig []byte          `cbor:"sig"`
	X5C []cbor.RawMessage `cbor:"x5c,omitempty"`
}

// verifyPackedAttestation implements the "packed" attestation statement
// format (spec.md §4.3/§8.2), covering both self-attestation and
// Basic/AttCA attestation via an x5c certificate chain.
func verifyPackedAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	var ps packedStatement
	if err := strictDecMode.Unmarshal(stmt, &ps); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding packed attestation statement").Wrap(err))
	}

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash...)

	if len(ps.X5C) == 0 {
		// Self attestation: alg and sig are verified using the
		// credential's own public key, and the algorithm MUST match the
		// credential's declared algorithm exactly.
		acd := authData.AttestedCredentialData
		if COSEAlgorithmIdentifier(ps.Alg) != COSEAlgorithmIdentifier(acd.CredentialPublicKey.Alg) {
			return nil, ErrInvalidAttestation.Wrap(NewError("self-attestation alg %d does not match credential alg %d", ps.Alg, acd.CredentialPublicKey.Alg))
		}

		publicKey, err := DecodePublicKey(&acd.CredentialPublicKey)
		if err != nil {
			return nil, ErrInvalidAttestation.Wrap(err)
		}
		warnings, err := verifyWithKey(COSEAlgorithmIdentifier(ps.Alg), publicKey, signedData, ps.Sig)
		if err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("self-attestation signature invalid").Wrap(err))
		}
		return &attestationVerdict{SelfAttested: true, Warnings: warnings}, nil
	}

	var chain []*x509.Certificate
	for _, raw := range ps.X5C {
		var der []byte
		if err := strictDecMode.Unmarshal(raw, &der); err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("error decoding x5c entry").Wrap(err))
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("error parsing x5c certificate").Wrap(err))
		}
		chain = append(chain, cert)
	}

	attCert := chain[0]
	warnings, err := verifyWithKey(COSEAlgorithmIdentifier(ps.Alg), attCert.PublicKey, signedData, ps.Sig)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("attestation certificate signature invalid").Wrap(err))
	}

	if err := verifyPackedCertRequirements(attCert, authData.AttestedCredentialData.AAGUID); err != nil {
		return nil, err
	}

	return &attestationVerdict{SelfAttested: false, Chain: chain, Warnings: warnings}, nil
}

// verifyPackedCertRequirements enforces the packed attestation
// certificate requirements of spec.md §8.2.1, grounded on go-passkeys'
// VerifyPacked: version 3, Subject-OU "Authenticator Attestation", the
// CA basic constraint unset, and, when an id-fido-gen-ce-aaguid
// extension is present, its value matching the authenticator data
// AAGUID.
func verifyPackedCertRequirements(attCert *x509.Certificate, aaguid [16]byte) error {
	if attCert.Version != 3 {
		return ErrInvalidAttestation.Wrap(NewError("attestation certificate must be version 3, got %d", attCert.Version))
	}

	ou := attCert.Subject.OrganizationalUnit
	if len(ou) != 1 || ou[0] != "Authenticator Attestation" {
		return ErrInvalidAttestation.Wrap(NewError("attestation certificate Subject-OU must be 'Authenticator Attestation'"))
	}
	if attCert.IsCA {
		return ErrInvalidAttestation.Wrap(NewError("attestation certificate must not be a CA certificate"))
	}

	var aaguidExt []byte
	for _, ext := range attCert.Extensions {
		if ext.Id.Equal(idFIDOGenCEAAGUIDOid) {
			aaguidExt = ext.Value
			break
		}
	}
	if len(aaguidExt) == 0 {
		// The extension is optional; when absent the AAGUID check is
		// skipped (spec.md §8.2.1 permits this for some deployments).
		return nil
	}

	var aaguidRaw []byte
	if _, err := asn1.Unmarshal(aaguidExt, &aaguidRaw); err != nil {
		return ErrInvalidAttestation.Wrap(NewError("error parsing id-fido-gen-ce-aaguid extension").Wrap(err))
	}
	if len(aaguidRaw) != 16 {
		return ErrInvalidAttestation.Wrap(NewError("id-fido-gen-ce-aaguid extension must be 16 bytes, got %d", len(aaguidRaw)))
	}
	var certAAGUID [16]byte
	copy(certAAGUID[:], aaguidRaw)
	if certAAGUID != aaguid {
		return ErrInvalidAttestation.Wrap(NewError("attestation certificate AAGUID does not match authenticator data AAGUID"))
	}
	return nil
}
