package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"

	"github.com/fxamacker/cbor/v2"
)

type fidoU2FStatement struct {
	Sig []byte            `cbor:"sig"`
	X5C []cbor.RawMessage `cbor:"x5c"`
}

// verifyFIDOU2FAttestation implements the "fido-u2f" attestation
// statement format (spec.md §4.3/§8.6), reconstructing the legacy U2F
// signed data from authenticator data and verifying it against the
// single attestation certificate in x5c.
func verifyFIDOU2FAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	var fs fidoU2FStatement
	if err := strictDecMode.Unmarshal(stmt, &fs); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding fido-u2f attestation statement").Wrap(err))
	}
	if len(fs.X5C) != 1 {
		return nil, ErrInvalidAttestation.Wrap(NewError("expected exactly 1 attestation certificate, got %d", len(fs.X5C)))
	}

	var der []byte
	if err := strictDecMode.Unmarshal(fs.X5C[0], &der); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding x5c entry").Wrap(err))
	}
	attCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error parsing attestation certificate").Wrap(err))
	}

	certPublicKey, ok := attCert.PublicKey.(*ecdsa.PublicKey)
	if !ok || certPublicKey.Params().BitSize != 256 {
		return nil, ErrInvalidAttestation.Wrap(NewError("attestation certificate public key is not EC P-256"))
	}

	acd := authData.AttestedCredentialData
	credentialPublicKey, err := DecodePublicKey(&acd.CredentialPublicKey)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(err)
	}
	ecCredentialKey, ok := credentialPublicKey.(*ecdsa.PublicKey)
	if !ok || ecCredentialKey.Curve.Params().BitSize != 256 {
		return nil, ErrInvalidAttestation.Wrap(NewError("credential public key is not EC P-256"))
	}
	credentialKeyX962 := ecdsaPointUncompressed(ecCredentialKey)

	var verificationData bytes.Buffer
	verificationData.WriteByte(0x00)
	verificationData.Write(authData.RPIDHash[:])
	verificationData.Write(clientDataHash)
	verificationData.Write(acd.CredentialID)
	verificationData.Write(credentialKeyX962)

	if err := attCert.CheckSignature(x509.ECDSAWithSHA256, verificationData.Bytes(), fs.Sig); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("fido-u2f attestation signature invalid").Wrap(err))
	}

	return &attestationVerdict{SelfAttested: false, Chain: []*x509.Certificate{attCert}}, nil
}
