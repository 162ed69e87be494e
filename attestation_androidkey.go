package webauthn

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"

	"github.com/fxamacker/cbor/v2"
)

// androidKeyAttestationOID is the Android Key Attestation extension OID
// carried in the leaf certificate (spec.md §4.3, §8.3).
var androidKeyAttestationOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// androidKeyAttestationExtension mirrors the subset of the ASN.1
// KeyDescription sequence this package needs to validate.
type androidKeyAttestationExtension struct {
	AttestationVersion       int
	AttestationSecurityLevel asn1.Enumerated
	KeymasterVersion         int
	KeymasterSecurityLevel   asn1.Enumerated
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         androidKeyAuthorizationList
	TeeEnforced              androidKeyAuthorizationList
}

// androidKeyAuthorizationList mirrors the authorization list fields
// spec.md requires checking: purpose (tag 1, explicit SET OF INTEGER),
// origin (tag 702) and allApplications (tag 600). Unused tags are
// skipped by asn1.Unmarshal via the omitted fields convention below,
// so this struct only declares the tags actually inspected.
type androidKeyAuthorizationList struct {
	Purpose        []int `asn1:"explicit,tag:1,optional,set"`
	AllApplications asn1.RawValue `asn1:"explicit,tag:600,optional"`
	Origin         int   `asn1:"explicit,tag:702,optional"`
}

const (
	androidKeyOriginGenerated = 0
	androidKeyPurposeSign     = 2
)

type androidKeyStatement struct {
	Alg int               `cbor:"alg"`
	Sig []byte            `cbor:"sig"`
	X5C []cbor.RawMessage `cbor:"x5c"`
}

// verifyAndroidKeyAttestation implements the "android-key" attestation
// statement format (spec.md §4.3/§8.3): the leaf certificate's Android
// Key Attestation extension binds the credential to the client data
// hash and to a key that was generated (not imported) and restricted to
// signing.
func verifyAndroidKeyAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	var as androidKeyStatement
	if err := strictDecMode.Unmarshal(stmt, &as); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding android-key attestation statement").Wrap(err))
	}
	if len(as.X5C) == 0 {
		return nil, ErrInvalidAttestation.Wrap(NewError("android-key attestation requires an x5c chain"))
	}

	var chain []*x509.Certificate
	for _, raw := range as.X5C {
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
	leaf := chain[0]

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash...)
	warnings, err := verifyWithKey(COSEAlgorithmIdentifier(as.Alg), leaf.PublicKey, signedData, as.Sig)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("android-key attestation signature invalid").Wrap(err))
	}

	var ext *androidKeyAttestationExtension
	for _, e := range leaf.Extensions {
		if !e.Id.Equal(androidKeyAttestationOID) {
			continue
		}
		parsed := &androidKeyAttestationExtension{}
		if _, err := asn1.Unmarshal(e.Value, parsed); err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("error parsing Android Key attestation extension").Wrap(err))
		}
		ext = parsed
		break
	}
	if ext == nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("leaf certificate is missing the Android Key attestation extension"))
	}

	if !bytes.Equal(ext.AttestationChallenge, clientDataHash) {
		return nil, ErrInvalidAttestation.Wrap(NewError("attestationChallenge does not equal the client data hash"))
	}

	for _, al := range []androidKeyAuthorizationList{ext.SoftwareEnforced, ext.TeeEnforced} {
		if al.AllApplications.FullBytes != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("key authorized for all applications, must be scoped"))
		}
	}

	teeOK := ext.TeeEnforced.Origin == androidKeyOriginGenerated && containsInt(ext.TeeEnforced.Purpose, androidKeyPurposeSign)
	swOK := ext.SoftwareEnforced.Origin == androidKeyOriginGenerated && containsInt(ext.SoftwareEnforced.Purpose, androidKeyPurposeSign)
	if !teeOK && !swOK {
		return nil, ErrInvalidAttestation.Wrap(NewError("key authorization list does not require origin=generated and purpose=sign"))
	}

	return &attestationVerdict{SelfAttested: false, Chain: chain, Warnings: warnings}, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
