package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// TPM structure tags this package recognizes (TPM2 Part 2, "Structures").
const (
	tpmGeneratedValue uint32 = 0xff544347
	tpmSTAttestCertify uint16 = 0x8017
)

// TPM algorithm identifiers used in TPMT_PUBLIC/TPMS_ATTEST (TPM2 Part 2,
// "Constants").
const (
	tpmAlgSHA1   uint16 = 0x0004
	tpmAlgSHA256 uint16 = 0x000b
	tpmAlgSHA384 uint16 = 0x000c
	tpmAlgSHA512 uint16 = 0x000d
	tpmAlgRSA    uint16 = 0x0001
	tpmAlgECC    uint16 = 0x0023
	tpmAlgNull   uint16 = 0x0010
)

// TPM signing scheme identifiers a TPMT_PUBLIC's parameters.scheme may
// carry; attestation keys are restricted signing keys, so this is never
// TPM_ALG_NULL in practice, but the parser accepts NULL too.
const (
	tpmAlgRSASSA    uint16 = 0x0014
	tpmAlgRSAPSS    uint16 = 0x0016
	tpmAlgECDSA     uint16 = 0x0018
	tpmAlgSM2       uint16 = 0x001b
	tpmAlgECSCHNORR uint16 = 0x001c
)

// tpmECCCurves maps a TPM_ECC_CURVE identifier to its Go curve
// (TPM2 Part 2, "TPM_ECC_CURVE Values").
var tpmECCCurves = map[uint16]elliptic.Curve{
	0x0003: elliptic.P256(),
	0x0004: elliptic.P384(),
	0x0005: elliptic.P521(),
}

type tpmStatement struct {
	Alg      int               `cbor:"alg"`
	Sig      []byte            `cbor:"sig"`
	CertInfo []byte            `cbor:"certInfo"`
	PubArea  []byte            `cbor:"pubArea"`
	X5C      []cbor.RawMessage `cbor:"x5c"`
}

// tpmsAttest holds the fields of a TPMS_ATTEST structure this package
// inspects: magic, type, the qualified-signer-independent extraData, and
// the TPMU_ATTEST "certify" union's name field.
type tpmsAttest struct {
	Magic        uint32
	Type         uint16
	ExtraData    []byte
	AttestedName []byte
}

// decodeTPMSAttest parses the length-prefixed TPMS_ATTEST wire structure
// far enough to extract extraData and the certify name, following the
// TPM2 Part 2 structure layout: magic, type, qualifiedSigner (length
// prefixed), extraData (length prefixed), clockInfo (17 bytes fixed),
// firmwareVersion (8 bytes fixed), then the TPMU_ATTEST union — for type
// ATTEST_CERTIFY this is { name (length prefixed), qualifiedName (length
// prefixed) }.
func decodeTPMSAttest(data []byte) (*tpmsAttest, error) {
	r := bytes.NewReader(data)
	a := &tpmsAttest{}

	if err := binary.Read(r, binary.BigEndian, &a.Magic); err != nil {
		return nil, NewError("error reading TPMS_ATTEST magic").Wrap(err)
	}
	if a.Magic != tpmGeneratedValue {
		return nil, NewError("TPMS_ATTEST magic is not TPM_GENERATED_VALUE")
	}
	if err := binary.Read(r, binary.BigEndian, &a.Type); err != nil {
		return nil, NewError("error reading TPMS_ATTEST type").Wrap(err)
	}
	if a.Type != tpmSTAttestCertify {
		return nil, NewError("TPMS_ATTEST type is not TPM_ST_ATTEST_CERTIFY")
	}

	if _, err := readTPM2B(r); err != nil { // qualifiedSigner
		return nil, NewError("error reading qualifiedSigner").Wrap(err)
	}
	extraData, err := readTPM2B(r)
	if err != nil {
		return nil, NewError("error reading extraData").Wrap(err)
	}
	a.ExtraData = extraData

	clockInfo := make([]byte, 17)
	if _, err := r.Read(clockInfo); err != nil {
		return nil, NewError("error reading clockInfo").Wrap(err)
	}
	firmwareVersion := make([]byte, 8)
	if _, err := r.Read(firmwareVersion); err != nil {
		return nil, NewError("error reading firmwareVersion").Wrap(err)
	}

	name, err := readTPM2B(r)
	if err != nil {
		return nil, NewError("error reading attested.name").Wrap(err)
	}
	a.AttestedName = name

	return a, nil
}

// readTPM2B reads a TPM2B_-style length-prefixed (uint16) byte buffer.
func readTPM2B(r *bytes.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// tpmtPublic holds the fields of a TPMT_PUBLIC structure needed to
// reconstruct the digest checked against attested.name and to recover
// the actual public key material in unique.
type tpmtPublic struct {
	Type    uint16
	NameAlg uint16

	// EC2 unique fields, populated when Type == tpmAlgECC.
	CurveID uint16
	ECX     []byte
	ECY     []byte

	// RSA unique fields, populated when Type == tpmAlgRSA.
	RSAExponent uint32
	RSAModulus  []byte

	raw []byte
}

func decodeTPMTPublic(data []byte) (*tpmtPublic, error) {
	r := bytes.NewReader(data)
	p := &tpmtPublic{raw: data}
	if err := binary.Read(r, binary.BigEndian, &p.Type); err != nil {
		return nil, NewError("error reading pubArea type").Wrap(err)
	}
	if err := binary.Read(r, binary.BigEndian, &p.NameAlg); err != nil {
		return nil, NewError("error reading pubArea nameAlg").Wrap(err)
	}

	var objectAttributes uint32
	if err := binary.Read(r, binary.BigEndian, &objectAttributes); err != nil {
		return nil, NewError("error reading pubArea objectAttributes").Wrap(err)
	}
	if _, err := readTPM2B(r); err != nil { // authPolicy
		return nil, NewError("error reading pubArea authPolicy").Wrap(err)
	}

	switch p.Type {
	case tpmAlgECC:
		if err := skipTPMSymmetricAlg(r); err != nil {
			return nil, NewError("error reading ECC parameters.symmetric").Wrap(err)
		}
		if err := skipTPMSigningScheme(r); err != nil {
			return nil, NewError("error reading ECC parameters.scheme").Wrap(err)
		}
		if err := binary.Read(r, binary.BigEndian, &p.CurveID); err != nil {
			return nil, NewError("error reading ECC parameters.curveID").Wrap(err)
		}
		if err := skipTPMSigningScheme(r); err != nil { // kdf
			return nil, NewError("error reading ECC parameters.kdf").Wrap(err)
		}
		x, err := readTPM2B(r)
		if err != nil {
			return nil, NewError("error reading ECC unique.x").Wrap(err)
		}
		y, err := readTPM2B(r)
		if err != nil {
			return nil, NewError("error reading ECC unique.y").Wrap(err)
		}
		p.ECX, p.ECY = x, y

	case tpmAlgRSA:
		if err := skipTPMSymmetricAlg(r); err != nil {
			return nil, NewError("error reading RSA parameters.symmetric").Wrap(err)
		}
		if err := skipTPMSigningScheme(r); err != nil {
			return nil, NewError("error reading RSA parameters.scheme").Wrap(err)
		}
		var keyBits uint16
		if err := binary.Read(r, binary.BigEndian, &keyBits); err != nil {
			return nil, NewError("error reading RSA parameters.keyBits").Wrap(err)
		}
		if err := binary.Read(r, binary.BigEndian, &p.RSAExponent); err != nil {
			return nil, NewError("error reading RSA parameters.exponent").Wrap(err)
		}
		modulus, err := readTPM2B(r)
		if err != nil {
			return nil, NewError("error reading RSA unique").Wrap(err)
		}
		p.RSAModulus = modulus

	default:
		// Unsupported key types are rejected once compared against the
		// credential's COSE key type in verifyTPMPublicMatchesCredential.
	}

	return p, nil
}

// skipTPMSymmetricAlg reads a TPMT_SYM_DEF_OBJECT's algorithm field.
// Attestation keys are restricted signing keys, whose symmetric
// algorithm is always TPM_ALG_NULL; anything else is rejected since its
// key-bits/mode fields would need algorithm-specific parsing this
// package does not implement.
func skipTPMSymmetricAlg(r *bytes.Reader) error {
	var alg uint16
	if err := binary.Read(r, binary.BigEndian, &alg); err != nil {
		return err
	}
	if alg != tpmAlgNull {
		return NewError("unsupported non-null symmetric algorithm 0x%04x on a signing key", alg)
	}
	return nil
}

// skipTPMSigningScheme reads a TPMT_xxx_SCHEME's algorithm field and,
// for the RSASSA/RSAPSS/ECDSA/ECSCHNORR/SM2 schemes TPM attestation
// keys use, its TPMS_SCHEME_HASH-shaped details (one hashAlg field).
func skipTPMSigningScheme(r *bytes.Reader) error {
	var alg uint16
	if err := binary.Read(r, binary.BigEndian, &alg); err != nil {
		return err
	}
	if alg == tpmAlgNull {
		return nil
	}
	switch alg {
	case tpmAlgRSASSA, tpmAlgRSAPSS, tpmAlgECDSA, tpmAlgECSCHNORR, tpmAlgSM2:
		var hashAlg uint16
		return binary.Read(r, binary.BigEndian, &hashAlg)
	default:
		return NewError("unsupported scheme algorithm 0x%04x", alg)
	}
}

func tpmNameDigest(nameAlg uint16, pubArea []byte) ([]byte, error) {
	switch nameAlg {
	case tpmAlgSHA256:
		h := sha256.Sum256(pubArea)
		return h[:], nil
	case tpmAlgSHA384:
		h := sha512.Sum384(pubArea)
		return h[:], nil
	case tpmAlgSHA512:
		h := sha512.Sum512(pubArea)
		return h[:], nil
	default:
		return nil, NewError("unsupported TPM nameAlg 0x%04x", nameAlg)
	}
}

// verifyTPMAttestation implements the "tpm" attestation statement format
// (spec.md §4.3/§8.4): certInfo (TPMS_ATTEST) must be signed by the x5c
// leaf, must carry extraData = SHA256(authData||clientDataHash), and its
// attested.name must equal nameAlg || digest(pubArea), where pubArea
// (TPMT_PUBLIC) describes the same public key as the credential.
func verifyTPMAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	var ts tpmStatement
	if err := strictDecMode.Unmarshal(stmt, &ts); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding tpm attestation statement").Wrap(err))
	}
	if len(ts.X5C) == 0 {
		return nil, ErrInvalidAttestation.Wrap(NewError("tpm attestation requires an x5c chain"))
	}

	var chain []*x509.Certificate
	for _, raw := range ts.X5C {
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

	sigWarnings, err := verifyWithKey(COSEAlgorithmIdentifier(ts.Alg), leaf.PublicKey, ts.CertInfo, ts.Sig)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("certInfo signature invalid").Wrap(err))
	}

	attest, err := decodeTPMSAttest(ts.CertInfo)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(err)
	}

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash...)
	expectedExtraData := sha256.Sum256(signedData)
	if !bytes.Equal(attest.ExtraData, expectedExtraData[:]) {
		return nil, ErrInvalidAttestation.Wrap(NewError("certInfo.extraData does not match authData||clientDataHash"))
	}

	pub, err := decodeTPMTPublic(ts.PubArea)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(err)
	}

	digest, err := tpmNameDigest(pub.NameAlg, ts.PubArea)
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(err)
	}
	expectedName := append(make([]byte, 0, 2+len(digest)), byte(pub.NameAlg>>8), byte(pub.NameAlg))
	expectedName = append(expectedName, digest...)
	if !bytes.Equal(attest.AttestedName, expectedName) {
		return nil, ErrInvalidAttestation.Wrap(NewError("attested.name does not match nameAlg||digest(pubArea)"))
	}

	if err := verifyTPMPublicMatchesCredential(pub, authData); err != nil {
		return nil, err
	}

	return &attestationVerdict{SelfAttested: false, Chain: chain, Warnings: sigWarnings}, nil
}

// verifyTPMPublicMatchesCredential checks that pubArea describes the
// same public key as the credential, not merely the same key type: the
// modulus/exponent for RSA, or the curve and point coordinates for
// EC2. Without this, a pubArea of the right type but a substituted key
// would still pass the certInfo/attested.name checks.
func verifyTPMPublicMatchesCredential(pub *tpmtPublic, authData *AuthenticatorData) error {
	acd := authData.AttestedCredentialData
	credentialKey, err := DecodePublicKey(&acd.CredentialPublicKey)
	if err != nil {
		return ErrInvalidAttestation.Wrap(err)
	}

	switch COSEKeyType(acd.CredentialPublicKey.Kty) {
	case KeyTypeEC2:
		if pub.Type != tpmAlgECC {
			return ErrInvalidAttestation.Wrap(NewError("pubArea type does not match EC2 credential key"))
		}
		ecKey, ok := credentialKey.(*ecdsa.PublicKey)
		if !ok {
			return ErrInvalidAttestation.Wrap(NewError("credential key is not an EC public key"))
		}
		curve, ok := tpmECCCurves[pub.CurveID]
		if !ok || curve != ecKey.Curve {
			return ErrInvalidAttestation.Wrap(NewError("pubArea curve does not match credential key curve"))
		}
		if new(big.Int).SetBytes(pub.ECX).Cmp(ecKey.X) != 0 || new(big.Int).SetBytes(pub.ECY).Cmp(ecKey.Y) != 0 {
			return ErrInvalidAttestation.Wrap(NewError("pubArea public key does not match credential public key"))
		}

	case KeyTypeRSA:
		if pub.Type != tpmAlgRSA {
			return ErrInvalidAttestation.Wrap(NewError("pubArea type does not match RSA credential key"))
		}
		rsaKey, ok := credentialKey.(*rsa.PublicKey)
		if !ok {
			return ErrInvalidAttestation.Wrap(NewError("credential key is not an RSA public key"))
		}
		exponent := pub.RSAExponent
		if exponent == 0 {
			exponent = 65537 // TPM2B_PUBLIC_KEY_RSA exponent 0 means the default
		}
		if new(big.Int).SetBytes(pub.RSAModulus).Cmp(rsaKey.N) != 0 || int(exponent) != rsaKey.E {
			return ErrInvalidAttestation.Wrap(NewError("pubArea public key does not match credential public key"))
		}

	default:
		return ErrInvalidAttestation.Wrap(NewError("tpm attestation does not support credential key type %d", acd.CredentialPublicKey.Kty))
	}
	return nil
}
