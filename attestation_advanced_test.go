package webauthn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifyAndroidKeyAttestation(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))

	extValue, err := asn1.Marshal(androidKeyAttestationExtension{
		AttestationVersion:       3,
		AttestationSecurityLevel: 1,
		KeymasterVersion:         4,
		KeymasterSecurityLevel:   1,
		AttestationChallenge:     clientDataHash[:],
		UniqueID:                 []byte{},
		TeeEnforced: androidKeyAuthorizationList{
			Purpose: []int{androidKeyPurposeSign},
			Origin:  androidKeyOriginGenerated,
		},
	})
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "android key attestation"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
		ExtraExtensions: []pkix.Extension{
			{Id: androidKeyAttestationOID, Value: extValue},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	digest := sha256Sum(signedData)
	sig := signASN1(t, leafPriv, digest[:])

	x5c, err := ctap2Mode.Marshal(leaf.Raw)
	require.NoError(t, err)
	stmt, err := ctap2Mode.Marshal(androidKeyStatement{Alg: int(AlgorithmES256), Sig: sig, X5C: []cbor.RawMessage{x5c}})
	require.NoError(t, err)

	verdict, err := verifyAndroidKeyAttestation(stmt, &AuthenticatorData{}, rawAuthData, clientDataHash[:])
	require.NoError(t, err)
	require.Len(t, verdict.Chain, 1)
}

func TestVerifyAndroidKeyAttestationWrongChallenge(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))

	extValue, err := asn1.Marshal(androidKeyAttestationExtension{
		AttestationChallenge: []byte("not-the-client-data-hash"),
		TeeEnforced: androidKeyAuthorizationList{
			Purpose: []int{androidKeyPurposeSign},
			Origin:  androidKeyOriginGenerated,
		},
	})
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:    big.NewInt(1),
		Subject:         pkix.Name{CommonName: "android key attestation"},
		NotBefore:       time.Unix(1600000000, 0),
		NotAfter:        time.Unix(2600000000, 0),
		ExtraExtensions: []pkix.Extension{{Id: androidKeyAttestationOID, Value: extValue}},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	digest := sha256Sum(signedData)
	sig := signASN1(t, leafPriv, digest[:])

	x5c, err := ctap2Mode.Marshal(leaf.Raw)
	require.NoError(t, err)
	stmt, err := ctap2Mode.Marshal(androidKeyStatement{Alg: int(AlgorithmES256), Sig: sig, X5C: []cbor.RawMessage{x5c}})
	require.NoError(t, err)

	_, err = verifyAndroidKeyAttestation(stmt, &AuthenticatorData{}, rawAuthData, clientDataHash[:])
	require.Error(t, err, "expected an error when attestationChallenge does not match the client data hash")
}

func TestVerifyAndroidSafetyNetAttestation(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "attest.android.com"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))
	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	nonce := sha256.Sum256(signedData)

	claims := &safetyNetClaims{
		Nonce:           base64.StdEncoding.EncodeToString(nonce[:]),
		TimestampMs:     time.Now().UnixMilli(),
		CtsProfileMatch: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []interface{}{base64.StdEncoding.EncodeToString(der)}
	signed, err := token.SignedString(leafPriv)
	require.NoError(t, err)

	stmt, err := ctap2Mode.Marshal(safetyNetStatement{Ver: "18301037", Response: []byte(signed)})
	require.NoError(t, err)

	verdict, err := verifyAndroidSafetyNetAttestation(stmt, &AuthenticatorData{}, rawAuthData, clientDataHash[:])
	require.NoError(t, err)
	require.Len(t, verdict.Chain, 1)
}

func TestVerifyAndroidSafetyNetAttestationStaleTimestamp(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "attest.android.com"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))
	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	nonce := sha256.Sum256(signedData)

	claims := &safetyNetClaims{
		Nonce:           base64.StdEncoding.EncodeToString(nonce[:]),
		TimestampMs:     time.Now().Add(-1 * time.Hour).UnixMilli(),
		CtsProfileMatch: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []interface{}{base64.StdEncoding.EncodeToString(der)}
	signed, err := token.SignedString(leafPriv)
	require.NoError(t, err)

	stmt, err := ctap2Mode.Marshal(safetyNetStatement{Ver: "18301037", Response: []byte(signed)})
	require.NoError(t, err)

	_, err = verifyAndroidSafetyNetAttestation(stmt, &AuthenticatorData{}, rawAuthData, clientDataHash[:])
	require.Error(t, err, "expected an error for a stale SafetyNet timestamp")
}

func buildTPM2B(data []byte) []byte {
	buf := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

func buildTPMSAttest(t *testing.T, extraData, name []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmGeneratedValue))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmSTAttestCertify))
	buf.Write(buildTPM2B(nil))       // qualifiedSigner
	buf.Write(buildTPM2B(extraData)) // extraData
	buf.Write(make([]byte, 17))      // clockInfo
	buf.Write(make([]byte, 8))       // firmwareVersion
	buf.Write(buildTPM2B(name))      // attested.name
	buf.Write(buildTPM2B(nil))       // attested.qualifiedName
	return buf.Bytes()
}

// buildECCPubArea constructs a minimal but structurally valid
// TPMT_PUBLIC for an ECDSA signing key over the given point, following
// the layout decodeTPMTPublic expects: type, nameAlg, objectAttributes,
// authPolicy, then TPMS_ECC_PARMS (symmetric=NULL, scheme=ECDSA+SHA256,
// curveID, kdf=NULL), then the unique x/y point.
func buildECCPubArea(t *testing.T, curveID uint16, x, y []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgECC))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgSHA256))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0))) // objectAttributes
	buf.Write(buildTPM2B(nil))                                         // authPolicy
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgNull))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgECDSA))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgSHA256))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, curveID))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, tpmAlgNull)) // kdf
	buf.Write(buildTPM2B(x))
	buf.Write(buildTPM2B(y))
	return buf.Bytes()
}

// tpmECCNISTP256 is the TPM_ECC_CURVE identifier of NIST P-256, the
// curveID buildECCPubArea expects (not the COSE curve number).
const tpmECCNISTP256 uint16 = 0x0003

func eccCredentialPublicKey(t *testing.T, pub *ecdsa.PublicKey) COSEKey {
	t.Helper()
	xBytes, err := ctap2Mode.Marshal(pub.X.Bytes())
	require.NoError(t, err)
	yBytes, err := ctap2Mode.Marshal(pub.Y.Bytes())
	require.NoError(t, err)
	crv, err := ctap2Mode.Marshal(int(CurveP256))
	require.NoError(t, err)
	return COSEKey{
		Kty:       int(KeyTypeEC2),
		Alg:       int(AlgorithmES256),
		CrvOrNOrK: crv,
		XOrE:      xBytes,
		Y:         yBytes,
	}
}

func TestVerifyTPMAttestation(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tpm attestation"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	credPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubArea := buildECCPubArea(t, tpmECCNISTP256, credPriv.PublicKey.X.Bytes(), credPriv.PublicKey.Y.Bytes())
	nameDigest := sha256.Sum256(pubArea)
	name := append([]byte{byte(tpmAlgSHA256 >> 8), byte(tpmAlgSHA256)}, nameDigest[:]...)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))
	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	extraData := sha256.Sum256(signedData)

	certInfo := buildTPMSAttest(t, extraData[:], name)
	digest := sha256Sum(certInfo)
	sig := signASN1(t, leafPriv, digest[:])

	x5c, err := ctap2Mode.Marshal(leaf.Raw)
	require.NoError(t, err)
	stmt, err := ctap2Mode.Marshal(tpmStatement{
		Alg:      int(AlgorithmES256),
		Sig:      sig,
		CertInfo: certInfo,
		PubArea:  pubArea,
		X5C:      []cbor.RawMessage{x5c},
	})
	require.NoError(t, err)

	authData := &AuthenticatorData{
		AttestedCredentialData: &AttestedCredentialData{
			CredentialPublicKey: eccCredentialPublicKey(t, &credPriv.PublicKey),
		},
	}

	verdict, err := verifyTPMAttestation(stmt, authData, rawAuthData, clientDataHash[:])
	require.NoError(t, err)
	require.Len(t, verdict.Chain, 1)
}

func TestVerifyTPMAttestationKeyTypeMismatch(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tpm attestation"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	credPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubArea := buildECCPubArea(t, tpmECCNISTP256, credPriv.PublicKey.X.Bytes(), credPriv.PublicKey.Y.Bytes())
	nameDigest := sha256.Sum256(pubArea)
	name := append([]byte{byte(tpmAlgSHA256 >> 8), byte(tpmAlgSHA256)}, nameDigest[:]...)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))
	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	extraData := sha256.Sum256(signedData)

	certInfo := buildTPMSAttest(t, extraData[:], name)
	digest := sha256Sum(certInfo)
	sig := signASN1(t, leafPriv, digest[:])

	x5c, err := ctap2Mode.Marshal(leaf.Raw)
	require.NoError(t, err)
	stmt, err := ctap2Mode.Marshal(tpmStatement{
		Alg:      int(AlgorithmES256),
		Sig:      sig,
		CertInfo: certInfo,
		PubArea:  pubArea,
		X5C:      []cbor.RawMessage{x5c},
	})
	require.NoError(t, err)

	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaN, err := ctap2Mode.Marshal(rsaPriv.PublicKey.N.Bytes())
	require.NoError(t, err)
	rsaE, err := ctap2Mode.Marshal(big.NewInt(int64(rsaPriv.PublicKey.E)).Bytes())
	require.NoError(t, err)

	authData := &AuthenticatorData{
		AttestedCredentialData: &AttestedCredentialData{
			CredentialPublicKey: COSEKey{Kty: int(KeyTypeRSA), Alg: int(AlgorithmRS256), CrvOrNOrK: rsaN, XOrE: rsaE},
		},
	}

	_, err = verifyTPMAttestation(stmt, authData, rawAuthData, clientDataHash[:])
	require.Error(t, err, "expected an error when pubArea key type does not match the credential key type")
}

func TestVerifyTPMAttestationSubstitutedKey(t *testing.T) {
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tpm attestation"},
		NotBefore:    time.Unix(1600000000, 0),
		NotAfter:     time.Unix(2600000000, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &leafPriv.PublicKey, leafPriv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	// pubArea describes a genuine EC2 key, but a different one than the
	// credential reports: same type, different point.
	credPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	attackerPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubArea := buildECCPubArea(t, tpmECCNISTP256, attackerPriv.PublicKey.X.Bytes(), attackerPriv.PublicKey.Y.Bytes())
	nameDigest := sha256.Sum256(pubArea)
	name := append([]byte{byte(tpmAlgSHA256 >> 8), byte(tpmAlgSHA256)}, nameDigest[:]...)

	rawAuthData := []byte("authenticator-data-bytes")
	clientDataHash := sha256Sum([]byte("client-data"))
	signedData := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)
	extraData := sha256.Sum256(signedData)

	certInfo := buildTPMSAttest(t, extraData[:], name)
	digest := sha256Sum(certInfo)
	sig := signASN1(t, leafPriv, digest[:])

	x5c, err := ctap2Mode.Marshal(leaf.Raw)
	require.NoError(t, err)
	stmt, err := ctap2Mode.Marshal(tpmStatement{
		Alg:      int(AlgorithmES256),
		Sig:      sig,
		CertInfo: certInfo,
		PubArea:  pubArea,
		X5C:      []cbor.RawMessage{x5c},
	})
	require.NoError(t, err)

	authData := &AuthenticatorData{
		AttestedCredentialData: &AttestedCredentialData{
			CredentialPublicKey: eccCredentialPublicKey(t, &credPriv.PublicKey),
		},
	}

	_, err = verifyTPMAttestation(stmt, authData, rawAuthData, clientDataHash[:])
	require.Error(t, err, "expected an error when pubArea's key material does not match the credential's public key")
}
