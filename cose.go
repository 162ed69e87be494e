package webauthn

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/binary"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// ctap2Mode encodes CBOR using the sorted, canonical encoding that CTAP2
// and WebAuthn COSE keys are specified to use.
var ctap2Mode = func() cbor.EncMode {
	m, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// strictDecMode rejects duplicate CBOR map keys, matching spec.md §4.1's
// "Rejects duplicate map keys" requirement.
var strictDecMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// COSEKey represents a key decoded from COSE_Key format (RFC 8152).
type COSEKey struct {
	Kty       int             `cbor:"1,keyasint,omitempty"`
	Kid       []byte          `cbor:"2,keyasint,omitempty"`
	Alg       int             `cbor:"3,keyasint,omitempty"`
	KeyOpts   int             `cbor:"4,keyasint,omitempty"`
	IV        []byte          `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cbor.RawMessage `cbor:"-1,keyasint,omitempty"` // K for symmetric keys, Crv for EC keys, N for RSA modulus
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"` // X for curve x-coordinate, E for RSA public exponent
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"` // Y for curve y-coordinate
	D         []byte          `cbor:"-4,keyasint,omitempty"`
}

// COSEKeyType is a number identifying the key type of a COSE key.
type COSEKeyType int

// enum values for COSEKeyType
const (
	KeyTypeOKP COSEKeyType = 1
	KeyTypeEC2 COSEKeyType = 2
	KeyTypeRSA COSEKeyType = 3
)

// COSEAlgorithmIdentifier is a number identifying a cryptographic
// algorithm, per the IANA COSE Algorithms registry.
type COSEAlgorithmIdentifier int

// enum values for COSEAlgorithmIdentifier
const (
	AlgorithmRS1   COSEAlgorithmIdentifier = -65535
	AlgorithmRS512 COSEAlgorithmIdentifier = -259
	AlgorithmRS384 COSEAlgorithmIdentifier = -258
	AlgorithmRS256 COSEAlgorithmIdentifier = -257
	AlgorithmPS512 COSEAlgorithmIdentifier = -39
	AlgorithmPS384 COSEAlgorithmIdentifier = -38
	AlgorithmPS256 COSEAlgorithmIdentifier = -37
	AlgorithmES512 COSEAlgorithmIdentifier = -36
	AlgorithmES384 COSEAlgorithmIdentifier = -35
	AlgorithmEdDSA COSEAlgorithmIdentifier = -8
	AlgorithmES256 COSEAlgorithmIdentifier = -7
)

// COSEEllipticCurve is a number identifying an elliptic curve.
type COSEEllipticCurve int

// enum values for COSEEllipticCurve
const (
	CurveP256 COSEEllipticCurve = 1
	CurveP384 COSEEllipticCurve = 2
	CurveP521 COSEEllipticCurve = 3
)

// SupportedKeyAlgorithms returns the list of key algorithms currently
// supported by this package, in preference order.
func SupportedKeyAlgorithms() []COSEAlgorithmIdentifier {
	return []COSEAlgorithmIdentifier{
		AlgorithmEdDSA,
		AlgorithmES512,
		AlgorithmES384,
		AlgorithmES256,
		AlgorithmPS512,
		AlgorithmPS384,
		AlgorithmPS256,
		AlgorithmRS512,
		AlgorithmRS384,
		AlgorithmRS256,
	}
}

// DecodePublicKey parses a crypto.PublicKey from a decoded COSEKey.
func DecodePublicKey(coseKey *COSEKey) (crypto.PublicKey, error) {
	switch COSEAlgorithmIdentifier(coseKey.Alg) {
	case AlgorithmES256, AlgorithmES384, AlgorithmES512:
		k, err := decodeECDSAPublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		return k, nil
	case AlgorithmRS1, AlgorithmRS512, AlgorithmRS384, AlgorithmRS256,
		AlgorithmPS512, AlgorithmPS384, AlgorithmPS256:
		k, err := decodeRSAPublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		return k, nil
	case AlgorithmEdDSA:
		k, err := decodeEd25519PublicKey(coseKey)
		if err != nil {
			return nil, ErrDecodeCOSEKey.Wrap(err)
		}
		return k, nil
	default:
		return nil, ErrDecodeCOSEKey.Wrap(NewError("COSE algorithm ID %d not supported", coseKey.Alg))
	}
}

// VerifySignature verifies a signature over message using the public key
// encoded in rawKey, dispatching on the key's declared alg. A non-nil
// Warning slice may be returned alongside a nil error (e.g. a
// non-normalized ECDSA signature, which spec.md §4.2 accepts but flags).
func VerifySignature(rawKey cbor.RawMessage, message, sig []byte) ([]Warning, error) {
	coseKey := COSEKey{}
	if err := strictDecMode.Unmarshal(rawKey, &coseKey); err != nil {
		return nil, ErrVerifySignature.Wrap(ErrDecodeCOSEKey.Wrap(err))
	}

	publicKey, err := DecodePublicKey(&coseKey)
	if err != nil {
		return nil, ErrVerifySignature.Wrap(err)
	}

	return verifyWithKey(COSEAlgorithmIdentifier(coseKey.Alg), publicKey, message, sig)
}

// ecdsaOrderHalf returns half the order of curve, used to detect a
// non-normalized (high-S) ECDSA signature.
func ecdsaOrderHalf(curve elliptic.Curve) *big.Int {
	return new(big.Int).Rsh(curve.Params().N, 1)
}

// verifyWithKey verifies message/sig against an already-decoded public
// key and explicit algorithm, used by attestation verifiers that parse
// alg separately from the credential public key (e.g. packed, android-key,
// tpm).
func verifyWithKey(alg COSEAlgorithmIdentifier, publicKey crypto.PublicKey, message, sig []byte) ([]Warning, error) {
	switch alg {
	case AlgorithmES256, AlgorithmES384, AlgorithmES512:
		pk, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, ErrVerifySignature.Wrap(NewError("invalid public key type for ECDSA algorithm"))
		}

		type ecdsaSignature struct{ R, S *big.Int }
		parsed := ecdsaSignature{}
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return nil, ErrVerifySignature.Wrap(NewError("unable to parse ECDSA signature").Wrap(err))
		}

		var msgHash []byte
		switch alg {
		case AlgorithmES256:
			h := sha256.Sum256(message)
			msgHash = h[:]
		case AlgorithmES384:
			h := sha512.Sum384(message)
			msgHash = h[:]
		case AlgorithmES512:
			h := sha512.Sum512(message)
			msgHash = h[:]
		}
		if !ecdsa.Verify(pk, msgHash, parsed.R, parsed.S) {
			return nil, ErrVerifySignature.Wrap(NewError("ECDSA signature verification failed"))
		}

		var warnings []Warning
		if parsed.S.Cmp(ecdsaOrderHalf(pk.Curve)) > 0 {
			warnings = append(warnings, NewWarning(WarningNonNormalizedECDSASignature, "ECDSA signature S value is not low-S normalized"))
		}
		return warnings, nil

	case AlgorithmRS1, AlgorithmRS512, AlgorithmRS384, AlgorithmRS256,
		AlgorithmPS512, AlgorithmPS384, AlgorithmPS256:
		pk, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return nil, ErrVerifySignature.Wrap(NewError("invalid public key type for RSA algorithm"))
		}

		var h crypto.Hash
		switch alg {
		case AlgorithmRS512, AlgorithmPS512:
			h = crypto.SHA512
		case AlgorithmRS384, AlgorithmPS384:
			h = crypto.SHA384
		case AlgorithmRS1:
			h = crypto.SHA1
		default:
			h = crypto.SHA256
		}

		hasher := h.New()
		hasher.Write(message)
		digest := hasher.Sum(nil)

		var err error
		switch alg {
		case AlgorithmPS512, AlgorithmPS384, AlgorithmPS256:
			err = rsa.VerifyPSS(pk, h, digest, sig, nil)
		default:
			err = rsa.VerifyPKCS1v15(pk, h, digest, sig)
		}
		if err != nil {
			return nil, ErrVerifySignature.Wrap(NewError("RSA signature verification failed").Wrap(err))
		}
		return nil, nil

	case AlgorithmEdDSA:
		pk, ok := publicKey.(ed25519.PublicKey)
		if !ok {
			return nil, ErrVerifySignature.Wrap(NewError("invalid public key type for EdDSA algorithm"))
		}
		if ed25519.Verify(pk, message, sig) {
			return nil, nil
		}
		return nil, ErrVerifySignature.Wrap(NewError("EdDSA signature verification failed"))
	}
	return nil, ErrVerifySignature.Wrap(NewError("COSE algorithm ID %d not supported", alg))
}

func decodeECDSAPublicKey(coseKey *COSEKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	var curveID int
	if err := strictDecMode.Unmarshal(coseKey.CrvOrNOrK, &curveID); err != nil {
		return nil, NewError("error decoding elliptic curve ID").Wrap(err)
	}

	switch COSEEllipticCurve(curveID) {
	case CurveP256:
		curve = elliptic.P256()
	case CurveP384:
		curve = elliptic.P384()
	case CurveP521:
		curve = elliptic.P521()
	default:
		return nil, NewError("COSE elliptic curve %d not supported", curveID)
	}

	var xBytes, yBytes []byte
	if err := strictDecMode.Unmarshal(coseKey.XOrE, &xBytes); err != nil {
		return nil, NewError("error decoding elliptic X parameter").Wrap(err)
	}
	if err := strictDecMode.Unmarshal(coseKey.Y, &yBytes); err != nil {
		return nil, NewError("error decoding elliptic Y parameter").Wrap(err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func decodeRSAPublicKey(coseKey *COSEKey) (*rsa.PublicKey, error) {
	var nBytes, eBytes []byte
	if err := strictDecMode.Unmarshal(coseKey.CrvOrNOrK, &nBytes); err != nil {
		return nil, NewError("error decoding RSA modulus").Wrap(err)
	}
	if err := strictDecMode.Unmarshal(coseKey.XOrE, &eBytes); err != nil {
		return nil, NewError("error decoding RSA exponent").Wrap(err)
	}

	buf := make([]byte, 8)
	copy(buf[8-len(eBytes):], eBytes)

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(binary.BigEndian.Uint64(buf)),
	}, nil
}

func decodeEd25519PublicKey(coseKey *COSEKey) (ed25519.PublicKey, error) {
	var kBytes []byte
	if err := strictDecMode.Unmarshal(coseKey.CrvOrNOrK, &kBytes); err != nil {
		return nil, NewError("error decoding Ed25519 public key").Wrap(err)
	}
	return ed25519.PublicKey(kBytes), nil
}

// marshalCOSEKey re-encodes a COSEKey using canonical CTAP2 CBOR, used to
// produce the stable bytes stored alongside a newly registered credential.
func marshalCOSEKey(k *COSEKey) ([]byte, error) {
	return ctap2Mode.Marshal(k)
}

// ecdsaPointUncompressed returns the uncompressed X9.62 point encoding
// (0x04 || X || Y) for an ECDSA public key, used by the fido-u2f
// verifier to reconstruct the signed data.
func ecdsaPointUncompressed(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}
