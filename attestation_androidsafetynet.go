package webauthn

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
)

// safetyNetTimestampSkew is the default allowed skew between the
// SafetyNet attestation's timestampMs and the relying party's clock
// (spec.md §4.3/§8.5).
var safetyNetTimestampSkew = 60 * time.Second

type safetyNetStatement struct {
	Ver      string `cbor:"ver"`
	Response []byte `cbor:"response"`
}

type safetyNetClaims struct {
	jwt.RegisteredClaims
	Nonce           string `json:"nonce"`
	TimestampMs     int64  `json:"timestampMs"`
	CtsProfileMatch bool   `json:"ctsProfileMatch"`
}

// verifyAndroidSafetyNetAttestation implements the "android-safetynet"
// attestation statement format (spec.md §4.3/§8.5): the statement is a
// JWS produced by Google Play's SafetyNet attestation API, signed by a
// certificate whose leaf CN is attest.android.com.
func verifyAndroidSafetyNetAttestation(stmt cbor.RawMessage, authData *AuthenticatorData, rawAuthData, clientDataHash []byte) (*attestationVerdict, error) {
	var ss safetyNetStatement
	if err := strictDecMode.Unmarshal(stmt, &ss); err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error decoding android-safetynet attestation statement").Wrap(err))
	}

	var leaf *x509.Certificate
	claims := &safetyNetClaims{}
	parsed, err := jwt.ParseWithClaims(string(ss.Response), claims, func(t *jwt.Token) (interface{}, error) {
		chain, ok := t.Header["x5c"].([]interface{})
		if !ok || len(chain) == 0 {
			return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet JWS header missing x5c"))
		}

		certStr, ok := chain[0].(string)
		if !ok {
			return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet JWS x5c[0] is not a string"))
		}
		der, err := base64.StdEncoding.DecodeString(certStr)
		if err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("error decoding SafetyNet leaf certificate").Wrap(err))
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, ErrInvalidAttestation.Wrap(NewError("error parsing SafetyNet leaf certificate").Wrap(err))
		}
		if cert.Subject.CommonName != "attest.android.com" {
			return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet leaf certificate CN %q is not attest.android.com", cert.Subject.CommonName))
		}
		leaf = cert
		return cert.PublicKey, nil
	})
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("error verifying SafetyNet JWS").Wrap(err))
	}
	if !parsed.Valid {
		return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet JWS failed validation"))
	}

	if !claims.CtsProfileMatch {
		return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet ctsProfileMatch is false"))
	}

	signedData := append(append([]byte{}, rawAuthData...), clientDataHash...)
	expectedNonce := sha256.Sum256(signedData)
	if claims.Nonce != base64.StdEncoding.EncodeToString(expectedNonce[:]) {
		return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet nonce does not match authData||clientDataHash"))
	}

	skew := time.Since(time.UnixMilli(claims.TimestampMs))
	if skew < 0 {
		skew = -skew
	}
	if skew > safetyNetTimestampSkew {
		return nil, ErrInvalidAttestation.Wrap(NewError("SafetyNet timestampMs is outside the allowed clock skew"))
	}

	return &attestationVerdict{SelfAttested: false, Chain: []*x509.Certificate{leaf}}, nil
}
