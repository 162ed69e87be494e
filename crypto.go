package webauthn

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// sha256Sum returns the SHA-256 digest of data.
func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ChainResult carries the outcome of an X.509 path validation, including
// any non-fatal advisories gathered along the way (spec.md §4.2).
type ChainResult struct {
	Chains   [][]*x509.Certificate
	Warnings []Warning
}

// verifyCertChain performs standard X.509 path validation of leaf against
// the supplied trust anchors, with intermediates drawn from the
// remainder of the chain. Revocation is not required by spec.md, but
// when the chain carries an issuer for the leaf and the leaf names an
// OCSP server, an OCSP check is attempted and a "revoked" answer is
// surfaced as an advisory Warning rather than a hard failure.
func verifyCertChain(chain []*x509.Certificate, roots *x509.CertPool, atTime time.Time) (*ChainResult, error) {
	if len(chain) == 0 {
		return nil, ErrInternalCryptoError.Wrap(NewError("empty certificate chain"))
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   atTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, ErrInvalidAttestation.Wrap(NewError("certificate chain does not validate").Wrap(err))
	}

	result := &ChainResult{Chains: chains}
	if len(chain) > 1 {
		if w := advisoryOCSPCheck(leaf, chain[1]); w != nil {
			result.Warnings = append(result.Warnings, *w)
		}
	}
	return result, nil
}

// advisoryOCSPCheck consults the leaf certificate's OCSP responder, if
// any, purely for an advisory warning. Per spec.md §4.2 no revocation
// check is required; a "revoked" response is surfaced as a Warning and
// never fails the ceremony, and any transport/parse error is ignored.
func advisoryOCSPCheck(leaf, issuer *x509.Certificate) *Warning {
	if len(leaf.OCSPServer) == 0 {
		return nil
	}

	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(req))
	if err != nil {
		return nil
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	parsed, err := ocsp.ParseResponse(body, issuer)
	if err != nil {
		return nil
	}

	if parsed.Status == ocsp.Revoked {
		w := NewWarning(WarningOCSPRevoked, "attestation certificate reported revoked by OCSP responder")
		return &w
	}
	return nil
}
