package webauthn

import (
	"crypto/x509"
	"time"

	"github.com/google/uuid"
)

// formatAAGUID renders an AAGUID in the canonical dashed form used by
// FIDO metadata (e.g. "7a98c250-6808-11cf-b73b-00aa00b677a7"), reusing
// google/uuid's RFC 4122 text encoding rather than hand rolling one.
func formatAAGUID(aaguid [16]byte) string {
	return uuid.UUID(aaguid).String()
}

// StaticMetadataService is a MetadataService backed by an in-memory map,
// suitable for tests and for deployments that embed a fixed FIDO
// metadata snapshot rather than polling the MDS BLOB endpoint.
type StaticMetadataService struct {
	entries    map[[16]byte]MetadataEntry
	skiEntries map[string]MetadataEntry
}

// NewStaticMetadataService builds a StaticMetadataService from a
// caller-supplied AAGUID-keyed map.
func NewStaticMetadataService(entries map[[16]byte]MetadataEntry) *StaticMetadataService {
	return &StaticMetadataService{entries: entries}
}

// WithSKIEntries attaches a Subject-Key-Identifier-keyed map used to
// resolve fido-u2f authenticators, which report an all-zero AAGUID.
func (s *StaticMetadataService) WithSKIEntries(skiEntries map[string]MetadataEntry) *StaticMetadataService {
	s.skiEntries = skiEntries
	return s
}

// Lookup implements MetadataService.
func (s *StaticMetadataService) Lookup(aaguid [16]byte) (*MetadataEntry, error) {
	e, ok := s.entries[aaguid]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// LookupBySKI implements SKIMetadataService.
func (s *StaticMetadataService) LookupBySKI(ski []byte) (*MetadataEntry, error) {
	e, ok := s.skiEntries[string(ski)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// trustVerdict is the outcome of combining an attestationVerdict with a
// metadata lookup (spec.md §4.3: "Trust = (chain validates against
// metadata-provided roots) ∧ (metadata authenticator status is
// acceptable)").
type trustVerdict struct {
	Trusted  bool
	Warnings []Warning
}

// zeroAAGUID is the all-zero AAGUID fido-u2f authenticators report,
// since U2F predates the AAGUID concept (spec.md §4.3).
var zeroAAGUID [16]byte

// evaluateTrust combines a verifier's chain/self-attestation outcome
// with the metadata service response for the credential's AAGUID, or,
// for fido-u2f's all-zero AAGUID, the leaf attestation certificate's
// Subject Key Identifier (spec.md §4.3: "keyed by AAGUID (or the
// leaf-cert SKI for U2F)"). Absence of metadata yields an untrusted
// verdict carrying a NoMetadataFound warning, never a hard failure.
func evaluateTrust(fmt AttestationStatementFormat, verdict *attestationVerdict, aaguid [16]byte, meta MetadataService, atTime time.Time) (*trustVerdict, error) {
	if verdict.SelfAttested {
		return &trustVerdict{Trusted: false}, nil
	}

	if meta == nil {
		return &trustVerdict{
			Trusted:  false,
			Warnings: []Warning{NewWarning(WarningNoMetadataFound, "no metadata service configured")},
		}, nil
	}

	entry, err := meta.Lookup(aaguid)
	if err != nil {
		return nil, wrapExternalError(ErrInternalStoreError, err, "metadata service lookup failed")
	}

	if entry == nil && fmt == FormatFIDOU2F && aaguid == zeroAAGUID && len(verdict.Chain) > 0 {
		if skiMeta, ok := meta.(SKIMetadataService); ok {
			if ski := verdict.Chain[0].SubjectKeyId; len(ski) > 0 {
				entry, err = skiMeta.LookupBySKI(ski)
				if err != nil {
					return nil, wrapExternalError(ErrInternalStoreError, err, "metadata service SKI lookup failed")
				}
			}
		}
	}

	if entry == nil {
		return &trustVerdict{
			Trusted:  false,
			Warnings: []Warning{NewWarning(WarningNoMetadataFound, "no metadata entry for AAGUID "+formatAAGUID(aaguid))},
		}, nil
	}

	if !acceptableAuthenticatorStatuses[entry.AuthenticatorStatus] {
		return &trustVerdict{Trusted: false}, nil
	}

	roots := x509.NewCertPool()
	if len(entry.TrustedRoots) > 0 {
		roots.AppendCertsFromPEM(entry.TrustedRoots)
	}
	if len(verdict.Chain) == 0 {
		return &trustVerdict{Trusted: false}, nil
	}

	result, err := verifyCertChain(verdict.Chain, roots, atTime)
	if err != nil {
		return &trustVerdict{Trusted: false, Warnings: verdict.Warnings}, nil
	}

	warnings := append([]Warning{}, verdict.Warnings...)
	warnings = append(warnings, result.Warnings...)
	return &trustVerdict{Trusted: true, Warnings: warnings}, nil
}
