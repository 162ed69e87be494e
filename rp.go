package webauthn

import "time"

// Clock supplies the current time to the ceremony engines, generalizing
// the teacher's former RelyingParty-interface method of the same
// purpose into a constructor-injected capability value (spec.md §9).
type Clock func() time.Time

// Policy holds the tunable behaviors of a RelyingParty (spec.md §4.6).
type Policy struct {
	// AllowUntrustedAttestation permits registration to succeed even
	// when the attestation trust verdict is untrusted (no metadata, or
	// metadata present but the authenticator status is unacceptable).
	// Defaults to true.
	AllowUntrustedAttestation bool

	// ValidateSignatureCounter causes FinishAuthentication to fail when
	// AssertionResult.SignatureCounterValid is false. Defaults to true.
	ValidateSignatureCounter bool

	// AllowOriginSubdomain additionally permits an origin with the same
	// scheme as an allowed origin whose host is a strict subdomain of
	// that allowed origin's host, rather than requiring an exact match
	// against the allowed origins. Defaults to false.
	AllowOriginSubdomain bool

	// AllowUnrequestedExtensions permits extension outputs that were
	// not present in the corresponding options' extension inputs.
	// Defaults to false.
	AllowUnrequestedExtensions bool
}

// DefaultPolicy returns the policy defaults spec.md §4.6 specifies.
func DefaultPolicy() Policy {
	return Policy{
		AllowUntrustedAttestation: true,
		ValidateSignatureCounter:  true,
	}
}

// RelyingParty holds the immutable configuration of a WebAuthn server
// and exposes the four ceremony entry points. It carries no mutable
// state of its own; every ceremony call is a pure function of its
// arguments plus the configured CredentialRepository/MetadataService
// (spec.md §4.6/§9: "No global state... the caller constructs it
// once").
type RelyingParty struct {
	identity              PublicKeyCredentialRpEntity
	allowedOrigins        []string
	pubKeyCredParams      []PublicKeyCredentialParameters
	credentialRepository  CredentialRepository
	metadataService       MetadataService
	tokenBindingValidator TokenBindingValidator
	clock                 Clock
	policy                Policy
}

// RelyingPartyOption configures a RelyingParty at construction time.
type RelyingPartyOption func(*RelyingParty)

// NewRelyingParty constructs an immutable RelyingParty. identity.ID must
// be a registrable suffix of every host in allowedOrigins (spec.md §3);
// this is the caller's responsibility to arrange, since validating DNS
// suffix relationships against live origins is outside the core's
// remit.
func NewRelyingParty(identity PublicKeyCredentialRpEntity, allowedOrigins []string, repo CredentialRepository, opts ...RelyingPartyOption) (*RelyingParty, error) {
	if identity.ID == "" {
		return nil, ErrConfigurationError.Wrap(NewError("relying party ID must not be empty"))
	}
	if len(allowedOrigins) == 0 {
		return nil, ErrConfigurationError.Wrap(NewError("at least one allowed origin is required"))
	}
	if repo == nil {
		return nil, ErrConfigurationError.Wrap(NewError("a CredentialRepository is required"))
	}

	rp := &RelyingParty{
		identity:              identity,
		allowedOrigins:        allowedOrigins,
		pubKeyCredParams:      defaultPubKeyCredParams(),
		credentialRepository:  repo,
		tokenBindingValidator: AcceptAnyTokenBinding,
		clock:                 time.Now,
		policy:                DefaultPolicy(),
	}

	for _, opt := range opts {
		opt(rp)
	}

	return rp, nil
}

// defaultPubKeyCredParams enumerates the credential types and
// algorithms offered by default, generalizing the teacher's
// SupportedPublicKeyCredentialParameters over the full SupportedKeyAlgorithms set.
func defaultPubKeyCredParams() []PublicKeyCredentialParameters {
	algs := SupportedKeyAlgorithms()
	params := make([]PublicKeyCredentialParameters, len(algs))
	for i, alg := range algs {
		params[i] = PublicKeyCredentialParameters{Type: PublicKeyCredentialTypePublicKey, Alg: alg}
	}
	return params
}

// WithMetadataService attaches a MetadataService used for attestation
// trust lookups.
func WithMetadataService(m MetadataService) RelyingPartyOption {
	return func(rp *RelyingParty) { rp.metadataService = m }
}

// WithPubKeyCredParams overrides the default set of offered credential
// parameters.
func WithPubKeyCredParams(params []PublicKeyCredentialParameters) RelyingPartyOption {
	return func(rp *RelyingParty) { rp.pubKeyCredParams = params }
}

// WithClock overrides the source of the current time, used in tests to
// pin the clock.
func WithClock(clock Clock) RelyingPartyOption {
	return func(rp *RelyingParty) { rp.clock = clock }
}

// WithPolicy overrides the default Policy.
func WithPolicy(policy Policy) RelyingPartyOption {
	return func(rp *RelyingParty) { rp.policy = policy }
}

// WithTokenBindingValidator overrides the default accept-any token
// binding validator (spec.md §9).
func WithTokenBindingValidator(v TokenBindingValidator) RelyingPartyOption {
	return func(rp *RelyingParty) { rp.tokenBindingValidator = v }
}

// ID returns the relying party's identifier.
func (rp *RelyingParty) ID() string { return rp.identity.ID }
