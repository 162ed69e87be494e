package webauthn

import (
	"bytes"
)

// AttestationType is a tagged variant over the trust category a
// verified attestation statement belongs to (spec.md §9).
type AttestationType string

// enum values for AttestationType
const (
	AttestationTypeNone  AttestationType = "None"
	AttestationTypeSelf  AttestationType = "Self"
	AttestationTypeBasic AttestationType = "Basic"
	AttestationTypeAttCA AttestationType = "AttCA"
)

// RegistrationResult carries the artifacts the external credential
// store needs to persist after a successful registration (spec.md §3).
type RegistrationResult struct {
	CredentialID       []byte
	PublicKeyCOSE      []byte
	AttestationTrusted bool
	AttestationType    AttestationType
	AttestationAAGUID  [16]byte
	Warnings           []Warning
	SignatureCounter   uint32
}

// StartRegistration begins the registration ceremony by building a
// PublicKeyCredentialCreationOptions to send to the client (spec.md
// §4.4).
func (rp *RelyingParty) StartRegistration(user User, opts ...Option) (*PublicKeyCredentialCreationOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, ErrGenerateChallenge.Wrap(err)
	}

	creationOptions := &PublicKeyCredentialCreationOptions{
		RP: rp.identity,
		User: PublicKeyCredentialUserEntity{
			Name:        user.UserName(),
			Icon:        user.UserIcon(),
			ID:          user.UserID(),
			DisplayName: user.UserDisplayName(),
		},
		Challenge:        challenge,
		PubKeyCredParams: rp.pubKeyCredParams,
	}

	descriptors, err := rp.credentialRepository.GetCredentialIDsForUsername(user.UserName())
	if err != nil {
		return nil, wrapExternalError(ErrInternalStoreError, err, "credential repository GetCredentialIDsForUsername failed")
	}
	creationOptions.ExcludeCredentials = descriptors

	for _, opt := range opts {
		if err := opt(creationOptions); err != nil {
			return nil, err
		}
	}

	return creationOptions, nil
}

// FinishRegistration completes the registration ceremony: it validates
// the provided attestation response against opts and returns the
// artifacts needed to persist the new credential (spec.md §4.4).
//
// The caller is responsible for having removed the stored options on
// the first finish attempt (spec.md §5); FinishRegistration never
// mutates rp.credentialRepository itself.
func (rp *RelyingParty) FinishRegistration(opts *PublicKeyCredentialCreationOptions, cred *AttestationPublicKeyCredential) (*RegistrationResult, error) {
	// 1. credential.type == "public-key".
	if cred.Type != PublicKeyCredentialTypePublicKey {
		return nil, ErrVerifyRegistration.Wrap(NewError("credential type %q is not public-key", cred.Type))
	}

	// 2. Parse clientDataJSON, check type/challenge/origin/token binding.
	C, err := parseClientData(cred.Response.ClientDataJSON)
	if err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}
	if C.Type != "webauthn.create" {
		return nil, ErrVerifyRegistration.Wrap(NewError("C.type is not webauthn.create"))
	}
	if err := verifyChallenge(C, opts.Challenge); err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}
	if err := verifyOrigin(C, rp.allowedOrigins, rp.policy.AllowOriginSubdomain); err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}
	if C.TokenBinding != nil && C.TokenBinding.Status == TokenBindingPresent {
		if err := rp.tokenBindingValidator(C.TokenBinding); err != nil {
			return nil, ErrVerifyRegistration.Wrap(err)
		}
	}

	// 3. clientDataHash = SHA256(clientDataJSON).
	clientDataHash := sha256Sum(cred.Response.ClientDataJSON)

	// 4. Decode attestationObject; parse authData.
	obj, authData, err := decodeAttestationObject(cred.Response.AttestationObject)
	if err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}

	// 5. authData.rpIdHash == SHA256(rp.id).
	rpIDHash := sha256Sum([]byte(rp.identity.ID))
	if !bytes.Equal(authData.RPIDHash[:], rpIDHash[:]) {
		return nil, ErrVerifyRegistration.Wrap(ErrRPIDHashMismatch)
	}

	// 6. UP must be set; UV required if policy demands it.
	if !authData.UP {
		return nil, ErrVerifyRegistration.Wrap(ErrUserPresenceMissing)
	}
	if opts.AuthenticatorSelection != nil && opts.AuthenticatorSelection.UserVerification == VerificationRequired && !authData.UV {
		return nil, ErrVerifyRegistration.Wrap(ErrUserVerificationRequired)
	}

	// 7. AT must be set and attested credential data present (already
	// enforced by decodeAttestationObject).

	// 8. credentialPublicKey.alg must appear in opts.pubKeyCredParams.
	acd := authData.AttestedCredentialData
	if !algAllowed(opts.PubKeyCredParams, COSEAlgorithmIdentifier(acd.CredentialPublicKey.Alg)) {
		return nil, ErrVerifyRegistration.Wrap(ErrUnsupportedAlgorithm)
	}

	// 9. Dispatch to the attestation verifier keyed by fmt. An
	// unrecognized fmt only passes when the caller explicitly requested
	// no attestation conveyance, in which case it is treated the same as
	// the "none" format.
	var verdict *attestationVerdict
	if obj.Fmt.Valid() {
		verdict, err = verifyAttestationStatement(obj, authData, clientDataHash[:])
		if err != nil {
			return nil, ErrVerifyRegistration.Wrap(err)
		}
	} else {
		if opts.Attestation != AttestationPreferenceNone {
			return nil, ErrVerifyRegistration.Wrap(ErrUnknownAttestationFormat)
		}
		verdict = &attestationVerdict{}
	}

	// 10. Determine trust via metadata lookup.
	trust, err := evaluateTrust(obj.Fmt, verdict, acd.AAGUID, rp.metadataService, rp.clock())
	if err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}
	// A "none" attestation (including an unrecognized fmt accepted as
	// one) is trusted exactly when policy permits unattested
	// registrations.
	if attestationType(obj.Fmt, verdict) == AttestationTypeNone {
		trust.Trusted = rp.policy.AllowUntrustedAttestation
	}
	if !trust.Trusted && !rp.policy.AllowUntrustedAttestation {
		return nil, ErrVerifyRegistration.Wrap(ErrUntrustedAttestation)
	}

	// 11. Reject if excludeCredentials contains the new credential ID.
	for _, excluded := range opts.ExcludeCredentials {
		if bytes.Equal(excluded.ID, acd.CredentialID) {
			return nil, ErrVerifyRegistration.Wrap(ErrDisallowedCredential.Wrap(NewError("credential ID is in excludeCredentials")))
		}
	}

	// 12. Reject if the credential ID collides with an existing one.
	existing, err := rp.credentialRepository.LookupAll(acd.CredentialID)
	if err != nil {
		return nil, ErrVerifyRegistration.Wrap(wrapExternalError(ErrInternalStoreError, err, "credential repository LookupAll failed"))
	}
	if len(existing) > 0 {
		return nil, ErrVerifyRegistration.Wrap(ErrDisallowedCredential.Wrap(NewError("credential with this ID already exists")))
	}

	// 13. Validate client extension outputs against what was requested.
	extWarnings, err := validateExtensionOutputs(opts.Extensions, cred.Extensions, rp.policy.AllowUnrequestedExtensions)
	if err != nil {
		return nil, ErrVerifyRegistration.Wrap(err)
	}

	warnings := append(append([]Warning{}, verdict.Warnings...), trust.Warnings...)
	warnings = append(warnings, extWarnings...)

	return &RegistrationResult{
		CredentialID:       acd.CredentialID,
		PublicKeyCOSE:      acd.RawCredentialPublicKey(),
		AttestationTrusted: trust.Trusted,
		AttestationType:    attestationType(obj.Fmt, verdict),
		AttestationAAGUID:  acd.AAGUID,
		Warnings:           warnings,
		SignatureCounter:   authData.SignCount,
	}, nil
}

func algAllowed(params []PublicKeyCredentialParameters, alg COSEAlgorithmIdentifier) bool {
	for _, p := range params {
		if p.Alg == alg {
			return true
		}
	}
	return false
}

// attestationType maps a verified statement format and verdict to the
// tagged attestation-type variant spec.md §3/§9 describes.
func attestationType(fmt AttestationStatementFormat, verdict *attestationVerdict) AttestationType {
	if !fmt.Valid() {
		// Unrecognized format accepted only because attestation
		// conveyance was not requested; treat it like "none".
		return AttestationTypeNone
	}
	switch fmt {
	case FormatNone:
		return AttestationTypeNone
	case FormatPacked:
		if verdict.SelfAttested {
			return AttestationTypeSelf
		}
		return AttestationTypeBasic
	case FormatTPM:
		return AttestationTypeAttCA
	default:
		return AttestationTypeBasic
	}
}
