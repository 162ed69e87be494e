package webauthn

import "bytes"

// AssertionResult carries the outcome of a completed authentication
// ceremony (spec.md §3).
type AssertionResult struct {
	CredentialID          []byte
	UserHandle            []byte
	Username              string
	SignatureCount        uint32
	SignatureCounterValid bool
	Success               bool
	Warnings              []Warning
}

// StartAuthentication begins the authentication ceremony by building a
// PublicKeyCredentialRequestOptions to send to the client (spec.md
// §4.5). username is optional; when empty, allowCredentials is left
// empty and a usernameless (resident key) assertion is expected.
func (rp *RelyingParty) StartAuthentication(username string, opts ...Option) (*PublicKeyCredentialRequestOptions, error) {
	challenge, err := GenerateChallenge()
	if err != nil {
		return nil, ErrGenerateChallenge.Wrap(err)
	}

	requestOptions := &PublicKeyCredentialRequestOptions{
		Challenge: challenge,
		RPID:      rp.identity.ID,
	}

	if username != "" {
		descriptors, err := rp.credentialRepository.GetCredentialIDsForUsername(username)
		if err != nil {
			return nil, wrapExternalError(ErrInternalStoreError, err, "credential repository GetCredentialIDsForUsername failed")
		}
		requestOptions.AllowCredentials = descriptors
	}

	for _, opt := range opts {
		if err := opt(requestOptions); err != nil {
			return nil, err
		}
	}

	return requestOptions, nil
}

// FinishAuthentication completes the authentication ceremony: it
// validates the provided assertion response against opts, verifies the
// signature, and reports the updated signature counter (spec.md §4.5).
//
// The caller is responsible for persisting the returned signature
// counter to rp.credentialRepository; FinishAuthentication never writes
// to it.
func (rp *RelyingParty) FinishAuthentication(opts *PublicKeyCredentialRequestOptions, cred *AssertionPublicKeyCredential) (*AssertionResult, error) {
	// 1. If allowCredentials was populated, credential.id must be in it.
	if len(opts.AllowCredentials) > 0 {
		if !credentialAllowed(opts.AllowCredentials, cred.RawID) {
			return nil, ErrVerifyAuthentication.Wrap(ErrDisallowedCredential)
		}
	}

	// 2. Resolve the credential's user handle.
	userHandle := cred.Response.UserHandle
	if len(userHandle) == 0 {
		existing, err := rp.credentialRepository.LookupAll(cred.RawID)
		if err != nil {
			return nil, ErrVerifyAuthentication.Wrap(wrapExternalError(ErrInternalStoreError, err, "credential repository LookupAll failed"))
		}
		if len(existing) == 0 {
			return nil, ErrVerifyAuthentication.Wrap(ErrCredentialNotRegistered)
		}
		userHandle = existing[0].UserHandle
	}

	// 3. Retrieve the stored credential.
	stored, err := rp.credentialRepository.Lookup(cred.RawID, userHandle)
	if err != nil {
		return nil, ErrVerifyAuthentication.Wrap(wrapExternalError(ErrInternalStoreError, err, "credential repository Lookup failed"))
	}
	if stored == nil {
		return nil, ErrVerifyAuthentication.Wrap(ErrCredentialNotRegistered)
	}
	if !bytes.Equal(stored.UserHandle, userHandle) {
		return nil, ErrVerifyAuthentication.Wrap(ErrUserHandleMismatch)
	}

	// 4. Decode authenticatorData.
	authData := &AuthenticatorData{}
	if err := authData.Decode(cred.Response.AuthenticatorData); err != nil {
		return nil, ErrVerifyAuthentication.Wrap(err)
	}

	// 5. rpIdHash == SHA256(effective RP ID).
	effectiveRPID := EffectiveRPID(opts, cred)
	rpIDHash := sha256Sum([]byte(effectiveRPID))
	if !bytes.Equal(authData.RPIDHash[:], rpIDHash[:]) {
		return nil, ErrVerifyAuthentication.Wrap(ErrRPIDHashMismatch)
	}

	// 6. UP must be set; UV required if policy demands it.
	if !authData.UP {
		return nil, ErrVerifyAuthentication.Wrap(ErrUserPresenceMissing)
	}
	if opts.UserVerification == VerificationRequired && !authData.UV {
		return nil, ErrVerifyAuthentication.Wrap(ErrUserVerificationRequired)
	}

	// 7. clientData.type/challenge/origin/tokenBinding.
	C, err := parseClientData(cred.Response.ClientDataJSON)
	if err != nil {
		return nil, ErrVerifyAuthentication.Wrap(err)
	}
	if C.Type != "webauthn.get" {
		return nil, ErrVerifyAuthentication.Wrap(NewError("C.type is not webauthn.get"))
	}
	if err := verifyChallenge(C, opts.Challenge); err != nil {
		return nil, ErrVerifyAuthentication.Wrap(err)
	}
	if err := verifyOrigin(C, rp.allowedOrigins, rp.policy.AllowOriginSubdomain); err != nil {
		return nil, ErrVerifyAuthentication.Wrap(err)
	}
	if C.TokenBinding != nil && C.TokenBinding.Status == TokenBindingPresent {
		if err := rp.tokenBindingValidator(C.TokenBinding); err != nil {
			return nil, ErrVerifyAuthentication.Wrap(err)
		}
	}

	// 8. clientDataHash = SHA256(clientDataJSON).
	clientDataHash := sha256Sum(cred.Response.ClientDataJSON)

	// 9. verify(publicKeyCose, authenticatorData || clientDataHash, signature).
	signedData := append(append([]byte{}, cred.Response.AuthenticatorData...), clientDataHash[:]...)
	sigWarnings, err := VerifySignature(stored.PublicKeyCOSE, signedData, cred.Response.Signature)
	if err != nil {
		return nil, ErrVerifyAuthentication.Wrap(ErrSignatureInvalid.Wrap(err))
	}

	// 10. Signature counter monotonicity.
	counterValid := authData.SignCount > stored.SignatureCount || (authData.SignCount == 0 && stored.SignatureCount == 0)

	// 11. Validate client extension outputs against what was requested.
	extWarnings, err := validateExtensionOutputs(opts.Extensions, cred.Extensions, rp.policy.AllowUnrequestedExtensions)
	if err != nil {
		return nil, ErrVerifyAuthentication.Wrap(err)
	}

	warnings := append([]Warning{}, sigWarnings...)
	warnings = append(warnings, extWarnings...)
	if authData.SignCount == 0 {
		warnings = append(warnings, NewWarning(WarningCounterAtZero, "authenticator did not increment its signature counter"))
	}

	username, err := rp.credentialRepository.GetUsernameForUserHandle(userHandle)
	if err != nil {
		return nil, ErrVerifyAuthentication.Wrap(wrapExternalError(ErrInternalStoreError, err, "credential repository GetUsernameForUserHandle failed"))
	}

	result := &AssertionResult{
		CredentialID:          cred.RawID,
		UserHandle:            userHandle,
		Username:              username,
		SignatureCount:        authData.SignCount,
		SignatureCounterValid: counterValid,
		Warnings:              warnings,
	}

	if !counterValid && rp.policy.ValidateSignatureCounter {
		result.Success = false
		return result, ErrVerifyAuthentication.Wrap(ErrCounterRollback)
	}

	result.Success = true
	return result, nil
}

func credentialAllowed(allowed []PublicKeyCredentialDescriptor, id []byte) bool {
	for _, c := range allowed {
		if bytes.Equal(id, c.ID) {
			return true
		}
	}
	return false
}
