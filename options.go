package webauthn

// PublicKeyCredentialRpEntity supplies the Relying Party attributes used
// when creating a new credential (spec.md §3 RelyingPartyIdentity).
type PublicKeyCredentialRpEntity struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	ID   string `json:"id"`
}

// PublicKeyCredentialUserEntity supplies the account attributes used when
// creating a new credential (spec.md §3 UserIdentity).
type PublicKeyCredentialUserEntity struct {
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	ID          []byte `json:"id"`
	DisplayName string `json:"displayName"`
}

// PublicKeyCredentialType defines the valid credential types.
type PublicKeyCredentialType string

// enum values for PublicKeyCredentialType
const (
	PublicKeyCredentialTypePublicKey PublicKeyCredentialType = "public-key"
)

// PublicKeyCredentialParameters supplies additional parameters when
// creating a new credential.
type PublicKeyCredentialParameters struct {
	Type PublicKeyCredentialType `json:"type"`
	Alg  COSEAlgorithmIdentifier `json:"alg"`
}

// AuthenticatorTransport hints at how a client might communicate with a
// particular authenticator to obtain an assertion for a given credential.
type AuthenticatorTransport string

// enum values for AuthenticatorTransport
const (
	TransportUSB      AuthenticatorTransport = "usb"
	TransportNFC      AuthenticatorTransport = "nfc"
	TransportBLE      AuthenticatorTransport = "ble"
	TransportInternal AuthenticatorTransport = "internal"
)

// PublicKeyCredentialDescriptor references a public key credential as an
// input parameter to create() or get().
type PublicKeyCredentialDescriptor struct {
	Type       PublicKeyCredentialType  `json:"type"`
	ID         []byte                   `json:"id"`
	Transports []AuthenticatorTransport `json:"transports,omitempty"`
}

// AuthenticatorAttachment describes an authenticator's attachment
// modality.
type AuthenticatorAttachment string

// enum values for AuthenticatorAttachment
const (
	AttachmentPlatform      AuthenticatorAttachment = "platform"
	AttachmentCrossPlatform AuthenticatorAttachment = "cross-platform"
)

// UserVerificationRequirement describes a Relying Party's user
// verification requirements.
type UserVerificationRequirement string

// enum values for UserVerificationRequirement
const (
	VerificationRequired    UserVerificationRequirement = "required"
	VerificationPreferred   UserVerificationRequirement = "preferred"
	VerificationDiscouraged UserVerificationRequirement = "discouraged"
)

// AuthenticatorSelectionCriteria lets a Relying Party specify its
// requirements regarding authenticator attributes.
type AuthenticatorSelectionCriteria struct {
	AuthenticatorAttachment AuthenticatorAttachment     `json:"authenticatorAttachment,omitempty"`
	RequireResidentKey      bool                        `json:"requireResidentKey"`
	UserVerification        UserVerificationRequirement `json:"userVerification,omitempty"`
}

// AttestationConveyancePreference lets a Relying Party specify its
// preference regarding attestation conveyance during credential
// generation.
type AttestationConveyancePreference string

// enum values for AttestationConveyancePreference
const (
	AttestationPreferenceNone     AttestationConveyancePreference = "none"
	AttestationPreferenceIndirect AttestationConveyancePreference = "indirect"
	AttestationPreferenceDirect   AttestationConveyancePreference = "direct"
)

// PublicKeyCredentialCreationOptions holds the options for credential
// creation (spec.md §4.4).
type PublicKeyCredentialCreationOptions struct {
	RP                     PublicKeyCredentialRpEntity           `json:"rp"`
	User                   PublicKeyCredentialUserEntity         `json:"user"`
	Challenge              []byte                                `json:"challenge"`
	PubKeyCredParams       []PublicKeyCredentialParameters       `json:"pubKeyCredParams"`
	Timeout                uint                                  `json:"timeout,omitempty"`
	ExcludeCredentials     []PublicKeyCredentialDescriptor       `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection *AuthenticatorSelectionCriteria       `json:"authenticatorSelection,omitempty"`
	Attestation            AttestationConveyancePreference       `json:"attestation,omitempty"`
	Extensions             AuthenticationExtensionsClientInputs  `json:"extensions,omitempty"`
}

// PublicKeyCredentialRequestOptions holds the options for an
// authentication ceremony (spec.md §4.5).
type PublicKeyCredentialRequestOptions struct {
	Challenge        []byte                                `json:"challenge"`
	Timeout          uint                                  `json:"timeout,omitempty"`
	RPID             string                                `json:"rpId,omitempty"`
	AllowCredentials []PublicKeyCredentialDescriptor        `json:"allowCredentials,omitempty"`
	UserVerification UserVerificationRequirement            `json:"userVerification,omitempty"`
	Extensions       AuthenticationExtensionsClientInputs   `json:"extensions,omitempty"`
}

// Option adjusts either a PublicKeyCredentialCreationOptions or a
// PublicKeyCredentialRequestOptions. A handful of shared option
// constructors (Timeout, WithExtensions) serve both ceremonies; an
// option that applies to only one of them returns an ErrOption error
// when given the other options type, and StartRegistration and
// StartAuthentication return that error.
type Option func(interface{}) error

// Timeout returns an Option that sets a custom timeout on either
// options object.
func Timeout(timeout uint) Option {
	return func(o interface{}) error {
		switch opts := o.(type) {
		case *PublicKeyCredentialCreationOptions:
			opts.Timeout = timeout
		case *PublicKeyCredentialRequestOptions:
			opts.Timeout = timeout
		default:
			return ErrOption.Wrap(NewError("Timeout option does not apply to %T", o))
		}
		return nil
	}
}

// ExcludeCredentials returns an Option that sets the list of credentials
// to exclude on a creation options object (spec.md §4.4 step 11).
func ExcludeCredentials(creds []PublicKeyCredentialDescriptor) Option {
	return func(o interface{}) error {
		opts, ok := o.(*PublicKeyCredentialCreationOptions)
		if !ok {
			return ErrOption.Wrap(NewError("ExcludeCredentials option only applies to creation options"))
		}
		opts.ExcludeCredentials = creds
		return nil
	}
}

// AllowCredentials returns an Option that sets the list of credentials
// to allow on a request options object (spec.md §4.5).
func AllowCredentials(creds []PublicKeyCredentialDescriptor) Option {
	return func(o interface{}) error {
		opts, ok := o.(*PublicKeyCredentialRequestOptions)
		if !ok {
			return ErrOption.Wrap(NewError("AllowCredentials option only applies to request options"))
		}
		opts.AllowCredentials = creds
		return nil
	}
}

// WithAuthenticatorSelection returns an Option that sets the
// authenticator selection criteria on a creation options object.
func WithAuthenticatorSelection(criteria AuthenticatorSelectionCriteria) Option {
	return func(o interface{}) error {
		opts, ok := o.(*PublicKeyCredentialCreationOptions)
		if !ok {
			return ErrOption.Wrap(NewError("WithAuthenticatorSelection option only applies to creation options"))
		}
		opts.AuthenticatorSelection = &criteria
		return nil
	}
}

// WithAttestation returns an Option that sets the attestation
// conveyance preference on a creation options object.
func WithAttestation(pref AttestationConveyancePreference) Option {
	return func(o interface{}) error {
		opts, ok := o.(*PublicKeyCredentialCreationOptions)
		if !ok {
			return ErrOption.Wrap(NewError("WithAttestation option only applies to creation options"))
		}
		opts.Attestation = pref
		return nil
	}
}

// WithUserVerification returns an Option that sets the user
// verification requirement on a request options object.
func WithUserVerification(req UserVerificationRequirement) Option {
	return func(o interface{}) error {
		opts, ok := o.(*PublicKeyCredentialRequestOptions)
		if !ok {
			return ErrOption.Wrap(NewError("WithUserVerification option only applies to request options"))
		}
		opts.UserVerification = req
		return nil
	}
}

// WithExtensions returns an Option that attaches client extension
// inputs to either options object.
func WithExtensions(exts AuthenticationExtensionsClientInputs) Option {
	return func(o interface{}) error {
		switch opts := o.(type) {
		case *PublicKeyCredentialCreationOptions:
			opts.Extensions = exts
		case *PublicKeyCredentialRequestOptions:
			opts.Extensions = exts
		default:
			return ErrOption.Wrap(NewError("WithExtensions option does not apply to %T", o))
		}
		return nil
	}
}

// AuthenticatorAttestationResponse is the authenticator's response to a
// credential creation request.
type AuthenticatorAttestationResponse struct {
	ClientDataJSON    []byte `json:"clientDataJSON"`
	AttestationObject []byte `json:"attestationObject"`
}

// AttestationPublicKeyCredential is the credential returned by the
// client after a successful create() call.
type AttestationPublicKeyCredential struct {
	ID         string                                `json:"id"`
	RawID      []byte                                `json:"rawId"`
	Type       PublicKeyCredentialType               `json:"type"`
	Response   AuthenticatorAttestationResponse      `json:"response"`
	Extensions AuthenticationExtensionsClientOutputs `json:"clientExtensionResults,omitempty"`
}

// AuthenticatorAssertionResponse is the authenticator's response to a
// get() assertion request.
type AuthenticatorAssertionResponse struct {
	ClientDataJSON    []byte `json:"clientDataJSON"`
	AuthenticatorData []byte `json:"authenticatorData"`
	Signature         []byte `json:"signature"`
	UserHandle        []byte `json:"userHandle,omitempty"`
}

// AssertionPublicKeyCredential is the credential returned by the client
// after a successful get() call.
type AssertionPublicKeyCredential struct {
	ID         string                         `json:"id"`
	RawID      []byte                         `json:"rawId"`
	Type       PublicKeyCredentialType        `json:"type"`
	Response   AuthenticatorAssertionResponse `json:"response"`
	Extensions AuthenticationExtensionsClientOutputs `json:"clientExtensionResults,omitempty"`
}
