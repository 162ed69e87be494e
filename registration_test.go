package webauthn

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

type fakeRepository struct {
	credentialsByUsername map[string][]PublicKeyCredentialDescriptor
	handleByUsername       map[string][]byte
	usernameByHandle        map[string]string
	stored                  map[string]RegisteredCredential
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		credentialsByUsername: map[string][]PublicKeyCredentialDescriptor{},
		handleByUsername:      map[string][]byte{},
		usernameByHandle:      map[string]string{},
		stored:                map[string]RegisteredCredential{},
	}
}

func (f *fakeRepository) GetCredentialIDsForUsername(username string) ([]PublicKeyCredentialDescriptor, error) {
	return f.credentialsByUsername[username], nil
}

func (f *fakeRepository) GetUserHandleForUsername(username string) ([]byte, error) {
	return f.handleByUsername[username], nil
}

func (f *fakeRepository) GetUsernameForUserHandle(userHandle []byte) (string, error) {
	return f.usernameByHandle[string(userHandle)], nil
}

func (f *fakeRepository) Lookup(credentialID, userHandle []byte) (*RegisteredCredential, error) {
	c, ok := f.stored[string(credentialID)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeRepository) LookupAll(credentialID []byte) ([]RegisteredCredential, error) {
	c, ok := f.stored[string(credentialID)]
	if !ok {
		return nil, nil
	}
	return []RegisteredCredential{c}, nil
}

type fakeUser struct {
	name        string
	displayName string
	id          []byte
}

func (u *fakeUser) UserName() string        { return u.name }
func (u *fakeUser) UserDisplayName() string { return u.displayName }
func (u *fakeUser) UserIcon() string        { return "" }
func (u *fakeUser) UserID() []byte          { return u.id }

var testRPIdentity = PublicKeyCredentialRpEntity{Name: "e3b0c442.io", ID: "e3b0c442.io"}
var testOrigins = []string{"https://e3b0c442.io"}

// mockRawAuthData is a "none"-format authenticator data blob: rpIdHash
// for "e3b0c442.io", UP+AT flags set, a zero AAGUID, a 32-byte
// credential ID, and an ES256 EC2 COSE public key.
var mockRawAuthData = []byte{
	0xd8, 0x33, 0x51, 0x40, 0x80, 0xa0, 0xc7, 0x2b,
	0x1e, 0xfa, 0x42, 0xb1, 0x8c, 0x96, 0xb9, 0x27,
	0x3e, 0x9f, 0x19, 0x3f, 0xa9, 0x80, 0xdb, 0x09,
	0xa0, 0x93, 0x33, 0x86, 0x5c, 0x2b, 0x32, 0xf3,
	0x41,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x20,
	0xe3, 0xb0, 0xc4, 0x42, 0x98, 0xfc, 0x1c, 0x14,
	0x9a, 0xfb, 0xf4, 0xc8, 0x99, 0x6f, 0xb9, 0x24,
	0x27, 0xae, 0x41, 0xe4, 0x64, 0x9b, 0x93, 0x4c,
	0xa4, 0x95, 0x99, 0x1b, 0x78, 0x52, 0xb8, 0x55,
	0xa5,
	0x1, 0x2,
	0x3, 0x26,
	0x20, 0x1,
	0x21,
	0x58, 0x20,
	0x36, 0xc4, 0x85, 0xf8, 0x83, 0xda, 0xcf, 0xb3,
	0x63, 0xc8, 0xf6, 0x4d, 0x6a, 0x82, 0xe5, 0x65,
	0x3d, 0x7d, 0x36, 0x64, 0x2b, 0x3a, 0x10, 0x8b,
	0x51, 0x55, 0x5a, 0x8d, 0x33, 0x40, 0x7d, 0x5c,
	0x22,
	0x58, 0x20,
	0x69, 0xc9, 0x52, 0x21, 0x4f, 0xce, 0x43, 0xea,
	0x5f, 0x80, 0x43, 0x10, 0xbb, 0xe6, 0x3e, 0xd,
	0xee, 0xcb, 0xf1, 0xe9, 0xba, 0x69, 0x5d, 0xac,
	0x77, 0x53, 0xb1, 0x31, 0xbc, 0xbf, 0xf3, 0x98,
}

var mockRawAttestationObject = []byte{
	0xa3,
	0x63,
	0x66, 0x6d, 0x74,
	0x64,
	0x6e, 0x6f, 0x6e, 0x65,
	0x67,
	0x61, 0x74, 0x74, 0x53, 0x74, 0x6d, 0x74,
	0xa0,
	0x68,
	0x61, 0x75, 0x74, 0x68, 0x44, 0x61, 0x74, 0x61,
	0x58, 0xa4,
	0xd8, 0x33, 0x51, 0x40, 0x80, 0xa0, 0xc7, 0x2b,
	0x1e, 0xfa, 0x42, 0xb1, 0x8c, 0x96, 0xb9, 0x27,
	0x3e, 0x9f, 0x19, 0x3f, 0xa9, 0x80, 0xdb, 0x09,
	0xa0, 0x93, 0x33, 0x86, 0x5c, 0x2b, 0x32, 0xf3,
	0x41,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x20,
	0xe3, 0xb0, 0xc4, 0x42, 0x98, 0xfc, 0x1c, 0x14,
	0x9a, 0xfb, 0xf4, 0xc8, 0x99, 0x6f, 0xb9, 0x24,
	0x27, 0xae, 0x41, 0xe4, 0x64, 0x9b, 0x93, 0x4c,
	0xa4, 0x95, 0x99, 0x1b, 0x78, 0x52, 0xb8, 0x55,
	0xa5,
	0x1, 0x2,
	0x3, 0x26,
	0x20, 0x1,
	0x21,
	0x58, 0x20,
	0x36, 0xc4, 0x85, 0xf8, 0x83, 0xda, 0xcf, 0xb3,
	0x63, 0xc8, 0xf6, 0x4d, 0x6a, 0x82, 0xe5, 0x65,
	0x3d, 0x7d, 0x36, 0x64, 0x2b, 0x3a, 0x10, 0x8b,
	0x51, 0x55, 0x5a, 0x8d, 0x33, 0x40, 0x7d, 0x5c,
	0x22,
	0x58, 0x20,
	0x69, 0xc9, 0x52, 0x21, 0x4f, 0xce, 0x43, 0xea,
	0x5f, 0x80, 0x43, 0x10, 0xbb, 0xe6, 0x3e, 0xd,
	0xee, 0xcb, 0xf1, 0xe9, 0xba, 0x69, 0x5d, 0xac,
	0x77, 0x53, 0xb1, 0x31, 0xbc, 0xbf, 0xf3, 0x98,
}

var mockClientDataJSON = []byte(`{"type":"webauthn.create","challenge":"47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU","origin":"https://e3b0c442.io"}`)

var mockCredentialID = []byte{
	0xe3, 0xb0, 0xc4, 0x42, 0x98, 0xfc, 0x1c, 0x14,
	0x9a, 0xfb, 0xf4, 0xc8, 0x99, 0x6f, 0xb9, 0x24,
	0x27, 0xae, 0x41, 0xe4, 0x64, 0x9b, 0x93, 0x4c,
	0xa4, 0x95, 0x99, 0x1b, 0x78, 0x52, 0xb8, 0x55,
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

var mockChallenge = []byte{
	0xe3, 0xb0, 0xc4, 0x42, 0x98, 0xfc, 0x1c, 0x14,
	0x9a, 0xfb, 0xf4, 0xc8, 0x99, 0x6f, 0xb9, 0x24,
	0x27, 0xae, 0x41, 0xe4, 0x64, 0x9b, 0x93, 0x4c,
	0xa4, 0x95, 0x99, 0x1b, 0x78, 0x52, 0xb8, 0x55,
}

func newTestRP(t *testing.T, repo CredentialRepository) *RelyingParty {
	t.Helper()
	rp, err := NewRelyingParty(testRPIdentity, testOrigins, repo, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewRelyingParty: %v", err)
	}
	return rp
}

func TestStartRegistration(t *testing.T) {
	rp := newTestRP(t, newFakeRepository())
	user := &fakeUser{name: "jsmith", displayName: "John Smith", id: []byte("user-1")}

	opts, err := rp.StartRegistration(user, Timeout(30000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.Challenge) != ChallengeLength {
		t.Fatalf("challenge length = %d, want %d", len(opts.Challenge), ChallengeLength)
	}
	if opts.Timeout != 30000 {
		t.Fatalf("timeout = %d, want 30000", opts.Timeout)
	}
	if opts.User.Name != "jsmith" {
		t.Fatalf("user name = %q, want jsmith", opts.User.Name)
	}
	if len(opts.PubKeyCredParams) == 0 {
		t.Fatalf("expected default pubKeyCredParams to be populated")
	}
}

func TestFinishRegistration(t *testing.T) {
	goodOpts := &PublicKeyCredentialCreationOptions{
		RP:               testRPIdentity,
		Challenge:        mockChallenge,
		PubKeyCredParams: defaultPubKeyCredParams(),
	}
	goodCred := &AttestationPublicKeyCredential{
		RawID: mockCredentialID,
		Type:  PublicKeyCredentialTypePublicKey,
		Response: AuthenticatorAttestationResponse{
			ClientDataJSON:    mockClientDataJSON,
			AttestationObject: mockRawAttestationObject,
		},
	}

	t.Run("good", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		result, err := rp.FinishRegistration(goodOpts, goodCred)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.AttestationType != AttestationTypeNone {
			t.Fatalf("attestation type = %v, want None", result.AttestationType)
		}
		if !result.AttestationTrusted {
			t.Fatalf("expected default policy to trust a none attestation")
		}

		var k COSEKey
		if err := strictDecMode.Unmarshal(result.PublicKeyCOSE, &k); err != nil {
			t.Fatalf("returned public key did not decode: %v", err)
		}
	})

	t.Run("bad challenge", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		badOpts := *goodOpts
		badOpts.Challenge = []byte("not-the-challenge-that-was-sent-out")
		if _, err := rp.FinishRegistration(&badOpts, goodCred); err == nil {
			t.Fatalf("expected an error for mismatched challenge")
		}
	})

	t.Run("bad origin", func(t *testing.T) {
		repo := newFakeRepository()
		rp, err := NewRelyingParty(testRPIdentity, []string{"https://not-e3b0c442.io"}, repo, WithClock(fixedClock))
		if err != nil {
			t.Fatalf("NewRelyingParty: %v", err)
		}
		if _, err := rp.FinishRegistration(goodOpts, goodCred); err == nil {
			t.Fatalf("expected an error for disallowed origin")
		}
	})

	t.Run("credential already registered", func(t *testing.T) {
		repo := newFakeRepository()
		repo.stored[string(mockCredentialID)] = RegisteredCredential{CredentialID: mockCredentialID}
		rp := newTestRP(t, repo)
		if _, err := rp.FinishRegistration(goodOpts, goodCred); err == nil {
			t.Fatalf("expected an error for a colliding credential ID")
		}
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		narrowOpts := *goodOpts
		narrowOpts.PubKeyCredParams = []PublicKeyCredentialParameters{
			{Type: PublicKeyCredentialTypePublicKey, Alg: AlgorithmRS256},
		}
		if _, err := rp.FinishRegistration(&narrowOpts, goodCred); err == nil {
			t.Fatalf("expected an error for an alg not in pubKeyCredParams")
		}
	})

	t.Run("user verification required but not performed", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		uvOpts := *goodOpts
		uvOpts.AuthenticatorSelection = &AuthenticatorSelectionCriteria{UserVerification: VerificationRequired}
		if _, err := rp.FinishRegistration(&uvOpts, goodCred); err == nil {
			t.Fatalf("expected an error when UV is required but the authenticator did not set it")
		}
	})

	t.Run("malformed attestation object", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		badCred := *goodCred
		badCred.Response.AttestationObject = []byte{0x43, 0x00}
		if _, err := rp.FinishRegistration(goodOpts, &badCred); err == nil {
			t.Fatalf("expected an error for a malformed attestation object")
		}
	})

	t.Run("credential ID in excludeCredentials", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		excludeOpts := *goodOpts
		excludeOpts.ExcludeCredentials = []PublicKeyCredentialDescriptor{
			{Type: PublicKeyCredentialTypePublicKey, ID: mockCredentialID},
		}
		if _, err := rp.FinishRegistration(&excludeOpts, goodCred); err == nil {
			t.Fatalf("expected an error for a credential ID present in excludeCredentials")
		}
	})

	t.Run("unknown attestation format rejected with attestation requested", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		raw, err := ctap2Mode.Marshal(AttestationObject{
			Fmt:      "bogus",
			AttStmt:  cbor.RawMessage{0xa0},
			AuthData: mockRawAuthData,
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bogusCred := *goodCred
		bogusCred.Response.AttestationObject = raw
		directOpts := *goodOpts
		directOpts.Attestation = AttestationPreferenceDirect
		if _, err := rp.FinishRegistration(&directOpts, &bogusCred); err == nil {
			t.Fatalf("expected an error for an unrecognized fmt with attestation conveyance requested")
		}
	})

	t.Run("unknown attestation format accepted without attestation requested", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		raw, err := ctap2Mode.Marshal(AttestationObject{
			Fmt:      "bogus",
			AttStmt:  cbor.RawMessage{0xa0},
			AuthData: mockRawAuthData,
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bogusCred := *goodCred
		bogusCred.Response.AttestationObject = raw
		noneOpts := *goodOpts
		noneOpts.Attestation = AttestationPreferenceNone
		result, err := rp.FinishRegistration(&noneOpts, &bogusCred)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.AttestationType != AttestationTypeNone {
			t.Fatalf("attestation type = %v, want None", result.AttestationType)
		}
	})

	t.Run("unrequested extension output rejected by default", func(t *testing.T) {
		rp := newTestRP(t, newFakeRepository())
		extCred := *goodCred
		extCred.Extensions = AuthenticationExtensionsClientOutputs{"appid": true}
		if _, err := rp.FinishRegistration(goodOpts, &extCred); err == nil {
			t.Fatalf("expected an error for an unrequested extension output")
		}
	})
}

func TestDecodeAttestationObject(t *testing.T) {
	obj, authData, err := decodeAttestationObject(mockRawAttestationObject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Fmt != FormatNone {
		t.Fatalf("fmt = %v, want none", obj.Fmt)
	}
	if !authData.UP || !authData.AT {
		t.Fatalf("expected UP and AT flags to be set")
	}
	if authData.AttestedCredentialData == nil {
		t.Fatalf("expected attested credential data to be present")
	}

	if _, _, err := decodeAttestationObject([]byte{0x43, 0x00}); err == nil {
		t.Fatalf("expected an error decoding a truncated attestation object")
	}
}

func TestVerifyAttestationStatementNone(t *testing.T) {
	obj, authData, err := decodeAttestationObject(mockRawAttestationObject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clientDataHash := sha256Sum(mockClientDataJSON)
	verdict, err := verifyAttestationStatement(obj, authData, clientDataHash[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.SelfAttested {
		t.Fatalf("none attestation must not be self attested")
	}
}

func TestUnknownAttestationFormat(t *testing.T) {
	obj := &AttestationObject{Fmt: "bogus", AttStmt: cbor.RawMessage{0xa0}}
	if obj.Fmt.Valid() {
		t.Fatalf("expected bogus format to be invalid")
	}
}
