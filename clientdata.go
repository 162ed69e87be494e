package webauthn

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// CollectedClientData represents the contextual bindings of both the
// WebAuthn Relying Party and the client (spec.md §3).
type CollectedClientData struct {
	Type         string        `json:"type"`
	Challenge    string        `json:"challenge"`
	Origin       string        `json:"origin"`
	CrossOrigin  bool          `json:"crossOrigin,omitempty"`
	TokenBinding *TokenBinding `json:"tokenBinding,omitempty"`
}

// TokenBinding contains information about the state of the Token Binding
// protocol used when communicating with the Relying Party. The protocol
// has since been deprecated; spec.md §9 keeps verification as a hook
// that defaults to accepting any binding.
type TokenBinding struct {
	Status TokenBindingStatus `json:"status"`
	ID     string              `json:"id,omitempty"`
}

// TokenBindingStatus represents a token binding status value.
type TokenBindingStatus string

// enum values for TokenBindingStatus
const (
	TokenBindingSupported TokenBindingStatus = "supported"
	TokenBindingPresent   TokenBindingStatus = "present"
)

// TokenBindingValidator validates C.tokenBinding against the state of the
// connection the ceremony was conducted over. The default,
// AcceptAnyTokenBinding, always succeeds.
type TokenBindingValidator func(*TokenBinding) error

// AcceptAnyTokenBinding is the default TokenBindingValidator: token
// binding has been deprecated, so by default any (or no) binding is
// accepted (spec.md §9).
func AcceptAnyTokenBinding(*TokenBinding) error { return nil }

// parseClientData parses a client data JSON object into
// CollectedClientData.
func parseClientData(jsonText []byte) (*CollectedClientData, error) {
	c := CollectedClientData{}
	if err := json.Unmarshal(jsonText, &c); err != nil {
		return nil, ErrUnmarshalClientData.Wrap(err)
	}
	return &c, nil
}

// verifyChallenge compares the challenge embedded in client data against
// the challenge that was sent to the authenticator.
func verifyChallenge(c *CollectedClientData, challenge []byte) error {
	rawChallenge, err := base64.RawURLEncoding.DecodeString(c.Challenge)
	if err != nil {
		return ErrChallengeMismatch.Wrap(err)
	}
	if subtle.ConstantTimeCompare(rawChallenge, challenge) != 1 {
		return ErrChallengeMismatch
	}
	return nil
}

// verifyOrigin checks that the client data's origin is one of the
// relying party's allowed origins (spec.md §4.4 step 5 / §4.5 step 7).
// When allowSubdomain is set (Policy.AllowOriginSubdomain), an origin
// whose host is a strict subdomain of an allowed origin's host is also
// accepted.
func verifyOrigin(c *CollectedClientData, allowedOrigins []string, allowSubdomain bool) error {
	for _, o := range allowedOrigins {
		if c.Origin == o {
			return nil
		}
		if allowSubdomain && originIsSubdomain(c.Origin, o) {
			return nil
		}
	}
	return ErrOriginMismatch
}

// originIsSubdomain reports whether origin shares allowed's scheme and
// its host is a strict subdomain of allowed's host.
func originIsSubdomain(origin, allowed string) bool {
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowedURL, err := url.Parse(allowed)
	if err != nil {
		return false
	}
	if originURL.Scheme != allowedURL.Scheme {
		return false
	}
	host := originURL.Hostname()
	allowedHost := allowedURL.Hostname()
	if host == "" || allowedHost == "" || host == allowedHost {
		return false
	}
	return strings.HasSuffix(host, "."+allowedHost)
}
