package webauthn

import "crypto/rand"

// ChallengeLength represents the size in bytes of a generated challenge.
// Must be at least 16 per spec.md §3.
var ChallengeLength = 32

// GenerateChallenge generates a fresh cryptographically random challenge
// used in both the registration and authentication ceremonies.
func GenerateChallenge() ([]byte, error) {
	challenge := make([]byte, ChallengeLength)
	n, err := rand.Read(challenge)
	if err != nil {
		return nil, ErrGenerateChallenge.Wrap(err)
	}
	if n < ChallengeLength {
		return nil, ErrGenerateChallenge.Wrap(NewError("read %d random bytes, needed %d", n, ChallengeLength))
	}
	return challenge, nil
}
