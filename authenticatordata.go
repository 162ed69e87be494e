package webauthn

import (
	"bytes"
	"encoding/binary"
	"io"
)

// maxCredentialIDLength is the largest credential ID this package will
// accept while decoding attested credential data. Authenticators are not
// required to bound credential ID length, but 1023 bytes comfortably
// covers every deployed format and keeps a malicious length prefix from
// forcing an oversized allocation.
const maxCredentialIDLength = 1023

// AuthenticatorData encodes contextual bindings made by the authenticator,
// both for attestation and for assertion (spec.md §4.1).
type AuthenticatorData struct {
	RPIDHash               [32]byte
	UP                     bool
	UV                     bool
	AT                     bool
	ED                     bool
	SignCount              uint32
	AttestedCredentialData *AttestedCredentialData
	Extensions             map[string]interface{}

	raw []byte
}

// Decode parses the ad hoc AuthenticatorData binary structure from data.
func (ad *AuthenticatorData) Decode(data []byte) error {
	ad.raw = data
	r := bytes.NewReader(data)

	n, err := io.ReadFull(r, ad.RPIDHash[:])
	if err != nil {
		return ErrDecodeAuthenticatorData.Wrap(NewError("error reading relying party ID hash").Wrap(err))
	}
	if n < 32 {
		return ErrDecodeAuthenticatorData.Wrap(NewError("expected 32 bytes of hash data, got %d", n))
	}

	var flags uint8
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return ErrDecodeAuthenticatorData.Wrap(NewError("error reading flag byte").Wrap(err))
	}

	ad.UP = flags&0x01 != 0
	ad.UV = flags&0x04 != 0
	ad.AT = flags&0x40 != 0
	ad.ED = flags&0x80 != 0

	if err := binary.Read(r, binary.BigEndian, &ad.SignCount); err != nil {
		return ErrDecodeAuthenticatorData.Wrap(NewError("error reading sign count").Wrap(err))
	}

	if ad.AT {
		acd := &AttestedCredentialData{}
		if err := acd.decode(r); err != nil {
			return ErrDecodeAuthenticatorData.Wrap(err)
		}
		ad.AttestedCredentialData = acd
	}

	if ad.ED {
		remaining := make([]byte, r.Len())
		if _, err := io.ReadFull(r, remaining); err != nil {
			return ErrDecodeAuthenticatorData.Wrap(NewError("error reading extension bytes").Wrap(err))
		}

		extReader := bytes.NewReader(remaining)
		if err := strictDecMode.NewDecoder(extReader).Decode(&ad.Extensions); err != nil {
			return ErrDecodeAuthenticatorData.Wrap(NewError("error decoding extensions").Wrap(err))
		}
		if extReader.Len() != 0 {
			return ErrDecodeAuthenticatorData.Wrap(NewError("trailing bytes after extension CBOR"))
		}
	} else if r.Len() != 0 {
		return ErrDecodeAuthenticatorData.Wrap(NewError("trailing bytes after authenticator data"))
	}

	return nil
}

// RawBytes returns the exact bytes this AuthenticatorData was decoded
// from, needed to reconstruct the signed data during verification.
func (ad *AuthenticatorData) RawBytes() []byte {
	return ad.raw
}

// AttestedCredentialData is a variable-length structure appended to
// authenticator data when generating an attestation object for a given
// credential (spec.md §4.1).
type AttestedCredentialData struct {
	AAGUID              [16]byte
	CredentialID        []byte
	CredentialPublicKey COSEKey
	rawCredentialPublicKey []byte
}

func (acd *AttestedCredentialData) decode(r *bytes.Reader) error {
	n, err := io.ReadFull(r, acd.AAGUID[:])
	if err != nil {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("error reading AAGUID").Wrap(err))
	}
	if n < 16 {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("expected 16 bytes of AAGUID data, got %d", n))
	}

	var credLen uint16
	if err := binary.Read(r, binary.BigEndian, &credLen); err != nil {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("error reading credential ID length").Wrap(err))
	}
	if credLen > maxCredentialIDLength {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("credential ID length %d exceeds maximum of %d", credLen, maxCredentialIDLength))
	}

	acd.CredentialID = make([]byte, credLen)
	n, err = io.ReadFull(r, acd.CredentialID)
	if err != nil {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("error reading credential ID").Wrap(err))
	}
	if uint16(n) < credLen {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("expected %d bytes of credential ID data, got %d", credLen, n))
	}

	dec := strictDecMode.NewDecoder(r)
	if err := dec.Decode(&acd.CredentialPublicKey); err != nil {
		return ErrDecodeAttestedCredentialData.Wrap(NewError("error unmarshaling COSE key data").Wrap(err))
	}

	// The wire bytes for the COSE key aren't retained by the decoder, so
	// re-encode canonically; this is what registration.go persists anyway.
	if canon, cerr := marshalCOSEKey(&acd.CredentialPublicKey); cerr == nil {
		acd.rawCredentialPublicKey = canon
	}

	return nil
}

// RawCredentialPublicKey returns the canonical CBOR encoding of the
// attested credential's public key, suitable for storage.
func (acd *AttestedCredentialData) RawCredentialPublicKey() []byte {
	return acd.rawCredentialPublicKey
}
