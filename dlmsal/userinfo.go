package dlmsal

import (
	"bytes"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
)

// EncodeUserInformation writes BE len 04 len <initiate>. With a cipher the initiate is sealed into
// the Glo initiate envelope of the matching direction using authenticated encryption.
func EncodeUserInformation(dst *bytes.Buffer, initiate []byte, cipher *ciphering.Context) error {
	if len(initiate) == 0 {
		return fmt.Errorf("empty initiate: %w", base.ErrFormat)
	}
	payload := initiate
	if cipher != nil {
		glo, err := ciphering.GloCommand(base.CosemTag(initiate[0]))
		if err != nil {
			return err
		}
		payload, err = cipher.Seal(glo, base.SecurityAuthenticationEncryption, initiate, ciphering.ShapeFullPacket)
		if err != nil {
			return fmt.Errorf("unable to cipher initiate: %w", err)
		}
	}
	base.EncodeTag2(dst, tagUserInformation, 0x04, payload)
	return nil
}

// CipheredInitiateError is a Glo initiate that could not be deciphered. A server answers it with
// an authentication failure instead of dropping the request.
type CipheredInitiateError struct {
	Err error
}

func (e *CipheredInitiateError) Error() string {
	return "ciphered initiate: " + e.Err.Error()
}

func (e *CipheredInitiateError) Unwrap() error {
	return e.Err
}

// DecodeUserInformation reads the BE field body from the length on and returns the plain initiate.
// A Glo initiate is deciphered with cipher, ciphered reports that it was.
func DecodeUserInformation(cur *base.Cursor, cipher *ciphering.Context) (initiate []byte, ciphered bool, err error) {
	sub, err := cur.Sub()
	if err != nil {
		return nil, false, fmt.Errorf("user information: %w", err)
	}
	if err = sub.Expect(0x04); err != nil {
		return nil, false, fmt.Errorf("user information: %w", err)
	}
	l, err := sub.Length()
	if err != nil {
		return nil, false, fmt.Errorf("user information: %w", err)
	}
	payload, _ := sub.Bytes(l)
	if len(payload) == 0 {
		return nil, false, fmt.Errorf("empty user information: %w", base.ErrFormat)
	}

	switch base.CosemTag(payload[0]) {
	case base.TagGloInitiateRequest, base.TagGloInitiateResponse, base.TagGloConfirmedServiceError:
		if cipher == nil {
			return nil, true, &CipheredInitiateError{Err: fmt.Errorf("no ciphering context: %w", base.ErrConfiguration)}
		}
		// confirmed service error is outside the Decrypt command set, open the envelope directly
		pc := base.NewCursor(payload[1:])
		content, err := pc.Sub()
		if err != nil {
			return nil, true, &CipheredInitiateError{Err: err}
		}
		d, err := cipher.Open(content.Rest())
		if err != nil {
			return nil, true, &CipheredInitiateError{Err: fmt.Errorf("unable to decipher: %w", err)}
		}
		return d.Apdu, true, nil
	case base.TagInitiateRequest, base.TagInitiateResponse, base.TagConfirmedServiceError:
		return append([]byte(nil), payload...), false, nil
	}
	return nil, false, fmt.Errorf("unexpected user information tag 0x%02x: %w", payload[0], base.ErrFormat)
}
