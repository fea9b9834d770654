package dlmsal

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/cybroslabs/dlmscore-go/base"
	"github.com/cybroslabs/dlmscore-go/ciphering"
)

// AARQ is the association request sent by a client.
type AARQ struct {
	ApplicationContext  base.ApplicationContext
	CallingTitle        []byte // client system title, only with a ciphered context
	UserId              *byte  // calling AE invocation identifier
	Mechanism           base.Authentication
	AuthenticationValue []byte // password for low level security, CtoS challenge otherwise
	Initiate            *InitiateRequest
	InitiateCiphered    bool // set by DecodeAARQ
}

// AARE is the association response returned by a server.
type AARE struct {
	ApplicationContext  base.ApplicationContext
	Result              base.AssociationResult
	Diagnostic          base.SourceDiagnostic
	RespondingTitle     []byte // server system title
	Mechanism           base.Authentication
	AuthenticationValue []byte // StoC challenge
	Initiate            *InitiateResponse
	ServiceError        *ConfirmedServiceError
	InitiateCiphered    bool // set by DecodeAARE
}

// AssociationError is returned when the server does not accept the association.
type AssociationError struct {
	Result       base.AssociationResult
	Diagnostic   base.SourceDiagnostic
	ServiceError *ConfirmedServiceError
}

func (e *AssociationError) Error() string {
	if e.ServiceError != nil {
		return fmt.Sprintf("association %v, diagnostic %d: %v", e.Result, e.Diagnostic, e.ServiceError)
	}
	return fmt.Sprintf("association %v, diagnostic %d", e.Result, e.Diagnostic)
}

func (e *AssociationError) Unwrap() error {
	if e.ServiceError != nil {
		return e.ServiceError
	}
	return nil
}

// EncodeAARQ encodes the request. The initiate is ciphered when the context is ciphered and cipher is
// given. The second result is a copy with the authentication value cleared, usable for logging.
func EncodeAARQ(req *AARQ, cipher *ciphering.Context) (out []byte, outnosec []byte, err error) {
	if req.Initiate == nil {
		return nil, nil, fmt.Errorf("missing initiate request: %w", base.ErrConfiguration)
	}
	var content bytes.Buffer
	ciphered := req.ApplicationContext.IsCiphered()
	if err = EncodeApplicationContextName(&content, req.ApplicationContext.IsLN(), ciphered, true, req.CallingTitle); err != nil {
		return
	}
	if req.UserId != nil {
		content.Write([]byte{tagCallingAEInvoc, 0x03, 0x02, 0x01, *req.UserId})
	}
	st, en := 0, 0
	if req.Mechanism != base.AuthenticationNone {
		base.EncodeTag(&content, tagAcseRequirement, []byte{0x07, 0x80})
		encodemechname(&content, tagMechanismName, req.Mechanism)
		st = content.Len()
		base.EncodeTag2(&content, tagCallingAuth, 0x80, req.AuthenticationValue)
		en = content.Len()
	}
	var uc *ciphering.Context
	if ciphered {
		if cipher == nil {
			return nil, nil, fmt.Errorf("ciphered context without ciphering: %w", base.ErrConfiguration)
		}
		uc = cipher
	}
	if err = EncodeUserInformation(&content, req.Initiate.Encode(), uc); err != nil {
		return
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(base.TagAARQ))
	base.EncodeLength(&buf, uint(content.Len()))
	hl := buf.Len()
	buf.Write(content.Bytes())
	out = buf.Bytes()
	outnosec = slices.Clone(out)
	// keep the tag and lengths, clear only the value
	if en > st {
		clear(outnosec[hl+en-len(req.AuthenticationValue) : hl+en])
	}
	return
}

// elements walks the fields of an AARQ or AARE body, f receives the cursor positioned at the field length.
func elements(src []byte, apdu base.CosemTag, f func(tag byte, cur *base.Cursor) error) error {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(apdu)); err != nil {
		return err
	}
	body, err := cur.Sub()
	if err != nil {
		return err
	}
	for body.Len() > 0 {
		tag, _ := body.Byte()
		pos := body.Pos()
		if err = f(tag, &body); err != nil {
			return err
		}
		if body.Pos() == pos { // field not consumed by f, skip it
			if _, err = body.Sub(); err != nil {
				return fmt.Errorf("field 0x%02x: %w", tag, err)
			}
		}
	}
	return nil
}

func decodesmallint(cur *base.Cursor) (byte, error) {
	sub, err := cur.Sub()
	if err != nil {
		return 0, err
	}
	if err = sub.Expect(0x02, 0x01); err != nil {
		return 0, err
	}
	return sub.Byte()
}

// DecodeAARQ decodes a request on the server side. The calling title is installed as the peer title
// of cipher before a ciphered initiate is opened.
func DecodeAARQ(src []byte, cipher *ciphering.Context) (*AARQ, error) {
	ret := &AARQ{}
	var initiate []byte
	err := elements(src, base.TagAARQ, func(tag byte, cur *base.Cursor) (err error) {
		switch tag {
		case tagAppContextName:
			ret.ApplicationContext, err = DecodeApplicationContextName(cur)
		case tagCallingAPTitle:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			if ret.CallingTitle, err = decodetitle(&sub); err != nil {
				return err
			}
			if cipher != nil {
				return cipher.SetPeerTitle(ret.CallingTitle)
			}
		case tagCallingAEInvoc:
			id, err := decodesmallint(cur)
			if err != nil {
				return fmt.Errorf("calling ae invocation id: %w", err)
			}
			ret.UserId = &id
		case tagMechanismName:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			ret.Mechanism, err = decodemechname(&sub)
			return err
		case tagCallingAuth:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			ret.AuthenticationValue, err = decodeauthvalue(&sub)
			return err
		case tagUserInformation:
			initiate, ret.InitiateCiphered, err = DecodeUserInformation(cur, cipher)
		}
		return
	})
	if err != nil {
		return nil, fmt.Errorf("aarq: %w", err)
	}
	if ret.ApplicationContext == 0 {
		return nil, fmt.Errorf("aarq without application context name: %w", base.ErrFormat)
	}
	if initiate == nil {
		return nil, fmt.Errorf("aarq without user information: %w", base.ErrFormat)
	}
	if ret.Initiate, err = DecodeInitiateRequest(initiate); err != nil {
		return nil, err
	}
	return ret, nil
}

// EncodeAARE encodes the response on the server side. When the association is accepted the
// initiate response is sent, otherwise the service error if present.
func EncodeAARE(resp *AARE, cipher *ciphering.Context) ([]byte, error) {
	var content bytes.Buffer
	ciphered := resp.ApplicationContext.IsCiphered()
	if err := EncodeApplicationContextName(&content, resp.ApplicationContext.IsLN(), ciphered, false, nil); err != nil {
		return nil, err
	}
	content.Write([]byte{tagResult, 0x03, 0x02, 0x01, byte(resp.Result)})
	content.Write([]byte{tagDiagnostic, 0x05, 0xa1, 0x03, 0x02, 0x01, byte(resp.Diagnostic)})
	if resp.RespondingTitle != nil {
		if len(resp.RespondingTitle) != base.SystemTitleLength {
			return nil, fmt.Errorf("responding ap title has to be %d bytes: %w", base.SystemTitleLength, base.ErrConfiguration)
		}
		base.EncodeTag2(&content, tagRespondingTitle, 0x04, resp.RespondingTitle)
	}
	if resp.Mechanism != base.AuthenticationNone {
		base.EncodeTag(&content, tagRespAcseReq, []byte{0x07, 0x80})
		encodemechname(&content, tagRespMechanism, resp.Mechanism)
		base.EncodeTag2(&content, tagRespAuth, 0x80, resp.AuthenticationValue)
	}
	var uc *ciphering.Context
	if ciphered && cipher != nil {
		uc = cipher
	}
	switch {
	case resp.Result == base.AssociationResultAccepted && resp.Initiate != nil:
		if err := EncodeUserInformation(&content, resp.Initiate.Encode(), uc); err != nil {
			return nil, err
		}
	case resp.ServiceError != nil:
		if err := EncodeUserInformation(&content, resp.ServiceError.Encode(), uc); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	base.EncodeTag(&buf, byte(base.TagAARE), content.Bytes())
	return buf.Bytes(), nil
}

// DecodeAARE decodes a response on the client side. The responding title is installed as the peer
// title of cipher before a ciphered initiate is opened. The VAA name is checked against the returned
// application context.
func DecodeAARE(src []byte, cipher *ciphering.Context) (*AARE, error) {
	ret := &AARE{}
	var initiate []byte
	err := elements(src, base.TagAARE, func(tag byte, cur *base.Cursor) (err error) {
		switch tag {
		case tagAppContextName:
			ret.ApplicationContext, err = DecodeApplicationContextName(cur)
		case tagResult:
			r, err := decodesmallint(cur)
			if err != nil {
				return fmt.Errorf("association result: %w", err)
			}
			ret.Result = base.AssociationResult(r)
		case tagDiagnostic:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			t, err := sub.Byte()
			if err != nil {
				return err
			}
			if t != 0xa1 && t != 0xa2 { // service user or service provider
				return fmt.Errorf("source diagnostic choice 0x%02x: %w", t, base.ErrFormat)
			}
			d, err := decodesmallint(&sub)
			if err != nil {
				return fmt.Errorf("source diagnostic: %w", err)
			}
			ret.Diagnostic = base.SourceDiagnostic(d)
		case tagRespondingTitle:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			if ret.RespondingTitle, err = decodetitle(&sub); err != nil {
				return err
			}
			if cipher != nil {
				return cipher.SetPeerTitle(ret.RespondingTitle)
			}
		case tagRespMechanism:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			ret.Mechanism, err = decodemechname(&sub)
			return err
		case tagRespAuth:
			sub, err := cur.Sub()
			if err != nil {
				return err
			}
			ret.AuthenticationValue, err = decodeauthvalue(&sub)
			return err
		case tagUserInformation:
			initiate, ret.InitiateCiphered, err = DecodeUserInformation(cur, cipher)
		}
		return
	})
	if err != nil {
		return nil, fmt.Errorf("aare: %w", err)
	}
	if ret.ApplicationContext == 0 {
		return nil, fmt.Errorf("aare without application context name: %w", base.ErrFormat)
	}
	if len(initiate) == 0 {
		return ret, nil
	}
	switch base.CosemTag(initiate[0]) {
	case base.TagInitiateResponse:
		ret.Initiate, err = DecodeInitiateResponse(initiate, ret.ApplicationContext.IsLN())
	case base.TagConfirmedServiceError:
		ret.ServiceError, err = DecodeConfirmedServiceError(initiate)
	default:
		err = fmt.Errorf("unexpected initiate tag 0x%02x in aare: %w", initiate[0], base.ErrFormat)
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}
