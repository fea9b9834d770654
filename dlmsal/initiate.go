package dlmsal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
	"k8s.io/utils/ptr"
)

// InitiateRequest is the xDLMS InitiateRequest carried in AARQ user information.
type InitiateRequest struct {
	DedicatedKey             []byte
	ResponseAllowed          bool
	ProposedQualityOfService *byte
	DlmsVersion              byte
	Conformance              uint32
	MaxReceivePduSize        uint16
}

// InitiateResponse is the xDLMS InitiateResponse carried in AARE user information.
type InitiateResponse struct {
	NegotiatedQualityOfService *byte
	DlmsVersion                byte
	Conformance                uint32
	MaxReceivePduSize          uint16
	VAA                        uint16
}

type ConfirmedServiceErrorTag byte

const (
	TagErrInitiateError ConfirmedServiceErrorTag = 1
	TagErrRead          ConfirmedServiceErrorTag = 5
	TagErrWrite         ConfirmedServiceErrorTag = 6
)

type ServiceErrorTag byte

const (
	TagErrApplicationReference ServiceErrorTag = 0
	TagErrHardwareResource     ServiceErrorTag = 1
	TagErrVdeStateError        ServiceErrorTag = 2
	TagErrService              ServiceErrorTag = 3
	TagErrDefinition           ServiceErrorTag = 4
	TagErrAccess               ServiceErrorTag = 5
	TagErrInitiate             ServiceErrorTag = 6
	TagErrLoadDataSet          ServiceErrorTag = 7
	TagErrTask                 ServiceErrorTag = 9
	TagErrOtherError           ServiceErrorTag = 10
)

// values of the initiate service error
const (
	InitiateErrorOther                  = 0
	InitiateErrorDlmsVersionTooLow      = 1
	InitiateErrorIncompatibleConformace = 2
	InitiateErrorPduSizeTooShort        = 3
	InitiateErrorRefusedByVDEHandler    = 4
)

// ConfirmedServiceError is returned by a server refusing the initiate request.
type ConfirmedServiceError struct {
	ConfirmedServiceError ConfirmedServiceErrorTag
	ServiceError          ServiceErrorTag
	Value                 byte
}

func (e *ConfirmedServiceError) Error() string {
	return fmt.Sprintf("confirmed service error %d, service error %d, value %d", e.ConfirmedServiceError, e.ServiceError, e.Value)
}

func putconformance(dst *bytes.Buffer, conformance uint32) {
	dst.Write([]byte{0x5f, 0x1f, 0x04, 0x00})
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], conformance&0xffffff)
	dst.Write(tmp[1:])
}

// some units still send the old 5F 1F 1F 04 form
func getconformance(cur *base.Cursor) (uint32, error) {
	if err := cur.Expect(0x5f, 0x1f); err != nil {
		return 0, fmt.Errorf("conformance block tag: %w", err)
	}
	if b, err := cur.Peek(); err == nil && b == 0x1f {
		_, _ = cur.Byte()
	}
	if err := cur.Expect(0x04); err != nil {
		return 0, fmt.Errorf("conformance block length: %w", err)
	}
	if _, err := cur.Byte(); err != nil { // unused bits
		return 0, err
	}
	c, err := cur.Bytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(c[0])<<16 | uint32(c[1])<<8 | uint32(c[2]), nil
}

func getoptional(cur *base.Cursor) (*byte, error) {
	f, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	switch f {
	case 0:
		return nil, nil
	case 1:
		v, err := cur.Byte()
		if err != nil {
			return nil, err
		}
		return ptr.To(v), nil
	}
	return nil, fmt.Errorf("usage flag %d: %w", f, base.ErrFormat)
}

func putoptional(dst *bytes.Buffer, v *byte) {
	if v == nil {
		dst.WriteByte(0)
		return
	}
	dst.WriteByte(1)
	dst.WriteByte(*v)
}

func checkversion(v byte) error {
	if v != base.DlmsVersion {
		return fmt.Errorf("dlms version %d: %w", v, base.ErrUnsupportedVersion)
	}
	return nil
}

// Encode writes the request starting with its tag.
func (r *InitiateRequest) Encode() []byte {
	var dst bytes.Buffer
	dst.WriteByte(byte(base.TagInitiateRequest))
	if len(r.DedicatedKey) == 0 {
		dst.WriteByte(0)
	} else {
		dst.WriteByte(1)
		dst.WriteByte(byte(len(r.DedicatedKey)))
		dst.Write(r.DedicatedKey)
	}
	if r.ResponseAllowed {
		dst.WriteByte(0) // default true
	} else {
		dst.Write([]byte{0x01, 0x00})
	}
	putoptional(&dst, r.ProposedQualityOfService)
	dst.WriteByte(r.DlmsVersion)
	putconformance(&dst, r.Conformance)
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], r.MaxReceivePduSize)
	dst.Write(tmp[:])
	return dst.Bytes()
}

// DecodeInitiateRequest parses a plain InitiateRequest starting with its tag.
func DecodeInitiateRequest(src []byte) (*InitiateRequest, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagInitiateRequest)); err != nil {
		return nil, fmt.Errorf("initiate request: %w", err)
	}
	r := &InitiateRequest{ResponseAllowed: true}
	f, err := cur.Byte()
	if err != nil {
		return nil, err
	}
	switch f {
	case 0:
	case 1:
		l, err := cur.Byte()
		if err != nil {
			return nil, err
		}
		k, err := cur.Bytes(int(l))
		if err != nil {
			return nil, fmt.Errorf("dedicated key: %w", err)
		}
		r.DedicatedKey = append([]byte(nil), k...)
	default:
		return nil, fmt.Errorf("dedicated key usage flag %d: %w", f, base.ErrFormat)
	}
	ra, err := getoptional(&cur)
	if err != nil {
		return nil, fmt.Errorf("response allowed: %w", err)
	}
	if ra != nil {
		r.ResponseAllowed = *ra != 0
	}
	if r.ProposedQualityOfService, err = getoptional(&cur); err != nil {
		return nil, fmt.Errorf("quality of service: %w", err)
	}
	if r.DlmsVersion, err = cur.Byte(); err != nil {
		return nil, err
	}
	if err = checkversion(r.DlmsVersion); err != nil {
		return nil, err
	}
	if r.Conformance, err = getconformance(&cur); err != nil {
		return nil, err
	}
	if r.MaxReceivePduSize, err = cur.Uint16(); err != nil {
		return nil, fmt.Errorf("max receive pdu size: %w", err)
	}
	return r, nil
}

// Encode writes the response starting with its tag.
func (r *InitiateResponse) Encode() []byte {
	var dst bytes.Buffer
	dst.WriteByte(byte(base.TagInitiateResponse))
	putoptional(&dst, r.NegotiatedQualityOfService)
	dst.WriteByte(r.DlmsVersion)
	putconformance(&dst, r.Conformance)
	var tmp [4]byte
	binary.BigEndian.PutUint16(tmp[:], r.MaxReceivePduSize)
	binary.BigEndian.PutUint16(tmp[2:], r.VAA)
	dst.Write(tmp[:])
	return dst.Bytes()
}

func expectedvaa(useln bool) uint16 {
	if useln {
		return base.VAANameLN
	}
	return base.VAANameSN
}

// DecodeInitiateResponse parses a plain InitiateResponse starting with its tag and checks the VAA
// name against the referencing scheme in use.
func DecodeInitiateResponse(src []byte, useln bool) (*InitiateResponse, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagInitiateResponse)); err != nil {
		return nil, fmt.Errorf("initiate response: %w", err)
	}
	r := &InitiateResponse{}
	var err error
	if r.NegotiatedQualityOfService, err = getoptional(&cur); err != nil {
		return nil, fmt.Errorf("quality of service: %w", err)
	}
	if r.DlmsVersion, err = cur.Byte(); err != nil {
		return nil, err
	}
	if err = checkversion(r.DlmsVersion); err != nil {
		return nil, err
	}
	if r.Conformance, err = getconformance(&cur); err != nil {
		return nil, err
	}
	if r.MaxReceivePduSize, err = cur.Uint16(); err != nil {
		return nil, fmt.Errorf("max receive pdu size: %w", err)
	}
	if r.VAA, err = cur.Uint16(); err != nil {
		return nil, fmt.Errorf("vaa name: %w", err)
	}
	if exp := expectedvaa(useln); r.VAA != exp {
		return nil, fmt.Errorf("vaa name 0x%04x, expected 0x%04x: %w", r.VAA, exp, base.ErrInvalidVaa)
	}
	return r, nil
}

func (e *ConfirmedServiceError) Encode() []byte {
	return []byte{byte(base.TagConfirmedServiceError), byte(e.ConfirmedServiceError), byte(e.ServiceError), e.Value}
}

// DecodeConfirmedServiceError parses the error starting with its tag.
func DecodeConfirmedServiceError(src []byte) (*ConfirmedServiceError, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagConfirmedServiceError)); err != nil {
		return nil, err
	}
	b, err := cur.Bytes(3)
	if err != nil {
		return nil, fmt.Errorf("invalid service error length: %w", err)
	}
	return &ConfirmedServiceError{
		ConfirmedServiceError: ConfirmedServiceErrorTag(b[0]),
		ServiceError:          ServiceErrorTag(b[1]),
		Value:                 b[2],
	}, nil
}
