package dlmsal

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cybroslabs/dlmscore-go/base"
)

type GetRequestTag byte

const (
	TagGetRequestNormal   GetRequestTag = 0x1
	TagGetRequestNext     GetRequestTag = 0x2
	TagGetRequestWithList GetRequestTag = 0x3
)

type GetResponseTag byte

const (
	TagGetResponseNormal        GetResponseTag = 0x1
	TagGetResponseWithDataBlock GetResponseTag = 0x2
	TagGetResponseWithList      GetResponseTag = 0x3
)

type SetRequestTag byte

const (
	TagSetRequestNormal                    SetRequestTag = 0x1
	TagSetRequestWithFirstDataBlock        SetRequestTag = 0x2
	TagSetRequestWithDataBlock             SetRequestTag = 0x3
	TagSetRequestWithList                  SetRequestTag = 0x4
	TagSetRequestWithListAndFirstDataBlock SetRequestTag = 0x5
)

type SetResponseTag byte

const (
	TagSetResponseNormal                SetResponseTag = 0x1
	TagSetResponseDataBlock             SetResponseTag = 0x2
	TagSetResponseLastDataBlock         SetResponseTag = 0x3
	TagSetResponseLastDataBlockWithList SetResponseTag = 0x4
	TagSetResponseWithList              SetResponseTag = 0x5
)

type ActionRequestTag byte

const (
	TagActionRequestNormal                 ActionRequestTag = 0x1
	TagActionRequestNextPBlock             ActionRequestTag = 0x2
	TagActionRequestWithList               ActionRequestTag = 0x3
	TagActionRequestWithFirstPBlock        ActionRequestTag = 0x4
	TagActionRequestWithListAndFirstPBlock ActionRequestTag = 0x5
	TagActionRequestWithPBlock             ActionRequestTag = 0x6
)

type ActionResponseTag byte

const (
	TagActionResponseNormal     ActionResponseTag = 0x1
	TagActionResponseWithPBlock ActionResponseTag = 0x2
	TagActionResponseWithList   ActionResponseTag = 0x3
	TagActionResponseNextPBlock ActionResponseTag = 0x4
)

type DlmsObis struct {
	A byte
	B byte
	C byte
	D byte
	E byte
	F byte
}

func (o DlmsObis) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
}

func (o DlmsObis) Bytes() []byte {
	return []byte{o.A, o.B, o.C, o.D, o.E, o.F}
}

var obisrg = regexp.MustCompile(`^(\d+)-(\d+):(\d+)\.(\d+)\.(\d+)\.(\d+)$`)

// NewDlmsObisFromString parses the full A-B:C.D.E.F notation.
func NewDlmsObisFromString(src string) (ob DlmsObis, err error) {
	m := obisrg.FindStringSubmatch(src)
	if m == nil {
		return ob, fmt.Errorf("invalid obis %q", src)
	}
	var v [6]byte
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil || n > 255 {
			return ob, fmt.Errorf("invalid obis %q", src)
		}
		v[i] = byte(n)
	}
	return DlmsObis{A: v[0], B: v[1], C: v[2], D: v[3], E: v[4], F: v[5]}, nil
}

// DlmsRequestItem is one attribute or method target of a GET, SET or ACTION service.
// Values are kept as encoded COSEM data, their interpretation belongs to the object model.
type DlmsRequestItem struct {
	ClassId uint16
	Obis    DlmsObis
	// also method id
	Attribute        int8
	HasAccess        bool
	AccessDescriptor byte
	AccessData       []byte
	// also action parameters
	SetData []byte

	// filled when the response arrives
	Result base.DlmsResultTag
	Value  []byte
}

// ValueDecoder receives the complete data of a finished transaction.
type ValueDecoder interface {
	Decode(targets []*DlmsRequestItem, data []byte) error
}

// RawDecoder stores the data unparsed into the only target.
type RawDecoder struct{}

func (RawDecoder) Decode(targets []*DlmsRequestItem, data []byte) error {
	if len(targets) != 1 {
		return fmt.Errorf("raw decoder expects a single target, got %d", len(targets))
	}
	targets[0].Result = base.TagResultSuccess
	targets[0].Value = append([]byte(nil), data...)
	return nil
}
