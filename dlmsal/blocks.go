package dlmsal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

// GetDataResult is one result of a GET, either data or an access error.
type GetDataResult struct {
	Result base.DlmsResultTag
	Data   []byte // raw data element, nil on error
}

// DataBlock is the block part of GET, SET and ACTION block transfers.
type DataBlock struct {
	Last        bool
	BlockNumber uint32
	Result      base.DlmsResultTag // GET only, raw data is absent unless success
	Raw         []byte
}

type GetResponse struct {
	Type     GetResponseTag
	InvokeId byte
	Single   GetDataResult   // normal
	List     []GetDataResult // with list
	Block    DataBlock       // with datablock
}

type SetResponse struct {
	Type        SetResponseTag
	InvokeId    byte
	Result      base.DlmsResultTag
	Results     []base.DlmsResultTag // with list variants
	BlockNumber uint32
}

type ActionResponse struct {
	Type     ActionResponseTag
	InvokeId byte
	Result   base.DlmsResultTag
	Return   *GetDataResult // optional return parameters
	Block    DataBlock      // with pblock
}

type ActionRequest struct {
	Type     ActionRequestTag
	InvokeId byte
	Item     DlmsRequestItem // method in Attribute, parameters in SetData
	Block    DataBlock       // next pblock request carries the block number only
}

type SetRequest struct {
	Type     SetRequestTag
	InvokeId byte
	Item     DlmsRequestItem // attribute and access, SetData for the normal request
	Block    DataBlock
}

func encodecosemattr(dst *bytes.Buffer, item *DlmsRequestItem) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], item.ClassId)
	dst.Write(tmp[:])
	dst.Write(item.Obis.Bytes())
	dst.WriteByte(byte(item.Attribute))
}

func encodeaccess(dst *bytes.Buffer, item *DlmsRequestItem) {
	if !item.HasAccess {
		dst.WriteByte(0)
		return
	}
	dst.WriteByte(1)
	dst.WriteByte(item.AccessDescriptor)
	dst.Write(item.AccessData)
}

func decodecosemattr(cur *base.Cursor, item *DlmsRequestItem) error {
	var err error
	if item.ClassId, err = cur.Uint16(); err != nil {
		return err
	}
	o, err := cur.Bytes(6)
	if err != nil {
		return err
	}
	item.Obis = DlmsObis{A: o[0], B: o[1], C: o[2], D: o[3], E: o[4], F: o[5]}
	a, err := cur.Byte()
	if err != nil {
		return err
	}
	item.Attribute = int8(a)
	return nil
}

func decodeaccess(cur *base.Cursor, item *DlmsRequestItem) error {
	f, err := cur.Byte()
	if err != nil {
		return err
	}
	if f == 0 {
		return nil
	}
	item.HasAccess = true
	if item.AccessDescriptor, err = cur.Byte(); err != nil {
		return err
	}
	item.AccessData, err = SkipData(cur)
	return err
}

func putblockheader(dst *bytes.Buffer, last bool, blockno uint32) {
	if last {
		dst.WriteByte(1)
	} else {
		dst.WriteByte(0)
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], blockno)
	dst.Write(tmp[:])
}

func putraw(dst *bytes.Buffer, raw []byte) {
	base.EncodeLength(dst, uint(len(raw)))
	dst.Write(raw)
}

func getblockheader(cur *base.Cursor, b *DataBlock) error {
	l, err := cur.Byte()
	if err != nil {
		return err
	}
	b.Last = l != 0
	b.BlockNumber, err = cur.Uint32()
	return err
}

func getraw(cur *base.Cursor) ([]byte, error) {
	l, err := cur.Length()
	if err != nil {
		return nil, fmt.Errorf("raw data: %w", err)
	}
	return cur.Bytes(l)
}

func getdataresult(cur *base.Cursor) (r GetDataResult, err error) {
	choice, err := cur.Byte()
	if err != nil {
		return
	}
	switch choice {
	case 0:
		r.Result = base.TagResultSuccess
		r.Data, err = SkipData(cur)
	case 1:
		var d byte
		d, err = cur.Byte()
		r.Result = base.DlmsResultTag(d)
	default:
		err = fmt.Errorf("get data result choice %d: %w", choice, base.ErrFormat)
	}
	return
}

func putdataresult(dst *bytes.Buffer, r *GetDataResult) {
	if r.Result != base.TagResultSuccess {
		dst.WriteByte(1)
		dst.WriteByte(byte(r.Result))
		return
	}
	dst.WriteByte(0)
	dst.Write(r.Data)
}

// ParseGetResults splits the reassembled data of a GET with list into its results.
func ParseGetResults(data []byte) ([]GetDataResult, error) {
	cur := base.NewCursor(data)
	n, err := lengthonly(&cur)
	if err != nil {
		return nil, err
	}
	if n > cur.Len() {
		return nil, fmt.Errorf("%d results in %d bytes: %w", n, cur.Len(), base.ErrFormat)
	}
	ret := make([]GetDataResult, n)
	for i := range ret {
		if ret[i], err = getdataresult(&cur); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
	}
	if cur.Len() != 0 {
		return nil, fmt.Errorf("%d bytes after last result: %w", cur.Len(), base.ErrFormat)
	}
	return ret, nil
}

// EncodeGetRequest encodes a normal request for one item or a with list request for more.
func EncodeGetRequest(invoke byte, items []*DlmsRequestItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no items to get: %w", base.ErrConfiguration)
	}
	var dst bytes.Buffer
	dst.WriteByte(byte(base.TagGetRequest))
	if len(items) == 1 {
		dst.WriteByte(byte(TagGetRequestNormal))
		dst.WriteByte(invoke)
	} else {
		dst.WriteByte(byte(TagGetRequestWithList))
		dst.WriteByte(invoke)
		base.EncodeLength(&dst, uint(len(items)))
	}
	for _, i := range items {
		encodecosemattr(&dst, i)
		encodeaccess(&dst, i)
	}
	return dst.Bytes(), nil
}

// EncodeGetRequestNext asks for the block following blockno.
func EncodeGetRequestNext(invoke byte, blockno uint32) []byte {
	b := []byte{byte(base.TagGetRequest), byte(TagGetRequestNext), invoke, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[3:], blockno)
	return b
}

// DecodeGetResponse parses any of the three GET response variants.
func DecodeGetResponse(src []byte) (*GetResponse, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagGetResponse)); err != nil {
		return nil, err
	}
	h, err := cur.Bytes(2)
	if err != nil {
		return nil, err
	}
	ret := &GetResponse{Type: GetResponseTag(h[0]), InvokeId: h[1]}
	switch ret.Type {
	case TagGetResponseNormal:
		ret.Single, err = getdataresult(&cur)
	case TagGetResponseWithList:
		ret.List, err = ParseGetResults(cur.Rest())
	case TagGetResponseWithDataBlock:
		if err = getblockheader(&cur, &ret.Block); err != nil {
			break
		}
		var choice byte
		if choice, err = cur.Byte(); err != nil {
			break
		}
		switch choice {
		case 0:
			ret.Block.Result = base.TagResultSuccess
			ret.Block.Raw, err = getraw(&cur)
		case 1:
			var d byte
			d, err = cur.Byte()
			ret.Block.Result = base.DlmsResultTag(d)
		default:
			err = fmt.Errorf("datablock choice %d: %w", choice, base.ErrFormat)
		}
	default:
		return nil, fmt.Errorf("unexpected get response type %d: %w", ret.Type, base.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return ret, nil
}

// EncodeGetResponse encodes a normal response.
func EncodeGetResponse(invoke byte, r *GetDataResult) []byte {
	var dst bytes.Buffer
	dst.Write([]byte{byte(base.TagGetResponse), byte(TagGetResponseNormal), invoke})
	putdataresult(&dst, r)
	return dst.Bytes()
}

// EncodeGetResponseBlock encodes one data block of a long GET on the server side.
func EncodeGetResponseBlock(invoke byte, b *DataBlock) []byte {
	var dst bytes.Buffer
	dst.Write([]byte{byte(base.TagGetResponse), byte(TagGetResponseWithDataBlock), invoke})
	putblockheader(&dst, b.Last, b.BlockNumber)
	if b.Result != base.TagResultSuccess {
		dst.WriteByte(1)
		dst.WriteByte(byte(b.Result))
	} else {
		dst.WriteByte(0)
		putraw(&dst, b.Raw)
	}
	return dst.Bytes()
}

// SplitBlocks cuts data into blocks of at most size bytes numbered from 1.
func SplitBlocks(data []byte, size int) ([]DataBlock, error) {
	if size <= 0 {
		return nil, fmt.Errorf("block size %d: %w", size, base.ErrConfiguration)
	}
	n := (len(data) + size - 1) / size
	if n == 0 {
		n = 1
	}
	ret := make([]DataBlock, n)
	for i := range ret {
		e := min((i+1)*size, len(data))
		ret[i] = DataBlock{BlockNumber: uint32(i + 1), Raw: data[i*size : e], Last: i == n-1}
	}
	return ret, nil
}

// EncodeSetRequest encodes a normal set of one item with its SetData.
func EncodeSetRequest(invoke byte, item *DlmsRequestItem) []byte {
	var dst bytes.Buffer
	dst.Write([]byte{byte(base.TagSetRequest), byte(TagSetRequestNormal), invoke})
	encodecosemattr(&dst, item)
	encodeaccess(&dst, item)
	dst.Write(item.SetData)
	return dst.Bytes()
}

// EncodeSetRequestBlocks encodes a set of one item split into blocks of at most blocksize data bytes,
// the first request carries the attribute descriptor.
func EncodeSetRequestBlocks(invoke byte, item *DlmsRequestItem, blocksize int) ([][]byte, error) {
	blocks, err := SplitBlocks(item.SetData, blocksize)
	if err != nil {
		return nil, err
	}
	ret := make([][]byte, len(blocks))
	for i, b := range blocks {
		var dst bytes.Buffer
		dst.WriteByte(byte(base.TagSetRequest))
		if i == 0 {
			dst.Write([]byte{byte(TagSetRequestWithFirstDataBlock), invoke})
			encodecosemattr(&dst, item)
			encodeaccess(&dst, item)
		} else {
			dst.Write([]byte{byte(TagSetRequestWithDataBlock), invoke})
		}
		putblockheader(&dst, b.Last, b.BlockNumber)
		putraw(&dst, b.Raw)
		ret[i] = dst.Bytes()
	}
	return ret, nil
}

// DecodeSetRequest parses a normal or block set request on the server side.
func DecodeSetRequest(src []byte) (*SetRequest, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagSetRequest)); err != nil {
		return nil, err
	}
	h, err := cur.Bytes(2)
	if err != nil {
		return nil, err
	}
	ret := &SetRequest{Type: SetRequestTag(h[0]), InvokeId: h[1]}
	switch ret.Type {
	case TagSetRequestNormal:
		if err = decodecosemattr(&cur, &ret.Item); err != nil {
			break
		}
		if err = decodeaccess(&cur, &ret.Item); err != nil {
			break
		}
		ret.Item.SetData, err = SkipData(&cur)
	case TagSetRequestWithFirstDataBlock:
		if err = decodecosemattr(&cur, &ret.Item); err != nil {
			break
		}
		if err = decodeaccess(&cur, &ret.Item); err != nil {
			break
		}
		fallthrough
	case TagSetRequestWithDataBlock:
		if err = getblockheader(&cur, &ret.Block); err != nil {
			break
		}
		ret.Block.Raw, err = getraw(&cur)
	default:
		return nil, fmt.Errorf("unsupported set request type %d: %w", ret.Type, base.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("set request: %w", err)
	}
	return ret, nil
}

// DecodeSetResponse parses normal, datablock and last datablock set responses including their list forms.
func DecodeSetResponse(src []byte) (*SetResponse, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagSetResponse)); err != nil {
		return nil, err
	}
	h, err := cur.Bytes(2)
	if err != nil {
		return nil, err
	}
	ret := &SetResponse{Type: SetResponseTag(h[0]), InvokeId: h[1]}
	var r byte
	switch ret.Type {
	case TagSetResponseNormal:
		r, err = cur.Byte()
		ret.Result = base.DlmsResultTag(r)
	case TagSetResponseDataBlock:
		ret.BlockNumber, err = cur.Uint32()
	case TagSetResponseLastDataBlock:
		if r, err = cur.Byte(); err != nil {
			break
		}
		ret.Result = base.DlmsResultTag(r)
		ret.BlockNumber, err = cur.Uint32()
	case TagSetResponseWithList, TagSetResponseLastDataBlockWithList:
		var n int
		if n, err = lengthonly(&cur); err != nil {
			break
		}
		var rs []byte
		if rs, err = cur.Bytes(n); err != nil {
			break
		}
		ret.Results = make([]base.DlmsResultTag, n)
		for i, r := range rs {
			ret.Results[i] = base.DlmsResultTag(r)
		}
		if ret.Type == TagSetResponseLastDataBlockWithList {
			ret.BlockNumber, err = cur.Uint32()
		}
	default:
		return nil, fmt.Errorf("unexpected set response type %d: %w", ret.Type, base.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("set response: %w", err)
	}
	return ret, nil
}

// EncodeSetResponseBlock acknowledges a set data block, the last one carries the result.
func EncodeSetResponseBlock(invoke byte, blockno uint32, last bool, result base.DlmsResultTag) []byte {
	var dst bytes.Buffer
	dst.WriteByte(byte(base.TagSetResponse))
	if last {
		dst.Write([]byte{byte(TagSetResponseLastDataBlock), invoke, byte(result)})
	} else {
		dst.Write([]byte{byte(TagSetResponseDataBlock), invoke})
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], blockno)
	dst.Write(tmp[:])
	return dst.Bytes()
}

// EncodeActionRequest encodes a normal method invocation, SetData holds the optional parameters.
func EncodeActionRequest(invoke byte, item *DlmsRequestItem) []byte {
	var dst bytes.Buffer
	dst.Write([]byte{byte(base.TagActionRequest), byte(TagActionRequestNormal), invoke})
	encodecosemattr(&dst, item)
	if item.SetData == nil {
		dst.WriteByte(0)
	} else {
		dst.WriteByte(1)
		dst.Write(item.SetData)
	}
	return dst.Bytes()
}

// EncodeActionRequestNext asks for the pblock following blockno.
func EncodeActionRequestNext(invoke byte, blockno uint32) []byte {
	b := []byte{byte(base.TagActionRequest), byte(TagActionRequestNextPBlock), invoke, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(b[3:], blockno)
	return b
}

// DecodeActionRequest parses a normal or next pblock action request on the server side.
func DecodeActionRequest(src []byte) (*ActionRequest, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagActionRequest)); err != nil {
		return nil, err
	}
	h, err := cur.Bytes(2)
	if err != nil {
		return nil, err
	}
	ret := &ActionRequest{Type: ActionRequestTag(h[0]), InvokeId: h[1]}
	switch ret.Type {
	case TagActionRequestNormal:
		if err = decodecosemattr(&cur, &ret.Item); err != nil {
			break
		}
		var f byte
		if f, err = cur.Byte(); err != nil || f == 0 {
			break
		}
		ret.Item.SetData, err = SkipData(&cur)
	case TagActionRequestNextPBlock:
		ret.Block.BlockNumber, err = cur.Uint32()
	default:
		return nil, fmt.Errorf("unsupported action request type %d: %w", ret.Type, base.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("action request: %w", err)
	}
	return ret, nil
}

// EncodeActionResponse encodes a normal action response, ret is the optional return data.
func EncodeActionResponse(invoke byte, result base.DlmsResultTag, ret *GetDataResult) []byte {
	var dst bytes.Buffer
	dst.Write([]byte{byte(base.TagActionResponse), byte(TagActionResponseNormal), invoke, byte(result)})
	if ret == nil {
		dst.WriteByte(0)
	} else {
		dst.WriteByte(1)
		putdataresult(&dst, ret)
	}
	return dst.Bytes()
}

// DecodeActionResponse parses normal and with pblock action responses.
func DecodeActionResponse(src []byte) (*ActionResponse, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagActionResponse)); err != nil {
		return nil, err
	}
	h, err := cur.Bytes(2)
	if err != nil {
		return nil, err
	}
	ret := &ActionResponse{Type: ActionResponseTag(h[0]), InvokeId: h[1]}
	switch ret.Type {
	case TagActionResponseNormal:
		var r, f byte
		if r, err = cur.Byte(); err != nil {
			break
		}
		ret.Result = base.DlmsResultTag(r)
		if cur.Len() == 0 { // some units omit the optional flag
			break
		}
		if f, err = cur.Byte(); err != nil || f == 0 {
			break
		}
		var dr GetDataResult
		if dr, err = getdataresult(&cur); err == nil {
			ret.Return = &dr
		}
	case TagActionResponseWithPBlock:
		if err = getblockheader(&cur, &ret.Block); err != nil {
			break
		}
		ret.Block.Raw, err = getraw(&cur)
	default:
		return nil, fmt.Errorf("unexpected action response type %d: %w", ret.Type, base.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("action response: %w", err)
	}
	return ret, nil
}
