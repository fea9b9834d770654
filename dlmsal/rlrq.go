package dlmsal

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

// EncodeRLRQ encodes the release request, empty or with the normal reason.
func EncodeRLRQ(empty bool) []byte {
	if empty {
		return []byte{byte(base.TagRLRQ), 0}
	}
	return []byte{byte(base.TagRLRQ), 3, base.BERTypeContext, 1, byte(base.ReleaseRequestReasonNormal)}
}

// DecodeRLRE parses the release response and returns the reason when present. Fields other than
// the reason are skipped.
func DecodeRLRE(src []byte) (reason *byte, err error) {
	err = elements(src, base.TagRLRE, func(tag byte, cur *base.Cursor) error {
		if tag != base.BERTypeContext {
			return nil
		}
		sub, err := cur.Sub()
		if err != nil {
			return err
		}
		r, err := sub.Byte()
		if err != nil {
			return fmt.Errorf("release response reason: %w", err)
		}
		reason = &r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rlre: %w", err)
	}
	return
}
