package dlmsal

import (
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

type ExceptionStateError byte

const (
	ExceptionServiceNotAllowed ExceptionStateError = 1
	ExceptionServiceUnknown    ExceptionStateError = 2
)

type ExceptionServiceError byte

const (
	ExceptionOperationNotPossible   ExceptionServiceError = 1
	ExceptionServiceNotSupported    ExceptionServiceError = 2
	ExceptionOtherReason            ExceptionServiceError = 3
	ExceptionPduTooLong             ExceptionServiceError = 4
	ExceptionDecipheringError       ExceptionServiceError = 5
	ExceptionInvocationCounterError ExceptionServiceError = 6
)

// ExceptionError is an exception response returned instead of the expected service response.
type ExceptionError struct {
	StateError   ExceptionStateError
	ServiceError ExceptionServiceError
	// expected invocation counter, only with ExceptionInvocationCounterError
	InvocationCounter uint32
}

func (e *ExceptionError) Error() string {
	if e.ServiceError == ExceptionInvocationCounterError {
		return fmt.Sprintf("exception response, state error %d, invocation counter error, expected %d", e.StateError, e.InvocationCounter)
	}
	return fmt.Sprintf("exception response, state error %d, service error %d", e.StateError, e.ServiceError)
}

// Unwrap lets errors.Is match base.ErrInvocationCounter.
func (e *ExceptionError) Unwrap() error {
	if e.ServiceError == ExceptionInvocationCounterError {
		return base.ErrInvocationCounter
	}
	return nil
}

// DecodeExceptionResponse parses D8 state service [counter]. Some units send the tag only, missing
// fields decode as other reason.
func DecodeExceptionResponse(src []byte) (*ExceptionError, error) {
	cur := base.NewCursor(src)
	if err := cur.Expect(byte(base.TagExceptionResponse)); err != nil {
		return nil, err
	}
	ret := &ExceptionError{ServiceError: ExceptionOtherReason}
	if cur.Len() == 0 {
		return ret, nil
	}
	st, _ := cur.Byte()
	ret.StateError = ExceptionStateError(st)
	if cur.Len() == 0 {
		return ret, nil
	}
	se, _ := cur.Byte()
	ret.ServiceError = ExceptionServiceError(se)
	if ret.ServiceError == ExceptionInvocationCounterError {
		ic, err := cur.Uint32()
		if err != nil {
			return nil, fmt.Errorf("exception invocation counter: %w", err)
		}
		ret.InvocationCounter = ic
	}
	return ret, nil
}

func (e *ExceptionError) Encode() []byte {
	out := []byte{byte(base.TagExceptionResponse), byte(e.StateError), byte(e.ServiceError)}
	if e.ServiceError == ExceptionInvocationCounterError {
		out = binary.BigEndian.AppendUint32(out, e.InvocationCounter)
	}
	return out
}
