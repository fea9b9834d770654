package base

import (
	"errors"
	"fmt"
)

var ErrNothingToRead = errors.New("nothing to read")
var ErrNotOpened = errors.New("connection is not open")
var ErrCommunicationTimeout = errors.New("communication timeout")

// Protocol level failures. Callers classify with errors.Is, every returned error wraps one of these.
var (
	// ErrFormat is a malformed tag, length or identifier in a received PDU.
	ErrFormat = errors.New("malformed pdu")
	// ErrUnsupportedContext is an application context name matching none of the four known OIDs.
	ErrUnsupportedContext = fmt.Errorf("unsupported application context: %w", ErrFormat)
	// ErrUnsupportedVersion is a DLMS version other than DlmsVersion in an initiate PDU.
	ErrUnsupportedVersion = errors.New("unsupported dlms version")
	// ErrInvalidVaa is a VAA name not matching the referencing scheme in use.
	ErrInvalidVaa = errors.New("invalid vaa name")
	// ErrTagMismatch is an authentication tag that failed verification.
	ErrTagMismatch = errors.New("invalid tag")
	// ErrSequence is a block number other than the expected one.
	ErrSequence = errors.New("out of sequence block")
	// ErrConfiguration is a wrong length key or system title, or a missing key.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvocationCounter is a received frame counter not greater than the last accepted one.
	ErrInvocationCounter = errors.New("invocation counter error")
	// ErrFrameCounterExhausted means no unused frame counter value is left for the system title.
	ErrFrameCounterExhausted = errors.New("frame counter exhausted")
	// ErrState is an operation invoked in a state that does not allow it.
	ErrState = errors.New("invalid state")
)
