package base

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var codemap = []struct {
	err  error
	code codes.Code
}{
	{ErrTagMismatch, codes.Unauthenticated},
	{ErrInvocationCounter, codes.PermissionDenied},
	{ErrUnsupportedVersion, codes.Unimplemented},
	{ErrUnsupportedContext, codes.Unimplemented},
	{ErrInvalidVaa, codes.FailedPrecondition},
	{ErrState, codes.FailedPrecondition},
	{ErrSequence, codes.Aborted},
	{ErrFrameCounterExhausted, codes.ResourceExhausted},
	{ErrConfiguration, codes.InvalidArgument},
	{ErrFormat, codes.InvalidArgument},
	{ErrCommunicationTimeout, codes.DeadlineExceeded},
	{ErrNotOpened, codes.Unavailable},
	{ErrNothingToRead, codes.Unavailable},
}

// Code classifies an error returned by this module for services reporting over gRPC.
// Order matters, ErrUnsupportedContext also wraps ErrFormat.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	for _, m := range codemap {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return codes.Unknown
}

// Status wraps err into a gRPC status carrying its classified code.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(Code(err), err.Error())
}
