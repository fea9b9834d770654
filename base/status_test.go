package base

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{fmt.Errorf("decrypt: %w", ErrTagMismatch), codes.Unauthenticated},
		{fmt.Errorf("aare: %w", ErrUnsupportedContext), codes.Unimplemented},
		{fmt.Errorf("aare: %w", ErrFormat), codes.InvalidArgument},
		{fmt.Errorf("block 3: %w", ErrSequence), codes.Aborted},
		{ErrInvocationCounter, codes.PermissionDenied},
		{ErrFrameCounterExhausted, codes.ResourceExhausted},
		{fmt.Errorf("something else"), codes.Unknown},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStatusMessage(t *testing.T) {
	st := Status(fmt.Errorf("glo get response: %w", ErrTagMismatch))
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("unexpected code %v", st.Code())
	}
	if st.Message() != "glo get response: invalid tag" {
		t.Fatalf("unexpected message %q", st.Message())
	}
}

func TestContextFor(t *testing.T) {
	seen := map[ApplicationContext]bool{}
	for _, ln := range []bool{true, false} {
		for _, ci := range []bool{true, false} {
			c := ContextFor(ln, ci)
			if c.IsLN() != ln || c.IsCiphered() != ci {
				t.Errorf("ContextFor(%v, %v) = %d has wrong flags", ln, ci, c)
			}
			seen[c] = true
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected four distinct contexts, got %d", len(seen))
	}
}

func TestLogHex(t *testing.T) {
	if s := LogHex("TX", []byte{0xc0, 0x01}); s != "TX (2): C001" {
		t.Fatalf("unexpected %q", s)
	}
}
