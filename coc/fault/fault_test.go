package fault

import (
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{fmt.Errorf("bufpool: pool exhausted: %w", ErrResourceExhausted), KindResourceExhausted},
		{fmt.Errorf("credit: overrun: %w", ErrProtocolViolation), KindProtocolViolation},
		{fmt.Errorf("sdu 3: %w", ErrDataIntegrity), KindDataIntegrity},
		{fmt.Errorf("link 2: %w", ErrLinkFailure), KindLinkFailure},
		{fmt.Errorf("other"), KindUnknown},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
