package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ClassNone},
		{name: "unavailable", err: fmt.Errorf("probe: %w", ErrUnavailable), want: ClassUnavailable},
		{name: "token expired", err: fmt.Errorf("usage: %w", ErrTokenExpired), want: ClassAuth},
		{name: "session expired", err: ErrSessionExpired, want: ClassAuth},
		{name: "parse", err: Parse("decode: %v", errors.New("eof")), want: ClassParse},
		{name: "transient", err: Transient("status %d", 500), want: ClassTransient},
		{name: "timeout", err: context.DeadlineExceeded, want: ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthSubtypes(t *testing.T) {
	if !errors.Is(ErrTokenExpired, ErrAuth) {
		t.Fatalf("ErrTokenExpired should wrap ErrAuth")
	}
	if !errors.Is(ErrSessionExpired, ErrAuth) {
		t.Fatalf("ErrSessionExpired should wrap ErrAuth")
	}
	if errors.Is(ErrTokenExpired, ErrSessionExpired) {
		t.Fatalf("auth subtypes must stay distinct")
	}
}
