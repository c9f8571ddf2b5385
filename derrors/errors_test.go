package derrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndRuleIDThroughWrapping(t *testing.T) {
	base := New(KindValidation, "DWN-PROT-101", "missing protocol uri")
	wrapped := fmt.Errorf("configure: %w", base)

	if !IsKind(wrapped, KindValidation) {
		t.Fatalf("IsKind should see through fmt wrapping")
	}
	if IsKind(wrapped, KindCrypto) {
		t.Fatalf("IsKind matched wrong kind")
	}
	if got := RuleID(wrapped); got != "DWN-PROT-101" {
		t.Fatalf("RuleID: got %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindInternal, "DWN-INT-001", "store failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("Wrap should preserve cause chain")
	}
	if RuleID(errors.New("plain")) != "" {
		t.Fatalf("RuleID of a plain error should be empty")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, StatusAccepted},
		{New(KindParse, "DWN-MSG-001", "bad json"), StatusInvalid},
		{New(KindValidation, "DWN-REC-101", "schema mismatch"), StatusInvalid},
		{New(KindAuthorize, "DWN-AUTHZ-001", "not allowed"), StatusUnauthorized},
		{New(KindCrypto, "DWN-CRYPTO-401", "signature invalid"), StatusUnauthorized},
		{New(KindNotFound, "DWN-REC-404", "no such record"), StatusNotFound},
		{New(KindConflict, "DWN-PROT-409", "definition differs"), StatusConflict},
		{errors.New("plain"), StatusInternal},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err).Code; got != tc.code {
			t.Fatalf("StatusFor(%v): got %d want %d", tc.err, got, tc.code)
		}
	}
}
