package errors

import (
	stderrors "errors"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

// ============================================================================
// 错误分类测试
// ============================================================================

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code string
	}{
		{KindNoClassDefFound, L0100},
		{KindClassCircularity, L0101},
		{KindIncompatibleClassChange, L0201},
		{KindVerify, L0203},
		{KindExceptionInInitializer, L0400},
	}
	for _, tt := range tests {
		err := Newf(tt.kind, "boom")
		if err.Code != tt.code {
			t.Errorf("%v code = %s, want %s", tt.kind, err.Code, tt.code)
		}
		if !strings.Contains(err.Error(), tt.code) {
			t.Errorf("message should embed the code: %s", err.Error())
		}
		if !strings.Contains(err.Error(), tt.kind.String()) {
			t.Errorf("message should embed the kind: %s", err.Error())
		}
	}
}

func TestKindOfAndIsKind(t *testing.T) {
	inner := Newf(KindNoClassDefFound, "missing La/B;")
	outer := Wrapf(KindVerify, inner, "super rejected")

	if KindOf(outer) != KindVerify {
		t.Error("KindOf should report the outermost kind")
	}
	if !IsKind(outer, KindVerify) || !IsKind(outer, KindNoClassDefFound) {
		t.Error("IsKind should search the cause chain")
	}
	if IsKind(outer, KindOutOfMemory) {
		t.Error("absent kind must not match")
	}
	if KindOf(stderrors.New("plain")) != KindUnknown {
		t.Error("foreign errors classify as unknown")
	}
}

func TestUnwrapChain(t *testing.T) {
	root := pkgerrors.New("disk exploded")
	mid := Wrapf(KindClassFormat, root, "container truncated")
	top := Wrapf(KindNoClassDefFound, mid, "failed resolution of: La/B;")

	if !stderrors.Is(top, mid) {
		t.Error("errors.Is should traverse the chain")
	}
	if RootCause(top) != root {
		t.Errorf("RootCause = %v, want the pkg/errors root", RootCause(top))
	}
	var le *Error
	if !stderrors.As(top, &le) || le.Kind != KindNoClassDefFound {
		t.Error("errors.As should find the typed error")
	}
}
