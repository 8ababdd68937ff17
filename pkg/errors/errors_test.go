package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodeKind(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{ErrCodeConfigInvalid, KindConfig},
		{ErrCodeProfileNotFound, KindConfig},
		{ErrCodeConnectionFailed, KindConnection},
		{ErrCodeSessionBusy, KindConnection},
		{ErrCodeQueryRejected, KindQuery},
		{ErrCodeQueryTimeout, KindTimeout},
		{ErrCodeProtocolError, KindProtocol},
		{ErrCodeUnmappableCell, KindTypeMapping},
		{ErrCodeInternal, KindInternal},
	}
	for _, tt := range tests {
		if got := tt.code.Kind(); got != tt.want {
			t.Errorf("Kind(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Wrap(cause, ErrCodeQueryRejected, "query failed")

	if !Is(err, cause) {
		t.Error("wrapped error does not match its cause")
	}
	var structured *Error
	if !As(err, &structured) {
		t.Fatal("As failed on *Error")
	}
	if structured.Code != ErrCodeQueryRejected {
		t.Errorf("code = %d", structured.Code)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("Wrap(nil) must return nil")
	}
}

func TestWithFieldAndOp(t *testing.T) {
	err := New(ErrCodeQueryRejected, "rejected").
		WithField("number", 208).
		WithOp("Executor.Run")

	fields := GetFields(err)
	if fields["number"] != 208 {
		t.Errorf("fields = %v", fields)
	}
	var structured *Error
	As(err, &structured)
	if structured.OpName != "Executor.Run" {
		t.Errorf("op = %q", structured.OpName)
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	if GetCode(stderrors.New("plain")) != 0 {
		t.Error("foreign error should have no code")
	}
	if GetCode(nil) != 0 {
		t.Error("nil error should have no code")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeAuthFailed, "login failed")
	outer := fmt.Errorf("while connecting: %w", inner)

	if !IsCode(outer, ErrCodeAuthFailed) {
		t.Error("IsCode failed through fmt.Errorf wrapping")
	}
	if !IsKind(outer, KindConnection) {
		t.Error("IsKind failed through fmt.Errorf wrapping")
	}
}

func TestInvalidatesSession(t *testing.T) {
	if ErrCodeQueryRejected.InvalidatesSession() {
		t.Error("query rejection should not invalidate")
	}
	if !ErrCodeQueryTimeout.InvalidatesSession() {
		t.Error("query timeout should invalidate")
	}
	if !ErrCodeProtocolError.InvalidatesSession() {
		t.Error("protocol error should invalidate")
	}
}

func TestErrorStringIncludesKindAndCode(t *testing.T) {
	err := New(ErrCodeQueryTimeout, "query exceeded its time bound")
	s := err.Error()
	if s == "" || s == "query exceeded its time bound" {
		t.Errorf("error string lacks code context: %q", s)
	}
}
