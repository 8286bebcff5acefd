package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrStateConflict.WrapMsg("already accepted", "session", int64(42), "agent", 7)
	ce := AsCode(err)
	if ce.Code != CodeStateConflict {
		t.Errorf("code = %d", ce.Code)
	}
	if ce.Detail != "already accepted session=42 agent=7" {
		t.Errorf("detail = %q", ce.Detail)
	}
	// 哨兵本身不被污染
	if ErrStateConflict.Detail != "" {
		t.Error("sentinel mutated")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("session not found", "id", int64(9))
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is lost the code")
	}
	if errors.Is(err, ErrStateConflict) {
		t.Error("codes conflated")
	}
	// 包一层普通错误也要能认出来
	wrapped := fmt.Errorf("handler: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapping broke errors.Is")
	}
	if AsCode(wrapped).Code != CodeNotFound {
		t.Error("AsCode missed wrapped CodeError")
	}
}

func TestAsCodePlainError(t *testing.T) {
	ce := AsCode(errors.New("pgx: connection refused"))
	if ce.Code != CodeInternal {
		t.Errorf("plain error code = %d", ce.Code)
	}
	if ce.Detail == "" {
		t.Error("original message dropped")
	}
	if AsCode(nil) != nil {
		t.Error("nil must map to nil")
	}
}

func TestWithDetailAppends(t *testing.T) {
	err := ErrStorage.WithDetail("tx rollback").WithDetail("accept")
	if err.Detail != "tx rollback, accept" {
		t.Errorf("detail = %q", err.Detail)
	}
}
