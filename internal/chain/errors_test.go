package chain

import (
	"encoding/hex"
	"errors"
	"testing"
)

type fakeDataError struct {
	msg  string
	data interface{}
}

func (f *fakeDataError) Error() string          { return f.msg }
func (f *fakeDataError) ErrorData() interface{} { return f.data }

func TestClassifyRevertSelector(t *testing.T) {
	data := "0x" + hex.EncodeToString(alreadySettledSelector)
	err := classifyRevert(&fakeDataError{msg: "execution reverted", data: data})
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("selector match should map to ErrAlreadySettled, got %v", err)
	}
}

func TestClassifyRevertSubstringFallback(t *testing.T) {
	err := classifyRevert(errors.New("execution reverted: Duel already settled"))
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("revert-string match should map to ErrAlreadySettled, got %v", err)
	}

	err = classifyRevert(errors.New("execution reverted: duel not ended"))
	if !errors.Is(err, ErrNotReadyOnChain) {
		t.Fatalf("expected ErrNotReadyOnChain, got %v", err)
	}
}

func TestClassifyRevertUnknown(t *testing.T) {
	err := classifyRevert(errors.New("execution reverted: insufficient escrow"))
	if errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrNotReadyOnChain) {
		t.Fatalf("unknown revert must stay generic, got %v", err)
	}
	if err == nil {
		t.Fatal("unknown revert must still be an error")
	}
}

func TestClassifyRevertNil(t *testing.T) {
	if err := classifyRevert(nil); err != nil {
		t.Fatalf("nil must pass through, got %v", err)
	}
}
