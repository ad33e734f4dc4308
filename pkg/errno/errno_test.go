package errno

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_Is(t *testing.T) {
	err := Wrap("broadcast", ErrBroadcast, io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrBroadcast)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrSigning)
	assert.Equal(t, "broadcast: Transaction broadcast rejected: unexpected EOF", err.Error())

	// 外层再包一层 fmt.Errorf 也能识别
	wrapped := fmt.Errorf("submit: %w", err)
	assert.ErrorIs(t, wrapped, ErrBroadcast)
}

func TestStageError_NestedKinds(t *testing.T) {
	err := Wrap("sign", ErrSigning, ErrSignerUnavailable)

	assert.ErrorIs(t, err, ErrSigning)
	assert.ErrorIs(t, err, ErrSignerUnavailable)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"nil", nil, 0, "Success"},
		{"errno value", ErrAccountNotFound, 30201, "Account not found on node"},
		{"errno pointer", &ErrSignerBusy, 30102, "External signer request already pending"},
		{"with message", ErrBind.WithMessage("to 不能为空"), 10002, "to 不能为空"},
		{"stage error", Wrap("estimate", ErrGasEstimation, errors.New("execution reverted")), 30301, "estimate: Gas estimation failed: execution reverted"},
		{"plain error", errors.New("boom"), 10001, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := Decode(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}
