package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- MakeRandCode ----------

func TestMakeRandCode_UsesAlphabet(t *testing.T) {
	const alphabet = "AB23"
	code, err := MakeRandCode(64, alphabet)
	require.NoError(t, err)
	require.Len(t, code, 64)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
	}
}

// ---------- WipeByteArray ----------

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	WipeByteArray(nil)
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

// ---------- errors ----------

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", ErrSelfPairing, KindValidation},
		{"wrapped conflict", fmt.Errorf("accept: %w", ErrPartnerAlreadyPaired), KindConflict},
		{"store miss", fmt.Errorf("get: %w", ErrorNotFound), KindNotFound},
		{"cooldown", &CooldownError{Remaining: time.Minute}, KindThrottle},
		{"crypto", ErrDecryptionFailed, KindCrypto},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("query: %w", ErrUnavailable)))
	assert.False(t, IsRetryable(ErrInvalidCode))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestCooldownError(t *testing.T) {
	err := fmt.Errorf("draw: %w", &CooldownError{Remaining: 90*time.Second + time.Millisecond})

	require.ErrorIs(t, err, ErrCooldownActive)

	var ce *CooldownError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(91), ce.RemainingSeconds())
	assert.Equal(t, int64(2), ce.RemainingMinutes())
}

func TestCeilUnits(t *testing.T) {
	assert.Equal(t, int64(0), CeilUnits(0, time.Second))
	assert.Equal(t, int64(0), CeilUnits(-time.Second, time.Second))
	assert.Equal(t, int64(1), CeilUnits(time.Nanosecond, time.Second))
	assert.Equal(t, int64(15), CeilUnits(15*time.Minute, time.Minute))
}
