package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	v := NewVerifier("s3cret")
	sig := Sign("order_1", "pay_1", "s3cret")

	assert.NoError(t, v.Verify("order_1", "pay_1", sig))
	assert.NoError(t, v.Verify("order_1", "pay_1", strings.ToUpper(sig)))
	assert.ErrorIs(t, v.Verify("order_1", "pay_2", sig), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("order_1", "pay_1", Sign("order_1", "pay_1", "other")), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify("", "pay_1", sig), ErrInvalidSignature)
}

func TestVerify_NotConfigured(t *testing.T) {
	v := NewVerifier("  ")
	assert.False(t, v.Configured())
	assert.ErrorIs(t, v.Verify("o", "p", "s"), ErrNotConfigured)
}

func TestSign_Deterministic(t *testing.T) {
	sig := Sign("order_1", "pay_1", "s3cret")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("order_1", "pay_1", "s3cret"))
}
