package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyFormat(t *testing.T) {
	key := IdempotencyKey("sale", "S1", "finalize", 1)
	assert.Equal(t, "sale:S1:finalize:v1", key)
	assert.True(t, ValidIdempotencyKey(key))
}

func TestPayloadKeyBuilders(t *testing.T) {
	saleID := uuid.New()
	sale := SaleFinalizePayload{SaleID: saleID}
	assert.Equal(t, "sale:"+saleID.String()+":finalize:v1", sale.Key())
	assert.True(t, ValidIdempotencyKey(sale.Key()))

	shiftID := uuid.New()
	assert.True(t, ValidIdempotencyKey(ShiftOpenPayload{ShiftID: shiftID}.Key()))
	assert.True(t, ValidIdempotencyKey(ShiftClosePayload{ShiftID: shiftID}.Key()))
	assert.True(t, ValidIdempotencyKey(CashEventPayload{EventID: uuid.New(), Kind: CashPaidIn}.Key()))
}

func TestValidIdempotencyKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"sale:S1:finalize",      // missing version
		"sale:S1:finalize:1",    // version without v
		"sale::finalize:v1",     // empty id
		"sale:S1:finalize:v1:x", // trailing segment
	} {
		assert.False(t, ValidIdempotencyKey(key), "key %q", key)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(&TransportError{Err: assert.AnError}))
	assert.True(t, IsRetryable(ErrStorageUnavailable))
	assert.False(t, IsRetryable(&ServerValidationError{Status: 422, Detail: "bad"}))
	assert.False(t, IsRetryable(ErrUnknownCommandType))
}
