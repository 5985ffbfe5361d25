package domain

import (
	"time"

	"github.com/google/uuid"
)

// Built-in POS command types. The engine treats payloads as opaque validated
// JSON; these structs exist so issuing features get compile-time coverage.
const (
	TypeSaleFinalize = "pos.sale.finalize"
	TypeShiftOpen    = "pos.shift.open"
	TypeShiftClose   = "pos.shift.close"
	TypeCashEvent    = "pos.cash.event"
)

type SaleLine struct {
	Sku       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"` // minor units
}

type SaleFinalizePayload struct {
	SaleID       uuid.UUID  `json:"saleId"`
	RegisterID   string     `json:"registerId"`
	CashierID    string     `json:"cashierId"`
	Currency     string     `json:"currency"`
	Total        int64      `json:"total"` // minor units
	Lines        []SaleLine `json:"lines"`
	FinalizedAt  time.Time  `json:"finalizedAtUtc"`
	PaymentKind  string     `json:"paymentKind"`
	CustomerNote string     `json:"customerNote,omitempty"`
}

func (p SaleFinalizePayload) Key() string {
	return IdempotencyKey("sale", p.SaleID.String(), "finalize", 1)
}

type ShiftOpenPayload struct {
	ShiftID      uuid.UUID `json:"shiftId"`
	RegisterID   string    `json:"registerId"`
	CashierID    string    `json:"cashierId"`
	OpeningFloat int64     `json:"openingFloat"` // minor units
	OpenedAt     time.Time `json:"openedAtUtc"`
}

func (p ShiftOpenPayload) Key() string {
	return IdempotencyKey("shift", p.ShiftID.String(), "open", 1)
}

type ShiftClosePayload struct {
	ShiftID      uuid.UUID `json:"shiftId"`
	CashierID    string    `json:"cashierId"`
	ClosingTotal int64     `json:"closingTotal"` // minor units
	ClosedAt     time.Time `json:"closedAtUtc"`
}

func (p ShiftClosePayload) Key() string {
	return IdempotencyKey("shift", p.ShiftID.String(), "close", 1)
}

type CashEventKind string

const (
	CashPaidIn  CashEventKind = "PAID_IN"
	CashPaidOut CashEventKind = "PAID_OUT"
)

type CashEventPayload struct {
	EventID    uuid.UUID     `json:"eventId"`
	ShiftID    uuid.UUID     `json:"shiftId"`
	Kind       CashEventKind `json:"kind"`
	Amount     int64         `json:"amount"` // minor units, positive
	Reason     string        `json:"reason"`
	OccurredAt time.Time     `json:"occurredAtUtc"`
}

func (p CashEventPayload) Key() string {
	return IdempotencyKey("cashevent", p.EventID.String(), string(p.Kind), 1)
}
