package application

import (
	"encoding/json"
	"strings"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// RegisterPOSCommands installs the built-in POS command catalog. Called once
// at startup; hosts with extra command types register them alongside.
func RegisterPOSCommands(r *Registry) {
	r.Register(Definition{
		Type:      domain.TypeSaleFinalize,
		Schema:    saleFinalizeSchema,
		Normalize: normalizeSaleFinalize,
	})
	r.Register(Definition{
		Type:      domain.TypeShiftOpen,
		Schema:    shiftOpenSchema,
		Normalize: normalizeShiftOpen,
	})
	r.Register(Definition{
		Type:   domain.TypeShiftClose,
		Schema: shiftCloseSchema,
	})
	r.Register(Definition{
		Type:   domain.TypeCashEvent,
		Schema: cashEventSchema,
	})
}

func normalizeSaleFinalize(raw json.RawMessage) (json.RawMessage, error) {
	var p domain.SaleFinalizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.CashierID = strings.TrimSpace(p.CashierID)
	p.RegisterID = strings.TrimSpace(p.RegisterID)
	return json.Marshal(p)
}

func normalizeShiftOpen(raw json.RawMessage) (json.RawMessage, error) {
	var p domain.ShiftOpenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.CashierID = strings.TrimSpace(p.CashierID)
	p.RegisterID = strings.TrimSpace(p.RegisterID)
	return json.Marshal(p)
}

const saleFinalizeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["saleId", "registerId", "cashierId", "currency", "total", "lines"],
  "properties": {
    "saleId": {"type": "string", "format": "uuid"},
    "registerId": {"type": "string", "minLength": 1},
    "cashierId": {"type": "string", "minLength": 1},
    "currency": {"type": "string", "minLength": 3, "maxLength": 3},
    "total": {"type": "integer", "minimum": 0},
    "lines": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["sku", "quantity", "unitPrice"],
        "properties": {
          "sku": {"type": "string", "minLength": 1},
          "quantity": {"type": "integer", "minimum": 1},
          "unitPrice": {"type": "integer", "minimum": 0}
        }
      }
    },
    "finalizedAtUtc": {"type": "string"},
    "paymentKind": {"type": "string"},
    "customerNote": {"type": "string"}
  }
}`

const shiftOpenSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["shiftId", "registerId", "cashierId", "openingFloat"],
  "properties": {
    "shiftId": {"type": "string", "format": "uuid"},
    "registerId": {"type": "string", "minLength": 1},
    "cashierId": {"type": "string", "minLength": 1},
    "openingFloat": {"type": "integer", "minimum": 0},
    "openedAtUtc": {"type": "string"}
  }
}`

const shiftCloseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["shiftId", "cashierId", "closingTotal"],
  "properties": {
    "shiftId": {"type": "string", "format": "uuid"},
    "cashierId": {"type": "string", "minLength": 1},
    "closingTotal": {"type": "integer", "minimum": 0},
    "closedAtUtc": {"type": "string"}
  }
}`

const cashEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["eventId", "shiftId", "kind", "amount"],
  "properties": {
    "eventId": {"type": "string", "format": "uuid"},
    "shiftId": {"type": "string", "format": "uuid"},
    "kind": {"type": "string", "enum": ["PAID_IN", "PAID_OUT"]},
    "amount": {"type": "integer", "minimum": 1},
    "reason": {"type": "string"},
    "occurredAtUtc": {"type": "string"}
  }
}`
