package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// OptionalAmount decodes leniently: null, missing, negative or non-numeric
// input leaves Valid false instead of failing the whole request.
type OptionalAmount struct {
	Value decimal.Decimal
	Valid bool
}

func Amount(value string) OptionalAmount {
	d, err := decimal.NewFromString(value)
	if err != nil || d.IsNegative() {
		return OptionalAmount{}
	}
	return OptionalAmount{Value: d, Valid: true}
}

func (a *OptionalAmount) UnmarshalJSON(data []byte) error {
	*a = OptionalAmount{}
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	*a = Amount(raw)
	return nil
}

func (a OptionalAmount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}
