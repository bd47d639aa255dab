package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Party is one side of a transaction.
type Party struct {
	Country  string  `json:"country,omitempty"`
	Region   string  `json:"region,omitempty"`
	City     string  `json:"city,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	DeviceID string  `json:"deviceId,omitempty"`
	Account  string  `json:"account,omitempty"`
}

// Transaction is the unit under evaluation. It must not be modified while
// a workflow executes over it.
type Transaction struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Origin      Party     `json:"origin"`
	Destination Party     `json:"destination"`
	Metadata    Data      `json:"metadata,omitempty"`
}

func (t *Transaction) PaymentMethod() string {
	s, _ := t.Metadata.GetString("paymentMethod")
	return s
}

// UnmarshalJSON accepts the timestamp as an RFC3339 string, a date string
// cast understands, or epoch milliseconds.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	type alias Transaction
	aux := struct {
		*alias
		Timestamp any `json:"timestamp"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return errors.Trace(err)
	}
	ts, err := parseTimestamp(aux.Timestamp)
	if err != nil {
		return errors.Annotatef(err, "transaction %s timestamp", t.ID)
	}
	t.Timestamp = ts
	return nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return time.UnixMilli(int64(ts)), nil
	case string:
		if strings.TrimSpace(ts) == "" {
			return time.Time{}, nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return parsed, nil
		}
		if ms, err := cast.ToInt64E(ts); err == nil {
			return time.UnixMilli(ms), nil
		}
		return cast.ToTimeE(ts)
	default:
		return time.Time{}, errors.NotValidf("timestamp %v", v)
	}
}
