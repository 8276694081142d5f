package common

import (
	"log/slog"
	"strings"
	"time"
)

// IETF RFC 3339 defines a profile of ISO 8601
const jsonTimeLayout = time.RFC3339Nano

// JSONTime is the time.Time with JSON marshal and unmarshal capability
type JSONTime time.Time

func JSONTimeNow() JSONTime {
	return JSONTime(time.Now().UTC())
}

// UnmarshalJSON accepts RFC 3339 with optional fractional seconds
func (t *JSONTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = JSONTime{}
		return nil
	}

	nt, err := time.Parse(jsonTimeLayout, s)
	if err != nil {
		slog.Error("Failed to unmarshal a json time", "string", s, ErrAttr(err))
		return err
	}
	*t = JSONTime(nt)
	return nil
}

// Time returns builtin time.Time for current JSONTime
func (t JSONTime) Time() time.Time {
	return time.Time(t)
}

func (t JSONTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t JSONTime) String() string {
	ct := time.Time(t).UTC()
	return ct.Format(jsonTimeLayout)
}

func (t JSONTime) LogValue() slog.Value {
	return slog.StringValue(t.String())
}
