package protocol

import (
	"fmt"
	"strconv"
	"time"
)

// FlexTime is an instant that tolerates the two serializations seen on the
// wire: a numeric epoch (milliseconds) or an ISO-8601 string. It always
// marshals back to RFC 3339 so stored and live payloads compare equal.
type FlexTime struct {
	time.Time
}

// Now returns the current instant truncated to millisecond precision, the
// finest granularity that survives a round trip through a numeric epoch.
func Now() FlexTime {
	return FlexTime{time.Now().UTC().Truncate(time.Millisecond)}
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("unquote timestamp: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse epoch timestamp %q: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}
