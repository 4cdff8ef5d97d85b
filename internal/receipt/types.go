package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// #region receipt-types
// Receipt types with special meaning for partition stability checks.
const (
	TypeCohortVersion    = "cohort-version"
	TypeCohortDefinition = "cohort-definition"
	TypePartitionChange  = "partition-change"
)

// Receipt is one entry of an execution trace, produced upstream.
type Receipt struct {
	ID            string     `json:"id"`
	Timestamp     Timestamp  `json:"timestamp"`
	Type          string     `json:"type,omitempty"`
	ToolCalls     []ToolCall `json:"toolCalls,omitempty"`
	Output        string     `json:"output,omitempty"`
	Logs          []string   `json:"logs,omitempty"`
	CohortHash    string     `json:"cohortHash,omitempty"`
	PartitionHash string     `json:"partitionHash,omitempty"`
}

// ToolCall is a single tool invocation recorded on a receipt. Args is kept
// raw; producers send either a plain string or a JSON object.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// #endregion receipt-types

// #region tool-call-strings
// ArgStrings returns every string leaf inside Args, in document order.
// Malformed JSON yields the raw bytes as a single string.
func (tc ToolCall) ArgStrings() []string {
	if len(tc.Args) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(tc.Args, &v); err != nil {
		return []string{string(tc.Args)}
	}
	var out []string
	collectStrings(v, &out)
	return out
}

func collectStrings(v interface{}, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case []interface{}:
		for _, e := range t {
			collectStrings(e, out)
		}
	case map[string]interface{}:
		// encoding/json maps are unordered; walk keys sorted for determinism
		for _, k := range sortedKeys(t) {
			collectStrings(t[k], out)
		}
	}
}

// #endregion tool-call-strings

// #region timestamp
// Timestamp accepts RFC 3339 strings or Unix epoch milliseconds.
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		if s == "" {
			ts.Time = time.Time{}
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		ts.Time = t.UTC()
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	ts.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// #endregion timestamp
