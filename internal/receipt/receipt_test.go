package receipt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region timestamp-tests
func TestTimestampRFC3339(t *testing.T) {
	var r Receipt
	if err := json.Unmarshal([]byte(`{"id":"r1","timestamp":"2026-01-02T03:04:05Z"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, r.Timestamp.Time)
	}
}

func TestTimestampEpochMillis(t *testing.T) {
	var r Receipt
	if err := json.Unmarshal([]byte(`{"id":"r1","timestamp":1767322800000}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Timestamp.UnixMilli() != 1767322800000 {
		t.Errorf("expected epoch millis preserved, got %d", r.Timestamp.UnixMilli())
	}
}

func TestTimestampNullIsZero(t *testing.T) {
	var r Receipt
	if err := json.Unmarshal([]byte(`{"id":"r1","timestamp":null}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !r.Timestamp.IsZero() {
		t.Errorf("expected zero timestamp, got %v", r.Timestamp.Time)
	}
}

func TestTimestampInvalid(t *testing.T) {
	var r Receipt
	if err := json.Unmarshal([]byte(`{"id":"r1","timestamp":"yesterday"}`), &r); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

// #endregion timestamp-tests

// #region arg-strings-tests
func TestArgStringsPlainString(t *testing.T) {
	tc := ToolCall{Name: "emit", Args: json.RawMessage(`"H|P|A:1|PAYLOAD|F"`)}
	got := tc.ArgStrings()
	if len(got) != 1 || got[0] != "H|P|A:1|PAYLOAD|F" {
		t.Errorf("unexpected strings: %v", got)
	}
}

func TestArgStringsNestedObject(t *testing.T) {
	tc := ToolCall{Name: "emit", Args: json.RawMessage(`{"b":["x",{"c":"y"}],"a":"z","n":3}`)}
	got := tc.ArgStrings()
	want := []string{"z", "x", "y"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestArgStringsMalformed(t *testing.T) {
	tc := ToolCall{Name: "emit", Args: json.RawMessage(`{not json`)}
	got := tc.ArgStrings()
	if len(got) != 1 || got[0] != "{not json" {
		t.Errorf("expected raw fallback, got %v", got)
	}
}

// #endregion arg-strings-tests

// #region decode-tests
func TestDecodeArray(t *testing.T) {
	recs, err := Decode(strings.NewReader(`[{"id":"a"},{"id":"b","type":"partition-change"}]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 || recs[1].Type != TypePartitionChange {
		t.Errorf("unexpected receipts: %+v", recs)
	}
}

func TestDecodeJSONL(t *testing.T) {
	input := "{\"id\":\"a\"}\n\n{\"id\":\"b\",\"logs\":[\"x\"]}\n"
	recs, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 2 || recs[1].Logs[0] != "x" {
		t.Errorf("unexpected receipts: %+v", recs)
	}
}

func TestDecodeJSONLBadLine(t *testing.T) {
	_, err := Decode(strings.NewReader("{\"id\":\"a\"}\n{oops\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestDecodePrettyObject(t *testing.T) {
	input := "{\n  \"id\": \"a\",\n  \"output\": \"x\"\n}\n"
	recs, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Errorf("unexpected receipts: %+v", recs)
	}
}

func TestDecodePrettyObjectBadField(t *testing.T) {
	input := "{\n  \"id\": \"a\",\n  \"timestamp\": \"yesterday\"\n}\n"
	_, err := Decode(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "timestamp") || strings.Contains(err.Error(), "line 1") {
		t.Errorf("expected the object's timestamp error, got %v", err)
	}
}

func TestDecodeJSONLBadFirstLine(t *testing.T) {
	_, err := Decode(strings.NewReader("{\"id\":\"a\",\"timestamp\":\"yesterday\"}\n{\"id\":\"b\"}\n"))
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line 1 error, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	recs, err := Decode(strings.NewReader("   \n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no receipts, got %d", len(recs))
	}
}

// #endregion decode-tests

// #region load-files-tests
func TestLoadFilesPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.jsonl")
	if err := os.WriteFile(first, []byte(`[{"id":"1"},{"id":"2"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("{\"id\":\"3\"}\n{\"id\":\"4\"}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	recs, err := LoadFiles(context.Background(), first, second)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "1,2,3,4" {
		t.Errorf("expected ordered ids, got %v", ids)
	}
}

func TestLoadFilesMissing(t *testing.T) {
	_, err := LoadFiles(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// #endregion load-files-tests
