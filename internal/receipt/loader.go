package receipt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
)

// #region decode
// Decode reads receipts from r. A JSON array, a single JSON object, or
// newline-delimited JSON objects are accepted.
func Decode(r io.Reader) ([]Receipt, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read receipts: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var out []Receipt
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode receipt array: %w", err)
		}
		return out, nil
	}

	var single Receipt
	err = json.Unmarshal(trimmed, &single)
	if err == nil {
		return []Receipt{single}, nil
	}
	if trimmed[0] == '{' && singleValue(trimmed) {
		return nil, fmt.Errorf("decode receipt object: %w", err)
	}

	var out []Receipt
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec Receipt
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("decode receipt line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan receipts: %w", err)
	}
	return out, nil
}

// singleValue reports whether data holds exactly one well-formed JSON value.
func singleValue(data []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return false
	}
	return dec.Decode(&v) == io.EOF
}

// #endregion decode

// #region load-files
// LoadFiles reads every path concurrently and concatenates the receipts in
// argument order.
func LoadFiles(ctx context.Context, paths ...string) ([]Receipt, error) {
	batches := make([][]Receipt, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return fmt.Errorf("open %s: %w", p, err)
			}
			defer f.Close()
			recs, err := Decode(f)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			batches[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Receipt
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

// #endregion load-files

// #region helpers
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion helpers
