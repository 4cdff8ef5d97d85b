package message

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// #region source
// Source identifies which receipt field a message was extracted from.
type Source string

const (
	SourceToolCall    Source = "tool_call"
	SourceModelOutput Source = "model_output"
	SourceLog         Source = "log"
)

// #endregion source

// #region provenance
// Provenance records where an extracted message came from.
type Provenance struct {
	Source       Source    `json:"source"`
	ReceiptID    string    `json:"receiptId"`
	ToolCallName string    `json:"toolCallName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// provenanceKey is the value-equality key used when deduplicating sources.
type provenanceKey struct {
	source   Source
	receipt  string
	toolCall string
	nanos    int64
}

func (p Provenance) key() provenanceKey {
	var nanos int64
	if !p.Timestamp.IsZero() {
		nanos = p.Timestamp.UnixNano()
	}
	return provenanceKey{source: p.Source, receipt: p.ReceiptID, toolCall: p.ToolCallName, nanos: nanos}
}

// #endregion provenance

// #region parsed-message
// ParsedMessage is the immutable AST of one SOPHRON-1 message. The canonical
// form and identifier are computed once by Parse.
type ParsedMessage struct {
	raw           string
	header        string
	corePredicate string
	attributes    map[string]string
	payload       string
	footer        string
	canonical     string
	digest        string // full SHA-256 hex of canonical
}

func (m *ParsedMessage) Raw() string           { return m.raw }
func (m *ParsedMessage) Header() string        { return m.header }
func (m *ParsedMessage) CorePredicate() string { return m.corePredicate }
func (m *ParsedMessage) Payload() string       { return m.payload }
func (m *ParsedMessage) Footer() string        { return m.footer }
func (m *ParsedMessage) CanonicalForm() string { return m.canonical }

// ID is the display identifier: the first 16 hex characters of Digest.
func (m *ParsedMessage) ID() string { return m.digest[:idLength] }

// Digest is the full SHA-256 of the canonical form, used for grouping.
func (m *ParsedMessage) Digest() string { return m.digest }

// Attribute returns the value for key and whether it was present.
func (m *ParsedMessage) Attribute(key string) (string, bool) {
	v, ok := m.attributes[key]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (m *ParsedMessage) Attributes() map[string]string {
	out := make(map[string]string, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = v
	}
	return out
}

// AttributeKeys returns the attribute keys in sorted order.
func (m *ParsedMessage) AttributeKeys() []string {
	keys := make([]string, 0, len(m.attributes))
	for k := range m.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type parsedMessageJSON struct {
	ID            string            `json:"id"`
	Header        string            `json:"header"`
	CorePredicate string            `json:"corePredicate"`
	Attributes    map[string]string `json:"attributes"`
	Payload       string            `json:"payload"`
	Footer        string            `json:"footer"`
	CanonicalForm string            `json:"canonicalForm"`
	Markers       Markers           `json:"markers"`
}

// MarshalJSON renders the message as a plain record.
func (m *ParsedMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(parsedMessageJSON{
		ID:            m.ID(),
		Header:        m.header,
		CorePredicate: m.corePredicate,
		Attributes:    m.Attributes(),
		Payload:       m.payload,
		Footer:        m.footer,
		CanonicalForm: m.canonical,
		Markers:       m.Markers(),
	})
}

// #endregion parsed-message

// #region markers
// Markers are the semantic annotations derived from a ParsedMessage.
type Markers struct {
	RedundancyLevel        *int     `json:"redundancyLevel,omitempty"`
	SteganographicMode     *string  `json:"steganographicMode,omitempty"`
	HyperLevel             *int     `json:"hyperLevel,omitempty"`
	TechDirectives         []string `json:"techDirectives"`
	HumanDirectives        []string `json:"humanDirectives"`
	SocietalDirectives     []string `json:"societalDirectives"`
	CoordinationDirectives []string `json:"coordinationDirectives"`
}

// #endregion markers

// #region entries
// Entry pairs a raw message with the provenance it was extracted under.
type Entry struct {
	Message    string     `json:"message"`
	Provenance Provenance `json:"provenance"`
}

// Parsed is a successfully parsed batch entry.
type Parsed struct {
	Message    *ParsedMessage `json:"message"`
	Provenance Provenance     `json:"provenance"`
}

// BatchError captures one failed entry without aborting the batch.
type BatchError struct {
	Index      int        `json:"index"`
	Raw        string     `json:"raw"`
	Provenance Provenance `json:"provenance"`
	Err        error      `json:"-"`
}

// MarshalJSON includes the error text.
func (e BatchError) MarshalJSON() ([]byte, error) {
	type alias BatchError
	return json.Marshal(struct {
		alias
		Error string `json:"error"`
	}{alias: alias(e), Error: e.Error()})
}

func (e BatchError) Error() string {
	return fmt.Sprintf("entry %d (%s %s): %v", e.Index, e.Provenance.Source, e.Provenance.ReceiptID, e.Err)
}

func (e BatchError) Unwrap() error { return e.Err }

// BatchResult is the output of ParseBatch.
type BatchResult struct {
	Results []Parsed     `json:"results"`
	Errors  []BatchError `json:"errors"`
}

// #endregion entries
