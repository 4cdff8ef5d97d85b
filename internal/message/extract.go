package message

import (
	"regexp"
	"strings"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/receipt"
)

// #region sniff
var (
	knownMarkers = []string{
		"ALIGN-STATUS:", "PROBE:", "AUDIT:",
		AttrRedundancy + ":", AttrSteganographic + ":", AttrHyper + ":",
		DirectiveTech + ":", DirectiveHuman + ":", DirectiveSocietal + ":", DirectiveMolt + ":",
	}
	hexFooter = regexp.MustCompile(`(?:^|[^0-9A-Fa-f])[0-9A-Fa-f]{4}$`)
	keyValue  = regexp.MustCompile(`(?:^|[|\s])[A-Z][A-Z0-9_-]*:\S`)
)

// Sniff is the outcome of the lossy message classifier.
type Sniff struct {
	Segments     int
	KnownMarker  bool
	HexFooter    bool
	KeyValuePair bool
}

// Likely reports the classifier verdict: enough segments and at least one
// structural hint.
func (s Sniff) Likely() bool {
	return s.Segments >= minSegments && (s.KnownMarker || s.HexFooter || s.KeyValuePair)
}

// Confidence is the fraction of the four hints that matched, 0 when the
// segment count alone rules the text out.
func (s Sniff) Confidence() float64 {
	if s.Segments < minSegments {
		return 0
	}
	hits := 1
	for _, ok := range []bool{s.KnownMarker, s.HexFooter, s.KeyValuePair} {
		if ok {
			hits++
		}
	}
	return float64(hits) / 4
}

// SniffText classifies text without parsing it.
func SniffText(text string) Sniff {
	trimmed := strings.TrimSpace(text)
	s := Sniff{Segments: len(strings.Split(trimmed, segmentSep))}
	for _, mk := range knownMarkers {
		if strings.Contains(trimmed, mk) {
			s.KnownMarker = true
			break
		}
	}
	s.HexFooter = hexFooter.MatchString(trimmed)
	s.KeyValuePair = keyValue.MatchString(trimmed)
	return s
}

// IsSophronMessage is a heuristic used only to decide whether to attempt a
// parse. False positives and false negatives are expected.
func IsSophronMessage(text string) bool {
	return SniffText(text).Likely()
}

// #endregion sniff

// #region extract
// ExtractFromReceipts scans tool call args, model output and log lines of
// every receipt and returns the candidate messages in receipt order.
func ExtractFromReceipts(receipts []receipt.Receipt) []Entry {
	var out []Entry
	for _, r := range receipts {
		for _, tc := range r.ToolCalls {
			for _, s := range tc.ArgStrings() {
				if IsSophronMessage(s) {
					out = append(out, Entry{Message: s, Provenance: Provenance{
						Source:       SourceToolCall,
						ReceiptID:    r.ID,
						ToolCallName: tc.Name,
						Timestamp:    r.Timestamp.Time,
					}})
				}
			}
		}
		if r.Output != "" && IsSophronMessage(r.Output) {
			out = append(out, Entry{Message: r.Output, Provenance: Provenance{
				Source:    SourceModelOutput,
				ReceiptID: r.ID,
				Timestamp: r.Timestamp.Time,
			}})
		}
		for _, line := range r.Logs {
			if IsSophronMessage(line) {
				out = append(out, Entry{Message: line, Provenance: Provenance{
					Source:    SourceLog,
					ReceiptID: r.ID,
					Timestamp: r.Timestamp.Time,
				}})
			}
		}
	}
	return out
}

// #endregion extract

// #region parse-batch
// ParseBatch parses every entry independently. A failing entry is recorded in
// Errors and the remaining entries are still parsed.
func ParseBatch(entries []Entry) BatchResult {
	res := BatchResult{Results: []Parsed{}, Errors: []BatchError{}}
	for i, e := range entries {
		msg, err := Parse(e.Message)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Index: i, Raw: e.Message, Provenance: e.Provenance, Err: err})
			continue
		}
		res.Results = append(res.Results, Parsed{Message: msg, Provenance: e.Provenance})
	}
	return res
}

// Messages returns the parsed ASTs in batch order.
func (b BatchResult) Messages() []*ParsedMessage {
	out := make([]*ParsedMessage, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Message
	}
	return out
}

// SourcesFor returns the provenance of every batch result sharing msg's
// identifier.
func (b BatchResult) SourcesFor(msg *ParsedMessage) []Provenance {
	var out []Provenance
	for _, r := range b.Results {
		if r.Message.digest == msg.digest {
			out = append(out, r.Provenance)
		}
	}
	return out
}

// #endregion parse-batch
