package message

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// #region constants
const (
	minSegments = 5
	idLength    = 16

	segmentSep   = "|"
	canonicalSep = "||"
)

// Attribute keys with marker meaning.
const (
	AttrRedundancy     = "RED"
	AttrSteganographic = "STG"
	AttrHyper          = "HYP"
)

// Payload directive families. Only these open the payload section.
const (
	DirectiveTech     = "TECH"
	DirectiveHuman    = "HUMAN"
	DirectiveSocietal = "SOC"
	DirectiveMolt     = "MOLT"
)

var payloadMarkers = map[string]bool{
	DirectiveTech:     true,
	DirectiveHuman:    true,
	DirectiveSocietal: true,
	DirectiveMolt:     true,
}

var keyedSegment = regexp.MustCompile(`^([A-Z][A-Z0-9_-]*):`)

// #endregion constants

// #region errors
// ErrTooFewSegments is wrapped by FormatError when a message has fewer than
// five pipe-delimited segments.
var ErrTooFewSegments = errors.New("too few segments")

// ErrMalformedAttribute is wrapped by FormatError for attribute segments that
// carry a colon but no key.
var ErrMalformedAttribute = errors.New("malformed attribute")

// FormatError reports why a single message could not be parsed.
type FormatError struct {
	Segments int
	Detail   string
	Err      error
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("format error: %v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("format error: %v (%d segments)", e.Err, e.Segments)
}

func (e *FormatError) Unwrap() error { return e.Err }

// #endregion errors

// #region parse
// Parse splits a raw message into its AST. Unknown attribute keys and
// directive families pass through untouched.
func Parse(raw string) (*ParsedMessage, error) {
	parts := strings.Split(raw, segmentSep)
	segments := make([]string, len(parts))
	for i, p := range parts {
		segments[i] = strings.TrimSpace(p)
	}
	if len(segments) < minSegments {
		return nil, &FormatError{Segments: len(segments), Err: ErrTooFewSegments}
	}

	last := len(segments) - 1
	msg := &ParsedMessage{
		raw:           raw,
		header:        segments[0],
		corePredicate: segments[1],
		footer:        segments[last],
		attributes:    make(map[string]string),
	}

	payloadStart := -1
	for i := 2; i < last; i++ {
		if m := keyedSegment.FindStringSubmatch(segments[i]); m != nil && payloadMarkers[m[1]] {
			payloadStart = i
			break
		}
	}

	var attrSegments []string
	if payloadStart >= 0 {
		attrSegments = segments[2:payloadStart]
		msg.payload = strings.Join(segments[payloadStart:last], segmentSep)
	} else {
		attrSegments = segments[2 : last-1]
		msg.payload = segments[last-1]
	}

	for _, seg := range attrSegments {
		idx := strings.Index(seg, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(seg[:idx])
		if key == "" {
			return nil, &FormatError{Segments: len(segments), Detail: fmt.Sprintf("segment %q has no key", seg), Err: ErrMalformedAttribute}
		}
		// values may contain further colons; only the first one separates
		msg.attributes[key] = strings.TrimSpace(seg[idx+1:])
	}

	msg.canonical = canonicalize(msg)
	sum := sha256.Sum256([]byte(msg.canonical))
	msg.digest = hex.EncodeToString(sum[:])
	return msg, nil
}

// canonicalize builds the attribute-order-independent serialization. The
// attribute field is always present so the arity stays at five.
func canonicalize(m *ParsedMessage) string {
	keys := make([]string, 0, len(m.attributes))
	for k := range m.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + ":" + m.attributes[k]
	}
	return strings.Join([]string{
		strings.TrimSpace(m.header),
		strings.TrimSpace(m.corePredicate),
		strings.Join(pairs, segmentSep),
		strings.TrimSpace(m.payload),
		strings.TrimSpace(m.footer),
	}, canonicalSep)
}

// #endregion parse

// #region markers
// Markers derives the semantic markers of m. Non-numeric RED or HYP values
// leave the corresponding level unset.
func (m *ParsedMessage) Markers() Markers {
	var mk Markers
	if v, ok := m.attributes[AttrRedundancy]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			mk.RedundancyLevel = &n
		}
	}
	if v, ok := m.attributes[AttrSteganographic]; ok {
		s := v
		mk.SteganographicMode = &s
	}
	if v, ok := m.attributes[AttrHyper]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			mk.HyperLevel = &n
		}
	}
	mk.TechDirectives = directives(m.payload, DirectiveTech)
	mk.HumanDirectives = directives(m.payload, DirectiveHuman)
	mk.SocietalDirectives = directives(m.payload, DirectiveSocietal)
	mk.CoordinationDirectives = directives(m.payload, DirectiveMolt)
	return mk
}

var directivePatterns = map[string]*regexp.Regexp{
	DirectiveTech:     directivePattern(DirectiveTech),
	DirectiveHuman:    directivePattern(DirectiveHuman),
	DirectiveSocietal: directivePattern(DirectiveSocietal),
	DirectiveMolt:     directivePattern(DirectiveMolt),
}

func directivePattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[|\s])` + key + `:([^|]*)`)
}

// directives extracts KEY:a+b+c values from payload in order of appearance.
func directives(payload, key string) []string {
	out := []string{}
	for _, match := range directivePatterns[key].FindAllStringSubmatch(payload, -1) {
		for _, v := range strings.Split(match[1], "+") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// #endregion markers

// #region redundancy
// ValidateRedundancy reports whether the distinct sources meet the message's
// RED level. Messages without a RED level are trivially valid.
func (m *ParsedMessage) ValidateRedundancy(sources []Provenance) bool {
	level := m.Markers().RedundancyLevel
	if level == nil {
		return true
	}
	distinct := make(map[provenanceKey]struct{}, len(sources))
	for _, s := range sources {
		distinct[s.key()] = struct{}{}
	}
	return len(distinct) >= *level
}

// ValidateCrossMessageRedundancy groups messages by identifier and reports
// whether any group of at least requiredLevel members carries at least
// requiredLevel distinct raw strings.
func ValidateCrossMessageRedundancy(msgs []*ParsedMessage, requiredLevel int) bool {
	groups := make(map[string][]*ParsedMessage)
	var order []string
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, seen := groups[m.digest]; !seen {
			order = append(order, m.digest)
		}
		groups[m.digest] = append(groups[m.digest], m)
	}
	for _, digest := range order {
		group := groups[digest]
		if len(group) < requiredLevel {
			continue
		}
		raws := make(map[string]struct{}, len(group))
		for _, m := range group {
			raws[m.raw] = struct{}{}
		}
		if len(raws) >= requiredLevel {
			return true
		}
	}
	return false
}

// #endregion redundancy
