// Package sniffer assigns semantic fields to statement columns. Header
// detection is best-effort keyword matching; explicit user choices always
// win and a required field with no plausible header is a validation error
// surfaced before any row is processed.
package sniffer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Field names a semantic column of the import pipeline.
type Field string

const (
	FieldDate        Field = "date"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldEnvelope    Field = "envelope"
)

// Mapping assigns each semantic field the header text it maps to.
// An empty value means unmapped. Envelope is optional.
type Mapping struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Envelope    string `json:"envelope,omitempty"`
}

// Indexes is a Mapping resolved to 0-based column positions. Envelope is -1
// when the file carries no envelope column.
type Indexes struct {
	Date        int
	Description int
	Amount      int
	Envelope    int
}

// Header keyword substrings, multi-language (Portuguese first).
var fieldKeywords = map[Field][]string{
	FieldDate:        {"data", "date"},
	FieldDescription: {"desc"},
	FieldAmount:      {"valor", "amount"},
	FieldEnvelope:    {"categoria", "category", "envelope", "categ"},
}

// detectionOrder keeps suggestions deterministic when one header could match
// several fields.
var detectionOrder = []Field{FieldDate, FieldDescription, FieldAmount, FieldEnvelope}

type matcherEntry struct {
	field Field
}

var (
	keywordMatcher *ahocorasick.Matcher
	keywordEntries []matcherEntry
)

func init() {
	patterns := make([][]byte, 0, 8)
	for _, field := range detectionOrder {
		for _, kw := range fieldKeywords[field] {
			patterns = append(patterns, []byte(kw))
			keywordEntries = append(keywordEntries, matcherEntry{field: field})
		}
	}
	keywordMatcher = ahocorasick.NewMatcher(patterns)
}

// SuggestColumns auto-detects a field assignment from the header row. Fields
// with no plausible header stay empty; nothing is ever fabricated.
func SuggestColumns(headers []string) Mapping {
	assigned := map[Field]string{}

	for _, header := range headers {
		lower := strings.ToLower(strings.TrimSpace(header))
		if lower == "" {
			continue
		}

		hits := keywordMatcher.Match([]byte(lower))
		if len(hits) == 0 {
			continue
		}

		sort.Ints(hits)
		for _, idx := range hits {
			field := keywordEntries[idx].field
			if _, taken := assigned[field]; !taken {
				assigned[field] = header
				break
			}
		}
	}

	return Mapping{
		Date:        assigned[FieldDate],
		Description: assigned[FieldDescription],
		Amount:      assigned[FieldAmount],
		Envelope:    assigned[FieldEnvelope],
	}
}

// ResolveMapping merges an explicit user mapping with auto-detection.
// User-supplied values win; detection only fills fields the user left
// unspecified. Missing required fields or user headers absent from the file
// are reported before processing starts.
func ResolveMapping(headers []string, user Mapping) (Mapping, error) {
	suggested := SuggestColumns(headers)

	resolved := user
	if resolved.Date == "" {
		resolved.Date = suggested.Date
	}
	if resolved.Description == "" {
		resolved.Description = suggested.Description
	}
	if resolved.Amount == "" {
		resolved.Amount = suggested.Amount
	}
	if resolved.Envelope == "" {
		resolved.Envelope = suggested.Envelope
	}

	var missing []string
	if resolved.Date == "" {
		missing = append(missing, string(FieldDate))
	}
	if resolved.Description == "" {
		missing = append(missing, string(FieldDescription))
	}
	if resolved.Amount == "" {
		missing = append(missing, string(FieldAmount))
	}
	if len(missing) > 0 {
		return Mapping{}, fmt.Errorf("no column mapped for required fields: %s", strings.Join(missing, ", "))
	}

	if _, err := resolved.Resolve(headers); err != nil {
		return Mapping{}, err
	}

	return resolved, nil
}

// Resolve locates each mapped header in the header row, case preserved.
func (m Mapping) Resolve(headers []string) (Indexes, error) {
	idx := Indexes{Date: -1, Description: -1, Amount: -1, Envelope: -1}

	find := func(header string) int {
		for i, h := range headers {
			if h == header {
				return i
			}
		}
		return -1
	}

	type binding struct {
		field  Field
		header string
		target *int
	}
	bindings := []binding{
		{FieldDate, m.Date, &idx.Date},
		{FieldDescription, m.Description, &idx.Description},
		{FieldAmount, m.Amount, &idx.Amount},
		{FieldEnvelope, m.Envelope, &idx.Envelope},
	}

	for _, b := range bindings {
		if b.header == "" {
			continue
		}
		pos := find(b.header)
		if pos < 0 {
			return idx, fmt.Errorf("column %q mapped to field %s not found in file headers", b.header, b.field)
		}
		*b.target = pos
	}

	return idx, nil
}
