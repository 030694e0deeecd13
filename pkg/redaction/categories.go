package redaction

import (
	"fmt"
	"sort"
	"strings"
)

// UI category codes, as offered in the entity type filter.
const (
	CategoryEmail      = "email"
	CategoryPhone      = "phone"
	CategoryAadhaar    = "aadhaar"
	CategoryPAN        = "pan"
	CategoryCreditCard = "credit_card"
	CategorySSN        = "ssn"
	CategoryIP         = "ip"
	CategoryPerson     = "person"
	CategoryOrg        = "org"
	CategoryDate       = "date"
)

// uiCategories keeps the filter's presentation order.
var uiCategories = []string{
	CategoryEmail, CategoryPhone, CategoryAadhaar, CategoryPAN, CategoryCreditCard,
	CategorySSN, CategoryIP, CategoryPerson, CategoryOrg, CategoryDate,
}

// analyzerCodes maps UI category codes to the codes the Analysis Service accepts.
var analyzerCodes = map[string]string{
	CategoryEmail:      "EMAIL",
	CategoryPhone:      "PHONE",
	CategoryAadhaar:    "AADHAAR",
	CategoryPAN:        "PAN",
	CategoryCreditCard: "CREDIT_CARD",
	CategorySSN:        "SSN",
	CategoryIP:         "IP",
	CategoryPerson:     "NAME",
	CategoryOrg:        "ORG",
	CategoryDate:       "DATE",
}

// displayLabels maps analyzer codes to presentation labels.
var displayLabels = map[string]string{
	"EMAIL":       "Email",
	"PHONE":       "Phone",
	"AADHAAR":     "Aadhaar",
	"PAN":         "PAN",
	"CREDIT_CARD": "Credit Card",
	"SSN":         "SSN",
	"NAME":        "Person",
	"ORG":         "Organization",
	"LOCATION":    "Location",
	"IP":          "IP Address",
	"DATE":        "Date",
}

// DisplayLabel translates an analyzer code for presentation. Unknown codes
// are returned unchanged.
func DisplayLabel(code string) string {
	if label, ok := displayLabels[code]; ok {
		return label
	}
	return code
}

// AnalyzerCode translates a UI category code. ok is false for unknown codes.
func AnalyzerCode(uiCode string) (code string, ok bool) {
	code, ok = analyzerCodes[uiCode]
	return code, ok
}

// AllCategories returns every UI category code in presentation order.
func AllCategories() []string {
	out := make([]string, len(uiCategories))
	copy(out, uiCategories)
	return out
}

// EntityTypeFilter is the set of UI categories the user wants scanned.
// The zero value is an empty filter, which leaves the choice to the analyzer.
type EntityTypeFilter struct {
	set map[string]struct{}
}

// NewEntityTypeFilter builds a filter from UI category codes. Duplicates are
// collapsed; unknown codes are rejected.
func NewEntityTypeFilter(codes ...string) (EntityTypeFilter, error) {
	f := EntityTypeFilter{set: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := analyzerCodes[c]; !ok {
			return EntityTypeFilter{}, fmt.Errorf("unknown entity type %q (valid: %s)", c, strings.Join(uiCategories, ", "))
		}
		f.set[c] = struct{}{}
	}
	return f, nil
}

// AllEnabled returns the default filter with every category enabled.
func AllEnabled() EntityTypeFilter {
	f, _ := NewEntityTypeFilter(uiCategories...)
	return f
}

// ParseEntityTypeFilter parses a comma-separated list of UI codes. "all" or
// an empty string yields AllEnabled.
func ParseEntityTypeFilter(s string) (EntityTypeFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllEnabled(), nil
	}
	return NewEntityTypeFilter(strings.Split(s, ",")...)
}

// Len returns the number of enabled categories.
func (f EntityTypeFilter) Len() int {
	return len(f.set)
}

// IsEmpty reports whether no category is enabled.
func (f EntityTypeFilter) IsEmpty() bool {
	return len(f.set) == 0
}

// Contains reports whether the UI category is enabled.
func (f EntityTypeFilter) Contains(uiCode string) bool {
	_, ok := f.set[uiCode]
	return ok
}

// Codes returns the enabled UI codes in presentation order.
func (f EntityTypeFilter) Codes() []string {
	out := make([]string, 0, len(f.set))
	for _, c := range uiCategories {
		if _, ok := f.set[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AnalyzerCodes returns the enabled categories translated to analyzer codes,
// in presentation order.
func (f EntityTypeFilter) AnalyzerCodes() []string {
	codes := f.Codes()
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, analyzerCodes[c])
	}
	return out
}

// EnabledTypesField renders the multipart enabled_types value. ok is false
// when the filter is empty and the field must be omitted.
func (f EntityTypeFilter) EnabledTypesField() (value string, ok bool) {
	if f.IsEmpty() {
		return "", false
	}
	return strings.Join(f.AnalyzerCodes(), ","), true
}

// CountByCategory tallies entities per analyzer code.
func CountByCategory(entities []PIIEntity) map[string]int {
	counts := make(map[string]int)
	for _, e := range entities {
		counts[e.Category]++
	}
	return counts
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
