package constants

import "strings"

type AffiliationType string

const (
	AffiliationExpress     AffiliationType = "express"
	AffiliationJuniorSuite AffiliationType = "junior"
)

var allAffiliations = []AffiliationType{
	AffiliationExpress,
	AffiliationJuniorSuite,
}

func AffiliationsAsStringSlice() []string {
	result := make([]string, len(allAffiliations))
	for i, a := range allAffiliations {
		result[i] = string(a)
	}
	return result
}

// CanonicalizeAffiliation accepts the wire values plus a few spellings users type on the CLI.
func CanonicalizeAffiliation(input string) (AffiliationType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]AffiliationType{
		"junior suite": AffiliationJuniorSuite,
		"junior-suite": AffiliationJuniorSuite,
		"juniorsuite":  AffiliationJuniorSuite,
		"suite":        AffiliationJuniorSuite,
	}
	if a, ok := synonyms[normalized]; ok {
		return a, true
	}

	for _, a := range allAffiliations {
		if normalized == string(a) {
			return a, true
		}
	}
	return "", false
}
