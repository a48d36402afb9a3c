package reconcile

import (
	"strings"

	"github.com/joseph-ayodele/batchwatch/constants"
)

// Rule maps free-text markers (and optionally a structured level name) to a severity.
//
// Server logs are informal "[HH:MM:SS] message" lines decorated with emoji; severity is
// guessed from substrings. Rules are evaluated in order and the first match wins, so
// precedence is expressed by table position only.
type Rule struct {
	Severity constants.Severity
	Markers  []string
	Levels   []string
}

// DefaultRules is success > error > warning; anything else is info.
var DefaultRules = []Rule{
	{Severity: constants.SeveritySuccess, Markers: []string{"✅", "ÉXITO"}, Levels: []string{"success"}},
	{Severity: constants.SeverityError, Markers: []string{"❌", "ERROR"}, Levels: []string{"error", "critical"}},
	{Severity: constants.SeverityWarning, Markers: []string{"⚠️", "WARNING"}, Levels: []string{"warning", "warn"}},
}

// Classifier picks a severity for a cleaned log message.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify matches message against the marker table.
func (c *Classifier) Classify(message string) constants.Severity {
	for _, r := range c.rules {
		for _, m := range r.Markers {
			if strings.Contains(message, m) {
				return r.Severity
			}
		}
	}
	return constants.SeverityInfo
}

// ClassifyLevel maps an explicit level field when a backend provides one, falling back
// to the marker heuristic when the level is empty or unknown.
func (c *Classifier) ClassifyLevel(level, message string) constants.Severity {
	level = strings.ToLower(strings.TrimSpace(level))
	if level != "" {
		for _, r := range c.rules {
			for _, l := range r.Levels {
				if level == l {
					return r.Severity
				}
			}
		}
		if level == "info" || level == "debug" {
			return constants.SeverityInfo
		}
	}
	return c.Classify(message)
}
