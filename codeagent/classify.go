package codeagent

import "strings"

// Operation identifies which prompt template and output parser a
// code-agent run uses. Derived per request, never stored.
type Operation string

const (
	OpAnalyze  Operation = "analyze"
	OpEdit     Operation = "edit"
	OpCreate   Operation = "create"
	OpRefactor Operation = "refactor"
)

var operationKeywords = []struct {
	op       Operation
	keywords []string
}{
	{OpEdit, []string{"edit", "modify", "fix"}},
	{OpCreate, []string{"create", "new", "add"}},
	{OpRefactor, []string{"refactor", "improve", "optimize"}},
	{OpAnalyze, []string{"analyze", "review"}},
}

// ClassifyOperation picks the operation for a request. An explicit
// caller hint wins; otherwise the first matching keyword in the request
// text decides, defaulting to analyze.
func ClassifyOperation(text, hint string) Operation {
	switch Operation(strings.ToLower(strings.TrimSpace(hint))) {
	case OpAnalyze, OpEdit, OpCreate, OpRefactor:
		return Operation(strings.ToLower(strings.TrimSpace(hint)))
	}
	lowered := strings.ToLower(text)
	for _, entry := range operationKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.op
			}
		}
	}
	return OpAnalyze
}
