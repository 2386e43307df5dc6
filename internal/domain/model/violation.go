package model

// Severity grades a sanity violation or a fallback condition.
type Severity string

// Severities in increasing order.
const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Violation is a logical inconsistency between a candidate update and the
// current state. Violations are produced, never stored.
type Violation struct {
	Field    FieldType `json:"field"`
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// MaxSeverity returns the worst severity in vs, or "" when vs is empty.
func MaxSeverity(vs []Violation) Severity {
	var worst Severity
	for _, v := range vs {
		if v.Severity.Rank() > worst.Rank() {
			worst = v.Severity
		}
	}
	return worst
}
