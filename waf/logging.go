package waf

// MatchValue is one piece of evidence explaining why a condition matched.
type MatchValue struct {
	Variable MatchVariable `json:"variable"`
	Operator Operator      `json:"operator"`
	Value    string        `json:"value"`
}

// AuditRecord describes a rule that matched a request.
type AuditRecord struct {
	RouteID       string
	Mode          Mode
	RuleName      string
	Action        Action
	Matches       []MatchValue
	TransactionID string
	URI           string
}

// ResultsLogger is where the WAF writes high level customer facing results.
type ResultsLogger interface {
	RuleTriggered(record AuditRecord)
}
