package logging

import (
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// NewZerologResultsLogger creates a results logger that creates log messages like the ones we want to send to the customer, but just outputs them to Zerolog.
func NewZerologResultsLogger(logger zerolog.Logger) waf.ResultsLogger {
	return &zerologResultsLogger{logger: logger}
}

type zerologResultsLogger struct {
	logger zerolog.Logger
}

func (l *zerologResultsLogger) RuleTriggered(rec waf.AuditRecord) {
	entry := newCustomerFirewallLogEntry(rec)
	l.logger.Info().
		Str("txid", rec.TransactionID).
		Str("routeId", rec.RouteID).
		Str("mode", string(rec.Mode)).
		Str("ruleName", rec.RuleName).
		Str("action", string(rec.Action)).
		Str("takenAction", entry.Properties.Action).
		Str("uri", rec.URI).
		Array("matches", matchValues(rec.Matches)).
		Msg("Firewall rule triggered")
}

type matchValues []waf.MatchValue

func (m matchValues) MarshalZerologArray(a *zerolog.Array) {
	for _, v := range m {
		a.Dict(zerolog.Dict().
			Str("variable", string(v.Variable)).
			Str("operator", string(v.Operator)).
			Str("value", v.Value))
	}
}
