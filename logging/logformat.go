package logging

import (
	"fmt"

	"proxywaf/waf"
)

const (
	firewallOperationName = "ProxyFirewall"
	firewallLogCategory   = "ProxyFirewallLog"
)

type customerFirewallLogEntry struct {
	OperationName string                           `json:"operationName"`
	Category      string                           `json:"category"`
	Properties    customerFirewallLogEntryProperty `json:"properties"`
}

type customerFirewallLogEntryProperty struct {
	RouteID       string                            `json:"routeId"`
	Mode          string                            `json:"mode"`
	RuleName      string                            `json:"ruleName"`
	Action        string                            `json:"action"`
	Message       string                            `json:"message"`
	RequestURI    string                            `json:"requestUri"`
	TransactionID string                            `json:"transactionId"`
	Details       []customerFirewallLogDetailsEntry `json:"details"`
}

type customerFirewallLogDetailsEntry struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// takenAction describes what the firewall did about the request, as the customer sees it.
func takenAction(rec waf.AuditRecord) string {
	if rec.Mode == waf.Detection {
		return "Detected"
	}

	switch rec.Action {
	case waf.Block:
		return "Blocked"
	case waf.Redirect:
		return "Redirected"
	case waf.Allow:
		return "Allowed"
	}
	return "Logged"
}

func newCustomerFirewallLogEntry(rec waf.AuditRecord) *customerFirewallLogEntry {
	details := make([]customerFirewallLogDetailsEntry, 0, len(rec.Matches))
	for _, m := range rec.Matches {
		details = append(details, customerFirewallLogDetailsEntry{
			Variable: string(m.Variable),
			Operator: string(m.Operator),
			Value:    m.Value,
		})
	}

	return &customerFirewallLogEntry{
		OperationName: firewallOperationName,
		Category:      firewallLogCategory,
		Properties: customerFirewallLogEntryProperty{
			RouteID:       rec.RouteID,
			Mode:          string(rec.Mode),
			RuleName:      rec.RuleName,
			Action:        takenAction(rec),
			Message:       fmt.Sprintf("Rule %s matched with action %s", rec.RuleName, rec.Action),
			RequestURI:    rec.URI,
			TransactionID: rec.TransactionID,
			Details:       details,
		},
	}
}
