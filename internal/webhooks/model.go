package webhooks

import "time"

// Event types dispatched by the system.
const (
	EventTokenIssued     = "token.issued"
	EventTokenRejected   = "token.rejected"
	EventLedgerDegraded  = "ledger.degraded"
	EventLedgerRecovered = "ledger.recovered"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-EcoChain-Signature"

// Subscription is one configured receiver. An empty Events list receives
// every event.
type Subscription struct {
	URL    string   `mapstructure:"url"    json:"url"`
	Events []string `mapstructure:"events" json:"events"`
	Secret string   `mapstructure:"secret" json:"-"`
}

func (s Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// Event is the body POSTed to each matching subscription.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
