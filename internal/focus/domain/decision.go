package domain

// BlockDecision is the outcome of evaluating a request against the rule table.
type BlockDecision struct {
	Blocked bool        `json:"blocked"`
	RuleID  int         `json:"ruleId,omitempty"`
	Host    string      `json:"host,omitempty"` // rule host that matched
	Action  BlockAction `json:"action"`
}

// EmptyDecision returns a not-blocked decision.
func EmptyDecision() BlockDecision { return BlockDecision{Blocked: false} }
