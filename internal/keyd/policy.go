package keyd

import (
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

// PolicyEngine evaluates signing requests against an ordered rule
// list; first match wins, mirroring the routines package's
// first-match validation style.
type PolicyEngine struct {
	rules []domain.PolicyRule
}

func NewPolicyEngine(rules []domain.PolicyRule) *PolicyEngine {
	return &PolicyEngine{rules: rules}
}

func (p *PolicyEngine) SetRules(rules []domain.PolicyRule) {
	p.rules = rules
}

// Evaluate checks opAmountUSD (a fixed-point decimal string, "" if
// not applicable) and destination against each rule in order. A rule
// matches if its destination allowlist (when set) contains dest. The
// first matching rule's caps are enforced against the running day
// counter; subsequent rules are not considered.
func (p *PolicyEngine) Evaluate(dest string, opAmountUSD string, counter domain.DayCounter) error {
	if len(p.rules) == 0 {
		return nil
	}

	for _, rule := range p.rules {
		if !destinationMatches(rule, dest) {
			continue
		}

		if rule.PerOpCapUSD != "" {
			exceeds, err := exceedsFixed(opAmountUSD, rule.PerOpCapUSD)
			if err != nil {
				return err
			}
			if exceeds {
				return domain.ErrPolicyDenied
			}
		}

		if rule.DailyCapUSD != "" {
			projected, err := addFixed(counter.SpentFixed, opAmountUSD)
			if err != nil {
				return err
			}
			exceeds, err := exceedsFixed(projected, rule.DailyCapUSD)
			if err != nil {
				return err
			}
			if exceeds {
				return domain.ErrPolicyDenied
			}
		}

		return nil
	}

	// No rule matched this destination: deny by default when any
	// rule declares an allowlist, otherwise allow unrestricted ops.
	if anyRuleHasAllowlist(p.rules) {
		return domain.ErrDestinationDenied
	}
	return nil
}

func destinationMatches(rule domain.PolicyRule, dest string) bool {
	if len(rule.AllowedDestinations) == 0 {
		return true
	}
	for _, d := range rule.AllowedDestinations {
		if d == dest {
			return true
		}
	}
	return false
}

func anyRuleHasAllowlist(rules []domain.PolicyRule) bool {
	for _, r := range rules {
		if len(r.AllowedDestinations) > 0 {
			return true
		}
	}
	return false
}

// CurrentDay returns today's UTC date in YYYY-MM-DD form, the
// rollover boundary spec.md specifies for daily counters.
func CurrentDay() string {
	return time.Now().UTC().Format("2006-01-02")
}
