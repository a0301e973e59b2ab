package engine

import "blogauthz/internal/domain"

// PolicyDocument is the IAM-style representation of a decision, consumed by
// gateways that enforce policy documents rather than booleans.
type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement grants or denies a set of actions on a set of resources.
type Statement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

const (
	policyVersion = "2012-10-17"
	invokeAction  = "execute-api:Invoke"

	// EffectAllow and EffectDeny are the two policy statement effects.
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// PolicyFor renders a decision as a single-statement policy document for
// the given method ARN.
func PolicyFor(d domain.AuthDecision, methodARN string) PolicyDocument {
	effect := EffectDeny
	if d.Allow {
		effect = EffectAllow
	}
	return PolicyDocument{
		Version: policyVersion,
		Statement: []Statement{
			{
				Effect:   effect,
				Action:   []string{invokeAction},
				Resource: []string{methodARN},
			},
		},
	}
}
