package authz

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"clearpath-hq/gatekeeper/pkg/rule"
)

// celEvaluator compiles and evaluates CEL rule expressions against binary
// identity attributes. Compiled programs are cached per expression; a rule
// update replaces the expression and therefore the cache key.
//
// Expressions see a single `target` map:
//
//	target.sha256, target.cdhash, target.signing_id, target.team_id,
//	target.cert_sha256, target.is_platform_binary
//
// and must produce either a boolean (true = allow) or one of the policy
// strings "ALLOWLIST" / "BLOCKLIST".
type celEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel environment: %w", err)
	}
	return &celEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// program returns the compiled program for expression, compiling and
// caching it on first use.
func (c *celEvaluator) program(ruleIdentifier, expression string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := c.env.Compile(expression)
	if iss.Err() != nil {
		return nil, &CELError{RuleIdentifier: ruleIdentifier, Expression: expression, Cause: iss.Err()}
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, &CELError{RuleIdentifier: ruleIdentifier, Expression: expression, Cause: err}
	}

	c.mu.Lock()
	c.programs[expression] = prg
	c.mu.Unlock()
	return prg, nil
}

// evaluate runs the rule's expression against the identity and returns
// whether execution is allowed. Any compile or evaluation failure is
// returned as a CELError; the caller fails closed.
func (c *celEvaluator) evaluate(r *rule.Rule, identity *rule.BinaryIdentity) (bool, error) {
	prg, err := c.program(r.Identifier, r.CELExpression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"target": map[string]any{
			"sha256":             identity.ContentHash,
			"cdhash":             identity.CodeDirectoryHash,
			"signing_id":         identity.SigningID,
			"team_id":            identity.TeamID,
			"cert_sha256":        identity.CertificateHash,
			"is_platform_binary": identity.IsPlatformBinary,
		},
	})
	if err != nil {
		return false, &CELError{RuleIdentifier: r.Identifier, Expression: r.CELExpression, Cause: err}
	}

	switch v := out.Value().(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToUpper(v) {
		case "ALLOWLIST":
			return true, nil
		case "BLOCKLIST":
			return false, nil
		}
		return false, &CELError{
			RuleIdentifier: r.Identifier,
			Expression:     r.CELExpression,
			Cause:          fmt.Errorf("unexpected result %q", v),
		}
	default:
		return false, &CELError{
			RuleIdentifier: r.Identifier,
			Expression:     r.CELExpression,
			Cause:          fmt.Errorf("unexpected result type %T", out.Value()),
		}
	}
}
