package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/plcheck/plcheck"
)

// Policy actions.
const (
	ActionSuppress = "suppress"
	ActionDemote   = "demote"  // error -> warning
	ActionPromote  = "promote" // warning/notice -> error
)

// ErrBadPolicyAction marks a rule with an unsupported action.
var ErrBadPolicyAction = fmt.Errorf(
	"policy action must be %q, %q or %q", ActionSuppress, ActionDemote, ActionPromote)

// PolicyRule is one filter: a boolean expression over a diagnostic plus the
// action applied when it matches.
//
// The expression environment exposes: level (error/warning/...), code,
// category, line, stmt, message.
type PolicyRule struct {
	Name   string `yaml:"name,omitempty"`
	When   string `yaml:"when"`
	Action string `yaml:"action"`

	program *vm.Program
}

// Policy is an ordered rule list applied to collected diagnostics before
// rendering. The first matching rule wins.
type Policy struct {
	Rules []PolicyRule `yaml:"rules"`
}

// LoadPolicyFile reads and compiles a YAML policy.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return LoadPolicy(data)
}

// LoadPolicy parses policy YAML and compiles every rule expression.
func LoadPolicy(data []byte) (*Policy, error) {
	var p Policy

	err := yaml.Unmarshal(data, &p)
	if err != nil {
		return nil, err
	}

	for i := range p.Rules {
		rule := &p.Rules[i]

		switch rule.Action {
		case ActionSuppress, ActionDemote, ActionPromote:
		default:
			return nil, fmt.Errorf("%w: %q", ErrBadPolicyAction, rule.Action)
		}

		program, err := expr.Compile(rule.When, expr.Env(policyEnv(nil)), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile policy rule %q: %w", rule.When, err)
		}

		rule.program = program
	}

	return &p, nil
}

func policyEnv(d *plcheck.Diagnostic) map[string]any {
	if d == nil {
		return map[string]any{
			"level": "", "code": "", "category": "",
			"line": 0, "stmt": "", "message": "",
		}
	}

	return map[string]any{
		"level":    levelString(d),
		"code":     d.Code,
		"category": d.Category.String(),
		"line":     d.Line,
		"stmt":     d.StmtType,
		"message":  d.Message,
	}
}

// Apply filters the report in place and returns it. Rule evaluation errors
// skip the rule for that diagnostic; a policy must never turn a clean run
// into a failure by itself.
func (p *Policy) Apply(r *Report) *Report {
	if p == nil || len(p.Rules) == 0 {
		return r
	}

	kept := r.Diagnostics[:0]

	for i := range r.Diagnostics {
		d := r.Diagnostics[i]

		action, matched := p.match(&d)
		if matched {
			switch action {
			case ActionSuppress:
				continue
			case ActionDemote:
				if d.Severity == plcheck.SeverityError {
					d.Severity = plcheck.SeverityWarning
					d.Category = plcheck.CategoryOthers
				}
			case ActionPromote:
				d.Severity = plcheck.SeverityError
				d.Category = plcheck.CategoryNone
			}
		}

		kept = append(kept, d)
	}

	r.Diagnostics = kept

	return r
}

func (p *Policy) match(d *plcheck.Diagnostic) (string, bool) {
	env := policyEnv(d)

	for i := range p.Rules {
		rule := &p.Rules[i]

		out, err := expr.Run(rule.program, env)
		if err != nil {
			continue
		}

		ok, isBool := out.(bool)
		if isBool && ok {
			return rule.Action, true
		}
	}

	return "", false
}
