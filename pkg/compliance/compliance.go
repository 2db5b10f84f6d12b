// Package compliance evaluates the named admissibility requirements of an
// evidence record as CEL expressions over the record, its ledger, and the
// verification checks available at evaluation time. Rules are fail-closed:
// an expression error yields false, never a silently passing requirement.
package compliance

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cybershield/custody/pkg/contracts"
)

// DefaultRules are the standard checklist requirements. Keys become the
// record's compliance_checklist entries.
var DefaultRules = map[string]string{
	"proper_identification":       `record.case_number != "" && record.collected_by != ""`,
	"chain_of_custody_maintained": `ledger.length >= 1 && ledger.intact`,
	"digital_signature_verified":  `checks.signature_valid`,
	"timestamp_authenticated":     `record.collected_at != ""`,
	"source_verified":             `record.source_platform != ""`,
	"integrity_preserved":         `checks.fingerprint_match`,
	"expert_certificate_ready":    `checks.fingerprint_match && checks.signature_valid && ledger.intact`,
}

// Engine compiles and evaluates checklist rules.
type Engine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	rules    map[string]string
}

// NewEngine creates an Engine with the default rule set.
func NewEngine() (*Engine, error) {
	return NewEngineWithRules(DefaultRules)
}

// NewEngineWithRules creates an Engine with a custom rule set. Rules are
// compiled eagerly so a malformed rule fails at startup, not at collect
// time.
func NewEngineWithRules(rules map[string]string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
		cel.Variable("ledger", cel.DynType),
		cel.Variable("checks", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:      env,
		programs: make(map[string]cel.Program, len(rules)),
		rules:    rules,
	}
	for name, expr := range rules {
		prg, err := e.compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compliance rule %q: %w", name, err)
		}
		e.programs[name] = prg
	}
	return e, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program failed: %w", err)
	}
	return prg, nil
}

// Input is the evaluation context for checklist rules.
type Input struct {
	Record       *contracts.EvidenceRecord
	LedgerLength int
	LedgerIntact bool
	Checks       map[string]bool
}

// Evaluate runs every rule and returns the checklist.
func (e *Engine) Evaluate(in Input) map[string]bool {
	vars := map[string]interface{}{
		"record": map[string]interface{}{
			"case_number":     in.Record.CaseNumber,
			"collected_by":    in.Record.CollectedBy,
			"collected_at":    in.Record.CollectedAt.Format("2006-01-02T15:04:05Z07:00"),
			"source_platform": in.Record.SourcePlatform,
			"evidence_type":   string(in.Record.EvidenceType),
			"status":          string(in.Record.Status),
		},
		"ledger": map[string]interface{}{
			"length": in.LedgerLength,
			"intact": in.LedgerIntact,
		},
		"checks": checksMap(in.Checks),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]bool, len(e.programs))
	for name, prg := range e.programs {
		val, _, err := prg.Eval(vars)
		if err != nil {
			out[name] = false
			continue
		}
		b, ok := val.Value().(bool)
		out[name] = ok && b
	}
	return out
}

// checksMap fills in the standard check names so rules never reference an
// absent key.
func checksMap(checks map[string]bool) map[string]interface{} {
	out := map[string]interface{}{
		"fingerprint_match": false,
		"signature_valid":   false,
		"chain_continuity":  false,
		"file_manifest":     false,
	}
	for k, v := range checks {
		out[k] = v
	}
	return out
}
