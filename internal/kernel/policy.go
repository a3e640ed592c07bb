package kernel

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed policy/*.mg
var policyFS embed.FS

// Built-in rule families, loaded in dependency order. base.mg declares the
// asserted predicates; the rest build on it.
var builtinPolicies = []string{
	"policy/base.mg",
	"policy/progress.mg",
	"policy/game.mg",
	"policy/recommendation.mg",
	"policy/certificate.mg",
	"policy/zpd.mg",
}

func (e *Engine) loadBuiltinPolicies() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range builtinPolicies {
		data, err := policyFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("embedded policy %s: %w", name, err)
		}
		origin := strings.TrimSuffix(baseName(name), ".mg")
		if err := e.loadFragmentLocked(origin, string(data)); err != nil {
			return err
		}
	}
	return e.evalLocked()
}
