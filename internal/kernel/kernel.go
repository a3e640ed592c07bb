// Package kernel provides the structured fact store and rule evaluator
// backing the mission policy engine. It wraps the Google Mangle engine:
// facts are typed atoms keyed by an id registry, rules are Datalog clauses,
// and queries return variable bindings plus loose provenance.
package kernel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
	"github.com/google/uuid"

	"github.com/thoretheking/Junosixteen-sub001/internal/logging"
)

// Config holds kernel configuration.
type Config struct {
	FactLimit    int           `yaml:"fact_limit"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	AutoEval     bool          `yaml:"auto_eval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit:    100000,
		QueryTimeout: 5 * time.Second,
		AutoEval:     true,
	}
}

// Fact is a single fact in the policy knowledge base. ID makes insertion
// idempotent: asserting the same ID twice is a no-op.
type Fact struct {
	ID        string        `json:"id"`
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	var args []string
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%f", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// Rule is a named Datalog clause (or set of clauses) in Mangle notation.
type Rule struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// QueryResult is the outcome of a query. A failed evaluation yields
// Success=false with empty slices; Query never returns an error.
type QueryResult struct {
	Success      bool                     `json:"success"`
	Bindings     []map[string]interface{} `json:"bindings"`
	FactsUsed    []string                 `json:"facts_used"`
	RulesApplied []string                 `json:"rules_applied"`
	Duration     time.Duration            `json:"duration"`
}

// Stats contains fact store statistics.
type Stats struct {
	TotalFacts      int            `json:"total_facts"`
	RuleCount       int            `json:"rule_count"`
	PredicateCounts map[string]int `json:"predicate_counts"`
}

type fragment struct {
	origin string
	unit   parse.SourceUnit
}

type ruleEntry struct {
	id     string
	head   string
	origin string
}

// Engine is the policy kernel. All methods are safe for concurrent use.
type Engine struct {
	config Config

	mu              sync.RWMutex
	store           factstore.ConcurrentFactStore
	baseStore       factstore.FactStoreWithRemove
	programInfo     *analysis.ProgramInfo
	queryContext    *mengine.QueryContext
	predicateIndex  map[string]ast.PredicateSym
	fragments       []fragment
	ruleEntries     []ruleEntry
	factPreds       map[string]string   // fact id -> predicate
	factAtoms       map[string]ast.Atom // fact id -> stored atom
	factsByPred     map[string][]string // predicate -> fact ids, insertion order
	factCount       int
	factLimitWarned bool
	autoEval        bool
}

// NewEngine creates a kernel with the built-in policy rule families loaded.
func NewEngine(cfg Config) (*Engine, error) {
	baseStore := factstore.NewSimpleInMemoryStore()
	e := &Engine{
		config:         cfg,
		baseStore:      baseStore,
		store:          factstore.NewConcurrentFactStore(baseStore),
		predicateIndex: make(map[string]ast.PredicateSym),
		factPreds:      make(map[string]string),
		factAtoms:      make(map[string]ast.Atom),
		factsByPred:    make(map[string][]string),
		autoEval:       cfg.AutoEval,
	}

	if err := e.loadBuiltinPolicies(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadPolicyString parses and installs Mangle source under the given origin
// label. Origin shows up in RulesApplied provenance.
func (e *Engine) LoadPolicyString(origin, src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadFragmentLocked(origin, src); err != nil {
		return err
	}
	return e.evalLocked()
}

// evalLocked runs the rules against the current store when auto-eval is on.
// This also seeds ground facts declared inside the policy files.
func (e *Engine) evalLocked() error {
	if !e.autoEval || e.programInfo == nil {
		return nil
	}
	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

// LoadPolicyFile reads a .mg file and installs it.
func (e *Engine) LoadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	origin := strings.TrimSuffix(baseName(path), ".mg")
	return e.LoadPolicyString(origin, string(data))
}

func baseName(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	return path[idx+1:]
}

// loadFragmentLocked installs (or replaces, keyed by origin) a policy
// fragment. A fragment that fails analysis is rolled back so a bad policy
// cannot wedge the kernel.
func (e *Engine) loadFragmentLocked(origin, src string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", origin, err)
	}

	entries := e.ruleEntriesFor(origin, unit)

	oldFragments := e.fragments
	replaced := false
	fragments := make([]fragment, 0, len(e.fragments)+1)
	for _, f := range e.fragments {
		if f.origin == origin {
			replaced = true
			continue
		}
		fragments = append(fragments, f)
	}
	e.fragments = append(fragments, fragment{origin: origin, unit: unit})

	if err := e.rebuildProgramLocked(); err != nil {
		e.fragments = oldFragments
		if rerr := e.rebuildProgramLocked(); rerr != nil && len(e.fragments) > 0 {
			logging.KernelError("rebuild after rollback failed: %v", rerr)
		}
		return fmt.Errorf("failed to analyze policy %s: %w", origin, err)
	}

	if replaced {
		kept := e.ruleEntries[:0]
		for _, entry := range e.ruleEntries {
			if entry.origin != origin {
				kept = append(kept, entry)
			}
		}
		e.ruleEntries = kept
		// Conclusions of the replaced clauses are stale; evaluation only
		// adds, so start over from the asserted facts.
		e.rebuildStoreLocked()
	}
	e.ruleEntries = append(e.ruleEntries, entries...)
	return nil
}

// rebuildStoreLocked resets the store to the asserted facts only. The next
// evaluation re-derives conclusions and reseeds ground policy facts.
func (e *Engine) rebuildStoreLocked() {
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
	for _, atom := range e.factAtoms {
		e.store.Add(atom)
	}
}

// ruleEntriesFor assigns stable ids to the non-ground clauses of a unit.
func (e *Engine) ruleEntriesFor(origin string, unit parse.SourceUnit) []ruleEntry {
	var entries []ruleEntry
	perHead := make(map[string]int)
	for _, clause := range unit.Clauses {
		if len(clause.Premises) == 0 {
			continue // ground fact
		}
		head := clause.Head.Predicate.Symbol
		id := fmt.Sprintf("%s:%s", origin, head)
		if n := perHead[head]; n > 0 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		perHead[head]++
		entries = append(entries, ruleEntry{id: id, head: head, origin: origin})
	}
	return entries
}

// rebuildProgramLocked re-analyzes all fragments and refreshes indexes.
func (e *Engine) rebuildProgramLocked() error {
	if len(e.fragments) == 0 {
		return fmt.Errorf("no policies loaded")
	}

	var clauses []ast.Clause
	var decls []ast.Decl
	for _, frag := range e.fragments {
		clauses = append(clauses, frag.unit.Clauses...)
		decls = append(decls, frag.unit.Decls...)
	}

	unit := parse.SourceUnit{Clauses: clauses, Decls: decls}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return err
	}

	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))

	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls))
	for sym, decl := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// AddRule installs a user-supplied rule. A missing ID gets a generated one.
// Returns the rule's id.
func (e *Engine) AddRule(rule Rule) (string, error) {
	if strings.TrimSpace(rule.Source) == "" {
		return "", fmt.Errorf("rule source is empty")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	origin := "rule:" + rule.ID
	if err := e.loadFragmentLocked(origin, rule.Source); err != nil {
		return "", err
	}

	// User rules surface under their own id, not the generated per-head ids.
	for i := range e.ruleEntries {
		if e.ruleEntries[i].origin == origin {
			e.ruleEntries[i].id = rule.ID
		}
	}

	if err := e.evalLocked(); err != nil {
		return "", fmt.Errorf("failed to evaluate after rule %s: %w", rule.ID, err)
	}
	return rule.ID, nil
}

// AddFact inserts a fact. Returns false when the id is already registered.
// A missing ID gets a generated one.
func (e *Engine) AddFact(fact Fact) (bool, error) {
	inserted, err := e.AddFacts([]Fact{fact})
	if err != nil {
		return false, err
	}
	return inserted == 1, nil
}

// AddFacts inserts multiple facts (batched, single evaluation pass).
// Returns the number of newly inserted facts.
func (e *Engine) AddFacts(facts []Fact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return 0, fmt.Errorf("no policies loaded")
	}

	inserted := 0
	for _, fact := range facts {
		ok, err := e.insertFactLocked(fact)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}

	if inserted > 0 && e.autoEval {
		if _, err := mengine.EvalProgramWithStats(e.programInfo, e.store); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (e *Engine) insertFactLocked(fact Fact) (bool, error) {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if _, seen := e.factPreds[fact.ID]; seen {
		logging.KernelDebug("fact %s already present, skipping", fact.ID)
		return false, nil
	}

	if e.config.FactLimit > 0 && e.factCount >= e.config.FactLimit {
		return false, fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
	}

	atom, err := e.factToAtomLocked(fact)
	if err != nil {
		return false, err
	}

	e.store.Add(atom)
	e.factPreds[fact.ID] = fact.Predicate
	e.factAtoms[fact.ID] = atom
	e.factsByPred[fact.Predicate] = append(e.factsByPred[fact.Predicate], fact.ID)
	e.factCount++
	e.maybeWarnFactLimit()
	return true, nil
}

// RemoveFact retracts a fact by id. Derived conclusions are rebuilt from
// the remaining asserted facts, so retracting a premise retracts what it
// supported.
func (e *Engine) RemoveFact(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pred, ok := e.factPreds[id]
	if !ok {
		return false
	}

	delete(e.factPreds, id)
	delete(e.factAtoms, id)
	ids := e.factsByPred[pred]
	for i, fid := range ids {
		if fid == id {
			e.factsByPred[pred] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	e.factCount--

	// The engine derives, it does not do truth maintenance: start over from
	// the remaining asserted facts.
	e.rebuildStoreLocked()
	if err := e.evalLocked(); err != nil {
		logging.KernelError("re-evaluation after retraction failed: %v", err)
	}
	return true
}

func (e *Engine) maybeWarnFactLimit() {
	if e.config.FactLimit <= 0 || e.factLimitWarned {
		return
	}
	utilization := float64(e.factCount) / float64(e.config.FactLimit)
	if utilization >= 0.85 {
		logging.Get(logging.CategoryKernel).Warn("fact store is %.1f%% of configured capacity (%d / %d)",
			utilization*100, e.factCount, e.config.FactLimit)
		e.factLimitWarned = true
	}
}

func (e *Engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared", fact.Predicate)
	}

	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	var decl *ast.Decl
	if e.queryContext != nil {
		decl = e.queryContext.PredToDecl[sym]
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		var expectedType ast.ConstantType = -1
		if decl != nil && len(decl.Bounds) > 0 {
			bounds := decl.Bounds[0].Bounds
			if len(bounds) > i {
				if c, ok := bounds[i].(ast.Constant); ok {
					switch c.Symbol {
					case "/name":
						expectedType = ast.NameType
					case "/string":
						expectedType = ast.StringType
					case "/number":
						expectedType = ast.NumberType
					}
				}
			}
		}

		term, err := convertValueToTypedTerm(raw, expectedType)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}

	return ast.Atom{Predicate: sym, Args: args}, nil
}

// Query evaluates a goal in Mangle notation, e.g. "can_start(\"u1\", L)".
// It never returns an error and never panics: any failure is logged and
// reported as an unsuccessful empty result.
func (e *Engine) Query(ctx context.Context, goal string) (result QueryResult) {
	timer := logging.StartTimer(logging.CategoryKernel, "query "+goal)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logging.KernelError("query %q panicked: %v", goal, r)
			result = emptyResult(time.Since(start))
		}
		result.Duration = time.Since(start)
		timer.Stop()
	}()

	shape, err := parseQueryShape(goal)
	if err != nil {
		logging.KernelError("query %q: %v", goal, err)
		return emptyResult(time.Since(start))
	}

	e.mu.RLock()
	queryContext := e.queryContext
	if queryContext == nil {
		e.mu.RUnlock()
		logging.KernelError("query %q: no policies loaded", goal)
		return emptyResult(time.Since(start))
	}

	decl, ok := queryContext.PredToDecl[shape.atom.Predicate]
	if !ok || len(decl.Modes()) == 0 {
		e.mu.RUnlock()
		logging.KernelError("query %q: predicate %s not declared or has no modes", goal, shape.atom.Predicate.Symbol)
		return emptyResult(time.Since(start))
	}
	mode := decl.Modes()[0]
	factsUsed, rulesApplied := e.provenanceLocked(shape.atom.Predicate)
	e.mu.RUnlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := e.config.QueryTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultChan := make(chan []map[string]interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("evaluation panicked: %v", r)
			}
		}()
		var rows []map[string]interface{}
		err := queryContext.EvalQuery(shape.atom, mode, unionfind.New(), func(fact ast.Atom) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			row := make(map[string]interface{}, len(shape.variables))
			for _, binding := range shape.variables {
				if binding.Index >= len(fact.Args) {
					continue
				}
				row[binding.Name] = convertBaseTermToInterface(fact.Args[binding.Index])
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- rows
	}()

	select {
	case rows := <-resultChan:
		return QueryResult{
			Success:      true,
			Bindings:     rows,
			FactsUsed:    factsUsed,
			RulesApplied: rulesApplied,
			Duration:     time.Since(start),
		}
	case err := <-errChan:
		logging.KernelError("query %q failed: %v", goal, err)
		return emptyResult(time.Since(start))
	case <-ctx.Done():
		logging.KernelError("query %q timed out after %v", goal, time.Since(start))
		return emptyResult(time.Since(start))
	}
}

func emptyResult(d time.Duration) QueryResult {
	return QueryResult{
		Success:      false,
		Bindings:     []map[string]interface{}{},
		FactsUsed:    []string{},
		RulesApplied: []string{},
		Duration:     d,
	}
}

// provenanceLocked reports which fact ids and rule ids can contribute to a
// goal: everything in the goal predicate's dependency closure. This is a
// predicate-level approximation, not a proof tree.
func (e *Engine) provenanceLocked(goal ast.PredicateSym) (facts, rules []string) {
	reachable := map[string]bool{goal.Symbol: true}
	frontier := []ast.PredicateSym{goal}
	for len(frontier) > 0 {
		sym := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, clause := range e.queryContext.PredToRules[sym] {
			for _, premise := range clause.Premises {
				var inner ast.Atom
				switch p := premise.(type) {
				case ast.Atom:
					inner = p
				case ast.NegAtom:
					inner = p.Atom
				default:
					continue
				}
				name := inner.Predicate.Symbol
				if strings.HasPrefix(name, ":") || reachable[name] {
					continue
				}
				if _, declared := e.predicateIndex[name]; !declared {
					continue
				}
				reachable[name] = true
				frontier = append(frontier, inner.Predicate)
			}
		}
	}

	facts = []string{}
	for pred := range reachable {
		facts = append(facts, e.factsByPred[pred]...)
	}
	sort.Strings(facts)

	rules = []string{}
	seen := make(map[string]bool)
	for _, entry := range e.ruleEntries {
		if reachable[entry.head] && !seen[entry.id] {
			seen[entry.id] = true
			rules = append(rules, entry.id)
		}
	}
	return facts, rules
}

// GetFacts retrieves all stored and derived facts for a predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	store := e.store
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = convertBaseTermToInterface(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return results, err
}

// HasFact reports whether the fact id is registered.
func (e *Engine) HasFact(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.factPreds[id]
	return ok
}

// GetStats returns fact store statistics.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]int)
	for _, sym := range e.store.ListPredicates() {
		localCount := 0
		_ = e.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			localCount++
			return nil
		})
		counts[sym.Symbol] = localCount
	}

	return Stats{
		TotalFacts:      e.store.EstimateFactCount(),
		RuleCount:       len(e.ruleEntries),
		PredicateCounts: counts,
	}
}

// Reset drops all asserted facts. Policies and user rules survive.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	e.factPreds = make(map[string]string)
	e.factAtoms = make(map[string]ast.Atom)
	e.factsByPred = make(map[string][]string)
	e.factCount = 0
	e.factLimitWarned = false

	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
	if e.autoEval && e.programInfo != nil {
		// Reseed ground policy facts (world baselines).
		if _, err := mengine.EvalProgramWithStats(e.programInfo, e.store); err != nil {
			logging.KernelError("re-evaluation after reset failed: %v", err)
		}
	}
}

// Close cleans up kernel resources.
func (e *Engine) Close() error {
	return nil
}

type queryVariable struct {
	Name  string
	Index int
}

type queryShape struct {
	atom      ast.Atom
	variables []queryVariable
}

func parseQueryShape(query string) (*queryShape, error) {
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, fmt.Errorf("empty query")
	}

	if strings.HasPrefix(clean, "?") {
		clean = strings.TrimSpace(clean[1:])
	}
	if strings.HasSuffix(clean, ".") {
		clean = strings.TrimSpace(clean[:len(clean)-1])
	}

	atom, err := parse.Atom(clean)
	if err != nil {
		atom, err = parse.Atom(clean + ".")
		if err != nil {
			return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
		}
	}

	variables := make([]queryVariable, 0, len(atom.Args))
	for idx, arg := range atom.Args {
		if variable, ok := arg.(ast.Variable); ok {
			variables = append(variables, queryVariable{Name: variable.Symbol, Index: idx})
		}
	}

	return &queryShape{atom: atom, variables: variables}, nil
}
