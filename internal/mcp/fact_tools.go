package mcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tapsource/internal/mangle"
)

const (
	defaultFactLimit = 25
	maxFactLimit     = 500
)

var errEngineUnavailable = fmt.Errorf("mangle engine unavailable")

// ReadFactsTool returns the most recent inspection facts.
type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent inspection facts, newest last.

Base predicates recorded for every tap:
- inspected(Id, File, Line, Column, Decision)   Decision: direct|fallback|none
- blocked(Id, Fragment)
- ancestor(Id, Rank, Name, Target)
- rejected(Id, Target)
- navigated(Id, Target)

Returns: {count, facts: [{predicate, args, timestamp}]}`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only facts of this predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 25, max 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errEngineUnavailable
	}
	limit := getIntArg(args, "limit", defaultFactLimit)
	if limit <= 0 {
		limit = defaultFactLimit
	}
	if limit > maxFactLimit {
		limit = maxFactLimit
	}

	var facts []mangle.Fact
	if predicate := getStringArg(args, "predicate"); predicate != "" {
		facts = t.engine.FactsByPredicate(predicate)
	} else {
		facts = t.engine.Facts()
	}
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{
		"count": len(facts),
		"facts": facts,
	}, nil
}

// QueryFactsTool runs an atom query against the inspection history.
type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query inspection history with a Mangle atom.

EXAMPLES:
- fallback_navigation(Id, Target).       taps that opened an ancestor
- unresolved(Id, File).                  taps with nothing navigable
- vendored_ancestor(Id, Name, Target).   ancestors skipped as library code
- inspected(Id, "src/App.tsx", Line, _, Decision).

Anonymous "_" positions are reported as _0, _1, ...

Returns: {count, results: [{Var: value}]}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom, trailing period optional",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, anon := normalizeQuery(getStringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if t.engine == nil {
		return nil, errEngineUnavailable
	}

	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		row := make(map[string]interface{}, len(r))
		for k, v := range r {
			if name, ok := anon[k]; ok {
				k = name
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	return map[string]interface{}{
		"query":   query,
		"count":   len(rows),
		"results": rows,
	}, nil
}

var anonymousVar = regexp.MustCompile(`(^|[(,\s])_([,)\s])`)

// normalizeQuery trims the query, adds the terminating period and gives each
// anonymous variable a name so its binding is reported. The returned map
// takes the generated names back to "_0", "_1", ...
func normalizeQuery(q string) (string, map[string]string) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", nil
	}
	anon := make(map[string]string)
	for n := 0; ; n++ {
		loc := anonymousVar.FindStringSubmatchIndex(q)
		if loc == nil {
			break
		}
		// loc[3] is the end of the leading delimiter, where "_" sits.
		name := fmt.Sprintf("AnonVar%d", n)
		anon[name] = fmt.Sprintf("_%d", n)
		q = q[:loc[3]] + name + q[loc[3]+1:]
	}
	if !strings.HasSuffix(q, ".") {
		q += "."
	}
	return q, anon
}

// SubmitRuleTool adds a rule to the running program.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add Mangle declarations and rules over the inspection predicates.

The program is re-analyzed with the new rule; existing facts are re-derived.

EXAMPLE:
  Decl opened_in(Id, File).
  opened_in(Id, File) :- inspected(Id, File, _, _, "direct").

Returns: {status: "ok", predicates: [...]}`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := strings.TrimSpace(getStringArg(args, "rule"))
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if t.engine == nil {
		return nil, errEngineUnavailable
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":     "ok",
		"predicates": t.engine.Predicates(),
	}, nil
}

// EvaluateRuleTool returns every fact of a derived predicate.
type EvaluateRuleTool struct {
	engine *mangle.Engine
}

func (t *EvaluateRuleTool) Name() string { return "evaluate-rule" }
func (t *EvaluateRuleTool) Description() string {
	return `Evaluate the program and list every fact of a predicate.

Built-in derived predicates: direct_navigation/2, fallback_navigation/2,
unresolved/2, vendored_ancestor/3.

Returns: {predicate, count, facts}`
}
func (t *EvaluateRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	if t.engine == nil {
		return nil, errEngineUnavailable
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(facts),
		"facts":     facts,
	}, nil
}

// QueryTemporalTool filters buffered facts by time window.
type QueryTemporalTool struct {
	engine *mangle.Engine
}

func (t *QueryTemporalTool) Name() string { return "query-temporal" }
func (t *QueryTemporalTool) Description() string {
	return `List facts of a predicate recorded inside a time window.

after_ms / before_ms are Unix milliseconds; either may be omitted.

Returns: {predicate, count, facts}`
}
func (t *QueryTemporalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name",
			},
			"after_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Only facts after this Unix ms timestamp",
			},
			"before_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Only facts before this Unix ms timestamp",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTemporalTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	if t.engine == nil {
		return nil, errEngineUnavailable
	}

	var after, before time.Time
	if ms := getIntArg(args, "after_ms", 0); ms > 0 {
		after = time.UnixMilli(int64(ms))
	}
	if ms := getIntArg(args, "before_ms", 0); ms > 0 {
		before = time.UnixMilli(int64(ms))
	}

	facts := t.engine.QueryTemporal(predicate, after, before)
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(facts),
		"facts":     facts,
	}, nil
}
