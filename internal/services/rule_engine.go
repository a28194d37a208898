package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompiledRule is an eligible rule with its definition already parsed.
type CompiledRule struct {
	Rule       models.AdvisoryRule
	Definition *models.RuleDefinition
}

// TriggeredRule is a rule whose conditions evaluated True for a context.
type TriggeredRule struct {
	Rule            models.AdvisoryRule
	Outcome         models.RuleOutcome
	Severity        models.Severity
	Priority        int
	BoundConditions []BoundCondition
}

type MatchResult struct {
	Triggered []TriggeredRule
	Skipped   []uuid.UUID
}

// SimulationResult is returned to rule authors; it never implies a delivery.
type SimulationResult struct {
	Triggered       bool             `json:"triggered"`
	Truth           Truth            `json:"truth"`
	MatchReason     string           `json:"match_reason"`
	Outcome         map[string]any   `json:"outcome"`
	BoundConditions []BoundCondition `json:"bound_conditions"`
}

type RuleEngine struct {
	evaluator *ConditionEvaluator
	log       *zap.Logger
}

func NewRuleEngine(log *zap.Logger) *RuleEngine {
	return &RuleEngine{evaluator: NewConditionEvaluator(), log: log}
}

// Compile keeps the rules eligible at now and parses their definitions once,
// so a cycle over many farmers does not re-parse per farmer. Malformed rules
// are skipped and reported by id; the rest still compile.
func (e *RuleEngine) Compile(rules []models.AdvisoryRule, now time.Time) ([]CompiledRule, []uuid.UUID) {
	compiled := make([]CompiledRule, 0, len(rules))
	var skipped []uuid.UUID

	for i := range rules {
		rule := rules[i]
		if !rule.IsEligible(now) {
			continue
		}
		def, err := ParseRuleDefinition(rule.Definition)
		if err != nil {
			e.log.Warn("skipping malformed advisory rule",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.Int("version", rule.Version),
				zap.Error(err))
			skipped = append(skipped, rule.ID)
			continue
		}
		compiled = append(compiled, CompiledRule{Rule: rule, Definition: def})
	}
	return compiled, skipped
}

// MatchCompiled evaluates compiled rules against one farmer context. The
// result is ordered most urgent first; every triggered rule is a candidate.
func (e *RuleEngine) MatchCompiled(rules []CompiledRule, evalCtx models.EvaluationContext) []TriggeredRule {
	fields := evalCtx.ToMap()
	var triggered []TriggeredRule

	for _, cr := range rules {
		truth, bound := e.evaluator.Evaluate(cr.Definition.Conditions, fields)
		if truth != True {
			continue
		}
		triggered = append(triggered, TriggeredRule{
			Rule:            cr.Rule,
			Outcome:         cr.Definition.Outcome,
			Severity:        cr.Definition.Outcome.Severity,
			Priority:        cr.Rule.Priority,
			BoundConditions: bound,
		})
	}

	SortTriggered(triggered)
	return triggered
}

// Match is Compile followed by MatchCompiled for a single context.
func (e *RuleEngine) Match(rules []models.AdvisoryRule, evalCtx models.EvaluationContext, now time.Time) MatchResult {
	compiled, skipped := e.Compile(rules, now)
	return MatchResult{
		Triggered: e.MatchCompiled(compiled, evalCtx),
		Skipped:   skipped,
	}
}

// Simulate evaluates a draft definition against a caller-supplied context.
// It touches no repository and no transport.
func (e *RuleEngine) Simulate(definition []byte, mockContext map[string]any) (*SimulationResult, error) {
	def, err := ParseRuleDefinition(definition)
	if err != nil {
		return nil, err
	}
	if mockContext == nil {
		mockContext = map[string]any{}
	}

	truth, bound := e.evaluator.Evaluate(def.Conditions, mockContext)
	if bound == nil {
		bound = []BoundCondition{}
	}
	return &SimulationResult{
		Triggered:       truth == True,
		Truth:           truth,
		MatchReason:     matchReason(truth, bound),
		Outcome:         def.Outcome.ToMap(),
		BoundConditions: bound,
	}, nil
}

func matchReason(truth Truth, bound []BoundCondition) string {
	describe := func(want Truth) string {
		var parts []string
		for _, b := range bound {
			if b.Result == want {
				parts = append(parts, b.String())
			}
		}
		return strings.Join(parts, "; ")
	}

	switch truth {
	case True:
		return "conditions satisfied: " + describe(True)
	case False:
		return "conditions not satisfied: " + describe(False)
	default:
		var missing []string
		for _, b := range bound {
			if b.Result == Unknown {
				missing = append(missing, b.Field)
			}
		}
		return fmt.Sprintf("not triggered, context missing or unusable for: %s", strings.Join(missing, ", "))
	}
}

// SortTriggered orders candidates by severity rank desc, then priority asc
// (1 is the most urgent), then rule name for a stable result.
func SortTriggered(triggered []TriggeredRule) {
	sort.SliceStable(triggered, func(i, j int) bool {
		a, b := triggered[i], triggered[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Rule.Name < b.Rule.Name
	})
}
