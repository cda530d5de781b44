package configsource

import (
	"context"
	"strings"
	"time"

	"github.com/cordal/gateway/internal/model"
)

// DefaultRuleGlobs admits the invalidation-rule files a file-source
// loader scans for, alongside the database/query/endpoint file kinds —
// the same directory-scanning mechanism, extended to the
// InvalidationRule entity, which otherwise has no dedicated file glob.
var DefaultRuleGlobs = []string{"*-rule.yml", "*-rules.yml"}

// RuleLoader is implemented by a Loader that can also supply the
// invalidation rule set, kept separate from the Loader interface so
// neither the file- nor store-source core contract changes shape.
type RuleLoader interface {
	LoadRules(ctx context.Context) ([]model.InvalidationRule, error)
}

// LoadRules scans l.Dirs for files matching RuleGlobs (falling back to
// DefaultRuleGlobs), decoding each file's top-level "rules:" mapping.
func (l *FileLoader) LoadRules(ctx context.Context) ([]model.InvalidationRule, error) {
	globs := l.RuleGlobs
	if len(globs) == 0 {
		globs = DefaultRuleGlobs
	}
	var rules []model.InvalidationRule
	for _, dir := range l.Dirs {
		files, err := matchingFiles(dir, globs)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			var doc struct {
				Rules []model.InvalidationRule `yaml:"rules"`
			}
			if err := decodeYAML(path, &doc); err != nil {
				return nil, err
			}
			rules = append(rules, doc.Rules...)
		}
	}
	return rules, nil
}

type ruleRow struct {
	EventType string `db:"event_type"`
	Pattern   string `db:"pattern"`
	Caches    string `db:"caches"`
	Condition string `db:"condition_expr"`
	DelayMs   int    `db:"delay_ms"`
	Async     bool   `db:"async"`
}

// LoadRules reads the config_invalidation_rules table, one row per
// (eventType, pattern) pair sharing a condition/delay/async/caches set.
func (l *StoreLoader) LoadRules(ctx context.Context) ([]model.InvalidationRule, error) {
	var rows []ruleRow
	if err := l.DB.SelectContext(ctx, &rows, `SELECT event_type, pattern, COALESCE(caches, '') AS caches,
		condition_expr, delay_ms, async
		FROM config_invalidation_rules`); err != nil {
		return nil, err
	}
	byKey := make(map[string]*model.InvalidationRule)
	var order []string
	for _, r := range rows {
		key := r.EventType + "|" + r.Condition
		rule, ok := byKey[key]
		if !ok {
			rule = &model.InvalidationRule{
				EventType: r.EventType,
				Condition: r.Condition,
				Async:     r.Async,
				Delay:     durationMs(r.DelayMs),
			}
			if r.Caches != "" {
				rule.Caches = splitCSV(r.Caches)
			}
			byKey[key] = rule
			order = append(order, key)
		}
		rule.Patterns = append(rule.Patterns, r.Pattern)
	}
	out := make([]model.InvalidationRule, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
