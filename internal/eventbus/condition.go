package eventbus

import (
	"strconv"
	"strings"
)

// The InvalidationRule condition grammar is `lhs OP rhs`: lhs a bare
// identifier looked up in event data, rhs a literal or a
// `${event.<key>}` substitution. Longest operators are tried first so
// "<=" never splits as "<".
var operators = []string{"<=", ">=", "!=", "=", "<", ">"}

// EvaluateCondition reports whether condition holds against data. An
// empty or blank condition is always true.
func EvaluateCondition(condition string, data map[string]interface{}) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	lhsName, op, rhsRaw, ok := splitCondition(condition)
	if !ok {
		return false
	}

	lhsVal := data[lhsName]
	rhsVal := resolveRHS(rhsRaw, data)

	return compare(lhsVal, op, rhsVal)
}

func splitCondition(condition string) (lhs, op, rhs string, ok bool) {
	for _, candidate := range operators {
		if idx := strings.Index(condition, candidate); idx > 0 {
			lhs = strings.TrimSpace(condition[:idx])
			rhs = strings.TrimSpace(condition[idx+len(candidate):])
			return lhs, candidate, rhs, true
		}
	}
	return "", "", "", false
}

// resolveRHS substitutes a `${event.<key>}` reference from data, or
// returns the literal unchanged (trimming surrounding quotes).
func resolveRHS(rhs string, data map[string]interface{}) interface{} {
	const prefix = "${event."
	if strings.HasPrefix(rhs, prefix) && strings.HasSuffix(rhs, "}") {
		key := rhs[len(prefix) : len(rhs)-1]
		return data[key]
	}
	return strings.Trim(rhs, `"'`)
}

func compare(lhs interface{}, op string, rhs interface{}) bool {
	// absent/null equals the literal "null"
	if lhs == nil {
		lhs = "null"
	}
	if rhs == nil {
		rhs = "null"
	}

	if ln, lok := asNumber(lhs); lok {
		if rn, rok := asNumber(rhs); rok {
			return compareNumbers(ln, op, rn)
		}
	}

	ls := strings.ToLower(strings.TrimSpace(toStr(lhs)))
	rs := strings.ToLower(strings.TrimSpace(toStr(rhs)))
	switch op {
	case "=":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	default:
		return false
	}
}

func compareNumbers(l float64, op string, r float64) bool {
	switch op {
	case "=":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	default:
		return false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toStr(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return strings.TrimSpace(formatScalar(v))
	}
}

func formatScalar(v interface{}) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return ""
	}
}
