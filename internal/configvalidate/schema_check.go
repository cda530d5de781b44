package configvalidate

import (
	"context"
	"strings"
	"time"

	"github.com/cordal/gateway/internal/model"
)

// checkLiveSchema implements check 6: for each query, find
// its referenced tables and verify each exists via the connected
// driver's catalog, then find referenced columns and verify those too.
// A database that is currently unreachable degrades this check to a
// warning rather than a fatal error.
func checkLiveSchema(ctx context.Context, cfg *model.ConfigSet, inspectors Inspectors, report *Report) {
	for name, q := range cfg.Queries {
		checkQuerySchema(ctx, name, q, inspectors, report)
	}
}

func checkQuerySchema(parent context.Context, name string, q *model.QueryDefinition, inspectors Inspectors, report *Report) {
	loc := Location{Kind: "query", Name: name}

	inspector, ok := inspectors.Inspector(parent, q.DatabaseName)
	if !ok {
		report.addWarning("W201", "database unreachable, skipping live schema check for query \""+name+"\"", loc)
		return
	}

	ctx, cancel := context.WithTimeout(parent, 3*time.Second)
	defer cancel()

	tables := extractTableNames(q.SQL)
	var liveTables []string
	for _, table := range tables {
		exists, err := inspector.TableExists(ctx, table)
		if err != nil {
			report.addWarning("W202", "database unreachable during live schema check for query \""+name+"\": "+err.Error(), loc)
			return
		}
		if !exists {
			report.addError("E207", "query \""+name+"\" references unknown table \""+table+"\"", loc,
				"check the table name for typos or confirm it exists in the target database")
			continue
		}
		liveTables = append(liveTables, table)
	}

	for _, col := range extractColumnNames(q.SQL) {
		found := false
		for _, table := range liveTables {
			exists, err := inspector.ColumnExists(ctx, table, col)
			if err != nil {
				report.addWarning("W202", "database unreachable during live schema check for query \""+name+"\": "+err.Error(), loc)
				return
			}
			if exists {
				found = true
				break
			}
		}
		if !found && len(liveTables) > 0 {
			report.addError("E208", "query \""+name+"\" references unknown column \""+col+"\"", loc,
				"check the column name for typos or confirm it exists in the referenced table(s)")
		}
	}
}

// extractTableNames finds identifiers following FROM/JOIN, tokenizing
// well enough to skip string literals and comments rather than using a
// regex over raw SQL text.
func extractTableNames(sql string) []string {
	tokens := tokenize(sql)
	var tables []string
	for i, tok := range tokens {
		upper := strings.ToUpper(tok)
		if upper == "FROM" || upper == "JOIN" {
			if i+1 < len(tokens) {
				tables = append(tables, stripQualifier(tokens[i+1]))
			}
		}
	}
	return dedupe(tables)
}

// extractColumnNames extracts bare column identifiers from the SELECT
// list and WHERE clause, stripping table qualifiers, "*", function calls,
// and aliases introduced by AS. An alias written without AS is not
// recognised and is reported as a column.
func extractColumnNames(sql string) []string {
	tokens := tokenize(sql)
	var cols []string

	selectStart, selectEnd := -1, -1
	whereStart, whereEnd := -1, -1
	for i, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "SELECT":
			selectStart = i + 1
		case "FROM":
			if selectStart >= 0 && selectEnd < 0 {
				selectEnd = i
			}
		case "WHERE":
			whereStart = i + 1
		case "GROUP", "ORDER", "LIMIT":
			if whereStart >= 0 && whereEnd < 0 {
				whereEnd = i
			}
		}
	}
	if selectStart >= 0 && selectEnd > selectStart {
		cols = append(cols, columnsFromTokens(tokens[selectStart:selectEnd])...)
	}
	if whereStart >= 0 {
		end := whereEnd
		if end < 0 {
			end = len(tokens)
		}
		cols = append(cols, columnsFromTokens(tokens[whereStart:end])...)
	}
	return dedupe(cols)
}

func columnsFromTokens(tokens []string) []string {
	var cols []string
	for i, tok := range tokens {
		if tok == "*" || tok == "," || isSQLPunct(tok) || isSQLKeyword(tok) {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1] == "(" {
			continue // function call
		}
		if i > 0 && strings.EqualFold(tokens[i-1], "AS") {
			continue // alias
		}
		if !isIdentifier(tok) {
			continue
		}
		cols = append(cols, stripQualifier(tok))
	}
	return cols
}

func stripQualifier(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.Trim(name, `"`+"`"+`[]`)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '.' || r == '"' || r == '`'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && isDigit {
			return false
		}
		if !isLetter && !isDigit {
			return false
		}
	}
	return true
}

func isSQLPunct(s string) bool {
	switch s {
	case "(", ")", ",", "=", "<", ">", "<=", ">=", "!=", "+", "-", "*", "/":
		return true
	}
	return false
}

func isSQLKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "AS", "AND", "OR", "NOT", "NULL", "IS", "IN", "LIKE", "BETWEEN", "ON", "DISTINCT", "ASC", "DESC":
		return true
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// tokenize splits sql into whitespace/punctuation-separated tokens,
// skipping over string literals and comments so table/column extraction
// never reads identifiers out of quoted or commented text.
func tokenize(sql string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(sql)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			flush()
			quote := c
			i++
			for i < len(runes) && runes[i] != quote {
				i++
			}
			i++
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
			i++
		case strings.ContainsRune("(),;", c):
			flush()
			tokens = append(tokens, string(c))
			i++
		default:
			cur.WriteRune(c)
			i++
		}
	}
	flush()
	return tokens
}
