package validator

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// mutatingVerbs are rejected anywhere in a query, including subqueries and
// data-modifying CTEs.
var mutatingVerbs = wordSet(
	"INSERT", "UPDATE", "DELETE", "UPSERT", "MERGE", "REPLACE",
	"DROP", "ALTER", "CREATE", "TRUNCATE", "RENAME",
	"GRANT", "REVOKE",
	"ATTACH", "DETACH", "OPTIMIZE", "SYSTEM", "KILL",
	"SET", "COPY", "CALL", "EXEC", "EXECUTE",
	"VACUUM", "PRAGMA", "LOCK", "UNLOCK",
	"INTO",
)

// callableVerbs stay unsafe even in function-call form, e.g. EXEC('...').
var callableVerbs = wordSet("EXEC", "EXECUTE", "CALL")

// clauseWords start a new clause of a SELECT block at paren depth 0.
var clauseWords = wordSet(
	"FROM", "WHERE", "PREWHERE", "GROUP", "HAVING", "ORDER", "LIMIT", "OFFSET",
	"FETCH", "WINDOW", "QUALIFY", "SETTINGS", "FORMAT",
)

var setOpWords = wordSet("UNION", "INTERSECT", "EXCEPT")

// joinWords may begin a join in a FROM clause.
var joinWords = wordSet(
	"JOIN", "LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS", "NATURAL",
	"ASOF", "SEMI", "ANTI", "GLOBAL", "PASTE", "ANY", "ALL", "LATERAL",
)

// typeWords may follow a type name in casts (DOUBLE PRECISION, TIMESTAMP WITH TIME ZONE).
var typeWords = wordSet("PRECISION", "VARYING", "WITH", "WITHOUT", "TIME", "ZONE", "UNSIGNED")

// keywords are never column references when unquoted.
var keywords = wordSet(
	// logic and predicates
	"AND", "OR", "NOT", "XOR", "IS", "NULL", "TRUE", "FALSE", "UNKNOWN",
	"IN", "LIKE", "ILIKE", "GLOB", "REGEXP", "RLIKE", "SIMILAR", "ESCAPE", "BETWEEN", "SYMMETRIC",
	"EXISTS", "ANY", "SOME", "ALL", "DISTINCT",
	// expressions
	"CASE", "WHEN", "THEN", "ELSE", "END", "AS", "CAST", "INTERVAL", "COLLATE",
	"AT", "TO", "TIME", "ZONE", "LEADING", "TRAILING", "BOTH", "FOR", "SEPARATOR", "ARRAY",
	// windows and ordering
	"OVER", "PARTITION", "BY", "ORDER", "ASC", "DESC", "NULLS", "FIRST", "LAST",
	"ROWS", "RANGE", "GROUPS", "PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "ROW",
	"FILTER", "WITHIN", "GROUP", "TIES", "NEXT", "ONLY", "EXCLUDE", "OTHERS",
	// interval units
	"MICROSECOND", "MILLISECOND", "SECOND", "SECONDS", "MINUTE", "MINUTES", "HOUR", "HOURS",
	"DAY", "DAYS", "WEEK", "WEEKS", "MONTH", "MONTHS", "QUARTER", "QUARTERS", "YEAR", "YEARS",
	"EPOCH", "DOW", "DOY", "ISODOW", "ISOYEAR",
	// niladic functions
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "LOCALTIME", "LOCALTIMESTAMP",
	"CURRENT_USER", "SESSION_USER", "CURRENT_SCHEMA",
	// structure
	"SELECT", "WITH", "RECURSIVE", "FROM", "WHERE", "PREWHERE", "HAVING", "LIMIT", "OFFSET",
	"FETCH", "WINDOW", "QUALIFY", "SETTINGS", "FORMAT", "UNION", "INTERSECT", "EXCEPT",
	"JOIN", "LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS", "NATURAL", "ON", "USING",
	"ASOF", "SEMI", "ANTI", "GLOBAL", "PASTE", "LATERAL", "FINAL", "SAMPLE", "TOP",
	"PRECISION", "VARYING", "WITHOUT", "UNSIGNED",
)

// softKeywords are keywords only in specific grammatical positions. Elsewhere
// they are ordinary identifiers, since month, year or first are common column
// names.
var softKeywords = wordSet(
	"FIRST", "LAST", "ROW", "ROWS", "RANGE", "GROUPS", "CURRENT",
	"TIME", "ZONE", "LEADING", "TRAILING", "BOTH",
)

var intervalUnits = wordSet(
	"MICROSECOND", "MILLISECOND", "SECOND", "SECONDS", "MINUTE", "MINUTES", "HOUR", "HOURS",
	"DAY", "DAYS", "WEEK", "WEEKS", "MONTH", "MONTHS", "QUARTER", "QUARTERS", "YEAR", "YEARS",
	"EPOCH", "DOW", "DOY", "ISODOW", "ISOYEAR",
)

// unitFunctions take a bare interval unit as their first argument.
var unitFunctions = wordSet(
	"EXTRACT", "DATE_ADD", "DATEADD", "DATE_SUB", "DATESUB", "DATE_DIFF", "DATEDIFF",
	"TIMESTAMP_ADD", "TIMESTAMPADD", "TIMESTAMP_SUB", "TIMESTAMPSUB", "TIMESTAMP_DIFF", "TIMESTAMPDIFF",
	"DATE_TRUNC", "DATETRUNC", "TOSTARTOFINTERVAL",
)

func isKeyword(t token) bool {
	return t.kind == tokIdent && keywords[t.upper]
}

// isGrammarWord reports whether the token at i is a keyword in its position.
// Soft keywords only count where the surrounding grammar requires them.
func (a *analyzer) isGrammarWord(i, hi int) bool {
	t := a.tokens[i]
	if !isKeyword(t) {
		return false
	}
	if !softKeywords[t.upper] && !intervalUnits[t.upper] {
		return true
	}

	var prev, prev2 token
	if i > 0 {
		prev = a.tokens[i-1]
	}
	if i > 1 {
		prev2 = a.tokens[i-2]
	}
	next := a.at(i+1, hi)

	switch {
	case intervalUnits[t.upper]:
		// INTERVAL 3 MONTH, INTERVAL '1' YEAR TO MONTH, EXTRACT(DAY FROM d), dateAdd(day, 1, d)
		return prev.isWord("INTERVAL", "TO") || prev.kind == tokNumber || prev.kind == tokString ||
			next.isWord("TO") || prev.isPunct("(") && prev2.kind == tokIdent && unitFunctions[prev2.upper]
	case t.isWord("FIRST", "LAST"):
		return prev.isWord("NULLS")
	case t.isWord("ROW"):
		return prev.isWord("CURRENT")
	case t.isWord("CURRENT"):
		return next.isWord("ROW")
	case t.isWord("ROWS", "RANGE", "GROUPS"):
		return next.isWord("BETWEEN", "UNBOUNDED", "CURRENT") || next.kind == tokNumber
	case t.isWord("TIME"):
		return prev.isWord("AT") || next.isWord("ZONE")
	case t.isWord("ZONE"):
		return prev.isWord("TIME")
	case t.isWord("LEADING", "TRAILING", "BOTH"):
		return prev.isPunct("(") && prev2.isWord("TRIM")
	}
	return true
}
