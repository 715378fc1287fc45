// Package validator decides whether a generated query is safe to run: a
// single read-only SELECT whose table and column references all resolve
// against the data source's schema.
package validator

import (
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
)

// Validate checks query against schema. It returns nil when the query is
// accepted and a *Rejection describing the first failing check otherwise.
// Checks run in order: statement kind, table resolution, column resolution.
// Identifier matching is case-insensitive. Validate has no side effects.
func Validate(query string, schema *catalog.Schema) error {
	tokens, err := lex(query)
	if err != nil {
		return unsafeStatement("", err.Error())
	}
	tokens = trimSemicolons(tokens)
	if len(tokens) == 0 {
		return unsafeStatement("", "empty statement")
	}

	if r := checkStatementKind(tokens); r != nil {
		return r
	}

	a := newAnalyzer(tokens, schema)
	if r := a.analyze(); r != nil {
		return r
	}
	if r := a.checkTables(); r != nil {
		return r
	}
	if r := a.checkColumns(); r != nil {
		return r
	}
	return nil
}

func trimSemicolons(tokens []token) []token {
	for len(tokens) > 0 && tokens[len(tokens)-1].isPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// checkStatementKind rejects mutating verbs anywhere in the text, multiple
// statements, and anything that is not a SELECT or WITH ... SELECT.
func checkStatementKind(tokens []token) *Rejection {
	for i, t := range tokens {
		if t.kind != tokIdent || !mutatingVerbs[t.upper] {
			continue
		}
		// Qualified names such as system.columns or t.update.
		if i > 0 && tokens[i-1].isPunct(".") {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].isPunct(".") {
			continue
		}
		// Function calls such as replace(s, 'a', 'b') or truncate(x).
		if i+1 < len(tokens) && tokens[i+1].isPunct("(") && !callableVerbs[t.upper] {
			continue
		}
		return unsafeStatement(t.upper, "")
	}

	for _, t := range tokens {
		if t.isPunct(";") {
			return unsafeStatement(";", "multiple statements")
		}
	}

	first := tokens[0]
	for i := 0; i < len(tokens) && tokens[i].isPunct("("); i++ {
		if i+1 < len(tokens) {
			first = tokens[i+1]
		}
	}
	if !first.isWord("SELECT", "WITH") {
		keyword := first.upper
		if keyword == "" {
			keyword = first.text
		}
		return unsafeStatement(keyword, "not a SELECT statement")
	}
	return nil
}

// block is one SELECT scope.
type block struct {
	parent  *block
	ctes    map[string]*source
	sources []*source
	aliases map[string]bool
	refs    []columnRef

	outputs map[string]bool
	star    bool
}

// source is a table reference in a FROM clause.
type source struct {
	name     string
	alias    string
	pos      int
	table    *catalog.Table
	virtual  bool
	function bool
	block    *block          // derived table or CTE body
	columns  map[string]bool // explicit column alias list
}

func (s *source) displayName() string {
	if s.table != nil {
		return s.table.Name
	}
	if s.alias != "" {
		return s.alias
	}
	return s.name
}

// columnSet returns the columns a source exposes and whether they are known.
func (s *source) columnSet() (map[string]bool, bool) {
	switch {
	case s.columns != nil:
		return s.columns, true
	case s.table != nil:
		cols := make(map[string]bool, len(s.table.Columns))
		for _, c := range s.table.Columns {
			cols[strings.ToLower(c.Name)] = true
		}
		return cols, true
	case s.block != nil && !s.block.star:
		return s.block.outputs, true
	}
	return nil, false
}

type columnRef struct {
	qualifier string
	column    string
	pos       int
}

type analyzer struct {
	tokens []token
	pair   []int
	schema *catalog.Schema
	blocks []*block
	err    *Rejection
}

func newAnalyzer(tokens []token, schema *catalog.Schema) *analyzer {
	return &analyzer{
		tokens: tokens,
		pair:   matchParens(tokens),
		schema: schema,
	}
}

func (a *analyzer) at(i, hi int) token {
	if i < 0 || i >= hi || i >= len(a.tokens) {
		return token{}
	}
	return a.tokens[i]
}

// closeOf returns the index of the ")" matching the "(" at i, clamped to hi.
func (a *analyzer) closeOf(i, hi int) int {
	c := a.pair[i]
	if c < 0 || c > hi {
		return hi
	}
	return c
}

func (a *analyzer) fail(r *Rejection) {
	if a.err == nil {
		a.err = r
	}
}

func (a *analyzer) newBlock(parent *block) *block {
	b := &block{
		parent:  parent,
		ctes:    make(map[string]*source),
		aliases: make(map[string]bool),
		outputs: make(map[string]bool),
	}
	if parent != nil {
		for k, v := range parent.ctes {
			b.ctes[k] = v
		}
	}
	a.blocks = append(a.blocks, b)
	return b
}

func (a *analyzer) analyze() *Rejection {
	root := a.newBlock(nil)
	a.parseQuery(root, 0, len(a.tokens))
	return a.err
}

// parseQuery handles [WITH ...] select [UNION select ...] over [lo, hi).
func (a *analyzer) parseQuery(b *block, lo, hi int) {
	for lo < hi && a.tokens[lo].isPunct("(") && a.closeOf(lo, hi) == hi-1 {
		lo++
		hi--
	}
	if lo >= hi {
		a.fail(unsafeStatement("", "empty query"))
		return
	}

	if a.tokens[lo].isWord("WITH") {
		lo = a.parseWith(b, lo+1, hi)
	}

	for k, part := range a.splitSetOps(lo, hi) {
		blk := b
		if k > 0 {
			blk = a.newBlock(b.parent)
			for name, cte := range b.ctes {
				blk.ctes[name] = cte
			}
		}
		a.parseSelectPart(blk, part[0], part[1])
	}
}

func (a *analyzer) parseSelectPart(b *block, lo, hi int) {
	for lo < hi && a.tokens[lo].isPunct("(") && a.closeOf(lo, hi) == hi-1 {
		lo++
		hi--
	}
	first := a.at(lo, hi)
	switch {
	case first.isWord("SELECT"):
		a.parseSelect(b, lo, hi)
	case first.isWord("WITH"):
		a.parseQuery(b, lo, hi)
	default:
		keyword := first.upper
		if keyword == "" {
			keyword = first.text
		}
		a.fail(unsafeStatement(keyword, "expected SELECT"))
	}
}

// splitSetOps splits [lo, hi) at depth-0 UNION/INTERSECT/EXCEPT.
func (a *analyzer) splitSetOps(lo, hi int) [][2]int {
	var parts [][2]int
	start := lo
	for i := lo; i < hi; i++ {
		t := a.tokens[i]
		if t.isPunct("(") {
			i = a.closeOf(i, hi)
			continue
		}
		if t.kind != tokIdent || !setOpWords[t.upper] {
			continue
		}
		// ClickHouse column exclusion: SELECT * EXCEPT (col).
		if t.upper == "EXCEPT" && a.at(i-1, hi).isPunct("*") {
			continue
		}
		parts = append(parts, [2]int{start, i})
		start = i + 1
		if a.at(start, hi).isWord("ALL", "DISTINCT") {
			start++
		}
	}
	return append(parts, [2]int{start, hi})
}

// parseWith parses CTE definitions starting at lo and returns the index of
// the statement body.
func (a *analyzer) parseWith(b *block, lo, hi int) int {
	i := lo
	if a.at(i, hi).isWord("RECURSIVE") {
		i++
	}
	for i < hi {
		t := a.tokens[i]
		if t.isIdent() && !isKeyword(t) {
			j := i + 1
			var cols map[string]bool
			if a.at(j, hi).isPunct("(") {
				close := a.closeOf(j, hi)
				cols = a.identList(j+1, close)
				j = close + 1
			}
			if a.at(j, hi).isWord("AS") {
				k := j + 1
				for a.at(k, hi).isWord("NOT", "MATERIALIZED") {
					k++
				}
				if a.at(k, hi).isPunct("(") {
					close := a.closeOf(k, hi)
					name := strings.ToLower(t.text)
					child := a.newBlock(b.parent)
					for n, c := range b.ctes {
						child.ctes[n] = c
					}
					cte := &source{name: t.text, pos: t.pos, virtual: true, block: child, columns: cols}
					b.ctes[name] = cte
					child.ctes[name] = cte
					a.parseQuery(child, k+1, close)
					i = close + 1
					if a.at(i, hi).isPunct(",") {
						i++
						continue
					}
					return i
				}
			}
		}

		// ClickHouse scalar form: WITH <expr> AS name.
		end := -1
		for k := i; k < hi; k++ {
			if a.tokens[k].isPunct("(") {
				k = a.closeOf(k, hi)
				continue
			}
			if a.tokens[k].isWord("AS") && a.at(k+1, hi).isIdent() {
				end = k
				break
			}
			if a.tokens[k].isWord("SELECT") {
				break
			}
		}
		if end == -1 {
			a.fail(unsafeStatement("WITH", "malformed WITH clause"))
			return hi
		}
		a.scanExpr(b, i, end)
		b.aliases[strings.ToLower(a.tokens[end+1].text)] = true
		i = end + 2
		if a.at(i, hi).isPunct(",") {
			i++
			continue
		}
		return i
	}
	return i
}

func (a *analyzer) identList(lo, hi int) map[string]bool {
	cols := make(map[string]bool)
	for k := lo; k < hi; k++ {
		if a.tokens[k].isIdent() {
			cols[strings.ToLower(a.tokens[k].text)] = true
		}
	}
	return cols
}

type clause struct {
	word   string
	lo, hi int
}

// parseSelect parses a SELECT block whose SELECT keyword is at lo.
func (a *analyzer) parseSelect(b *block, lo, hi int) {
	var clauses []clause
	for i := lo + 1; i < hi; i++ {
		t := a.tokens[i]
		if t.isPunct("(") {
			i = a.closeOf(i, hi)
			continue
		}
		if t.kind != tokIdent || !clauseWords[t.upper] {
			continue
		}
		switch t.upper {
		case "FROM":
			if len(clauses) > 0 {
				continue
			}
		case "GROUP", "ORDER":
			if !a.at(i+1, hi).isWord("BY") {
				continue
			}
		}
		if n := len(clauses); n > 0 {
			clauses[n-1].hi = i
		}
		clauses = append(clauses, clause{word: t.upper, lo: i + 1, hi: hi})
	}

	listEnd := hi
	if len(clauses) > 0 {
		listEnd = clauses[0].lo - 1
	}

	// FROM first so sources exist regardless of textual order.
	for _, c := range clauses {
		if c.word == "FROM" {
			a.parseFrom(b, c.lo, c.hi, false)
		}
	}
	a.parseSelectList(b, lo+1, listEnd)
	for _, c := range clauses {
		switch c.word {
		case "FROM":
		case "WHERE", "PREWHERE", "HAVING", "QUALIFY":
			a.scanExpr(b, c.lo, c.hi)
		default:
			a.scanSubqueries(b, c.lo, c.hi)
		}
	}
}

func (a *analyzer) parseSelectList(b *block, lo, hi int) {
	i := lo
	for a.at(i, hi).isWord("DISTINCT", "ALL") {
		distinct := a.tokens[i].upper == "DISTINCT"
		i++
		if distinct && a.at(i, hi).isWord("ON") && a.at(i+1, hi).isPunct("(") {
			close := a.closeOf(i+1, hi)
			a.scanExpr(b, i+2, close)
			i = close + 1
		}
	}
	if a.at(i, hi).isWord("TOP") {
		i++
		if a.at(i, hi).isPunct("(") {
			i = a.closeOf(i, hi) + 1
		} else if a.at(i, hi).kind == tokNumber {
			i++
		}
	}

	for _, item := range a.splitCommas(i, hi) {
		lo, hi := item[0], item[1]
		if lo >= hi {
			continue
		}
		alias := ""
		if hi-lo >= 2 {
			last, prev := a.tokens[hi-1], a.tokens[hi-2]
			switch {
			case last.isIdent() && prev.isWord("AS"):
				alias = last.text
				hi -= 2
			case last.isIdent() && !a.isGrammarWord(hi-1, hi) && endsExpr(prev):
				alias = last.text
				hi--
			}
		}

		if alias != "" {
			b.aliases[strings.ToLower(alias)] = true
			b.outputs[strings.ToLower(alias)] = true
		} else {
			a.recordOutput(b, lo, hi)
		}
		a.scanExpr(b, lo, hi)
	}
}

// recordOutput records the implicit output name of an unaliased select item.
func (a *analyzer) recordOutput(b *block, lo, hi int) {
	last := a.tokens[hi-1]
	if last.isPunct("*") {
		b.star = true
		return
	}
	if !last.isIdent() {
		return
	}
	for k := lo; k < hi-1; k++ {
		if !a.tokens[k].isIdent() && !a.tokens[k].isPunct(".") {
			return
		}
	}
	b.outputs[strings.ToLower(last.text)] = true
}

func endsExpr(t token) bool {
	switch {
	case t.kind == tokQuotedIdent, t.kind == tokNumber, t.kind == tokString, t.kind == tokParam:
		return true
	case t.kind == tokIdent:
		return !isKeyword(t) || t.isWord("END", "NULL", "TRUE", "FALSE")
	case t.isPunct(")"), t.isPunct("]"):
		return true
	}
	return false
}

func (a *analyzer) splitCommas(lo, hi int) [][2]int {
	var items [][2]int
	start := lo
	depth := 0
	for i := lo; i < hi; i++ {
		t := a.tokens[i]
		switch {
		case t.isPunct("("):
			i = a.closeOf(i, hi)
		case t.isPunct("["):
			depth++
		case t.isPunct("]"):
			depth--
		case t.isPunct(",") && depth == 0:
			items = append(items, [2]int{start, i})
			start = i + 1
		}
	}
	if start < hi {
		items = append(items, [2]int{start, hi})
	}
	return items
}

// parseFrom registers the sources of a FROM clause on b and scans its join
// conditions.
func (a *analyzer) parseFrom(b *block, lo, hi int, lateral bool) {
	i := lo
	for i < hi {
		t := a.tokens[i]
		switch {
		case t.isPunct(","):
			i++
		case t.isWord("ON"):
			end := a.joinBoundary(i+1, hi)
			a.scanExpr(b, i+1, end)
			i = end
		case t.isWord("USING"):
			i++
			if a.at(i, hi).isPunct("(") {
				close := a.closeOf(i, hi)
				if n := len(b.sources); n > 0 {
					right := b.sources[n-1]
					for k := i + 1; k < close; k++ {
						if c := a.tokens[k]; c.isIdent() {
							b.refs = append(b.refs, columnRef{qualifier: qualifierFor(right), column: c.text, pos: c.pos})
						}
					}
				}
				i = close + 1
			}
		case t.isWord("ARRAY") && a.at(i+1, hi).isWord("JOIN"):
			i = a.parseArrayJoin(b, i+2, hi)
		case t.isWord("LATERAL"):
			lateral = true
			i++
		case t.kind == tokIdent && joinWords[t.upper] && !a.at(i+1, hi).isPunct("("):
			i++
		default:
			i = a.parseTableFactor(b, i, hi, lateral)
			lateral = false
		}
	}
}

func qualifierFor(s *source) string {
	if s.alias != "" {
		return s.alias
	}
	return s.name
}

// joinBoundary returns the end of a join condition starting at lo.
func (a *analyzer) joinBoundary(lo, hi int) int {
	for i := lo; i < hi; i++ {
		t := a.tokens[i]
		if t.isPunct("(") {
			i = a.closeOf(i, hi)
			continue
		}
		if t.isPunct(",") || startsJoin(t, a.at(i+1, hi)) {
			return i
		}
	}
	return hi
}

// startsJoin reports whether t begins a join clause. ANY and ALL are join
// strictness modifiers in ClickHouse but comparison operators in a
// condition, so they only count after GLOBAL.
func startsJoin(t, next token) bool {
	if next.isPunct("(") {
		return false
	}
	switch {
	case t.isWord("ARRAY"):
		return next.isWord("JOIN")
	case t.isWord("GLOBAL"):
		return next.isWord("JOIN", "LEFT", "RIGHT", "FULL", "INNER", "ANY", "ALL", "ASOF", "SEMI", "ANTI")
	case t.isWord("ANY", "ALL", "OUTER", "LATERAL"):
		return false
	}
	return t.kind == tokIdent && joinWords[t.upper]
}

// parseArrayJoin handles ClickHouse ARRAY JOIN expr [AS alias], ...
func (a *analyzer) parseArrayJoin(b *block, lo, hi int) int {
	end := hi
	for i := lo; i < hi; i++ {
		t := a.tokens[i]
		if t.isPunct("(") {
			i = a.closeOf(i, hi)
			continue
		}
		if t.isWord("JOIN", "LEFT", "INNER", "ARRAY") {
			end = i
			break
		}
	}
	for _, item := range a.splitCommas(lo, end) {
		ilo, ihi := item[0], item[1]
		alias := ""
		if ihi-ilo >= 3 && a.tokens[ihi-2].isWord("AS") && a.tokens[ihi-1].isIdent() {
			alias = a.tokens[ihi-1].text
			ihi -= 2
		}
		a.scanExpr(b, ilo, ihi)
		if alias != "" {
			b.sources = append(b.sources, &source{name: alias, alias: alias, pos: a.tokens[ilo].pos, virtual: true})
		}
	}
	return end
}

// parseTableFactor parses one table reference at i and returns the index
// after it.
func (a *analyzer) parseTableFactor(b *block, i, hi int, lateral bool) int {
	t := a.tokens[i]

	if t.isWord("ONLY") {
		i++
		t = a.at(i, hi)
	}

	if t.isPunct("(") {
		close := a.closeOf(i, hi)
		inner := a.at(i+1, hi)
		if inner.isWord("SELECT", "WITH") || inner.isPunct("(") && a.isSubquery(i+1, close) {
			parent := b.parent
			if lateral {
				parent = b
			}
			child := a.newBlock(parent)
			for name, cte := range b.ctes {
				child.ctes[name] = cte
			}
			a.parseQuery(child, i+1, close)
			src := &source{pos: t.pos, virtual: true, block: child}
			var cols map[string]bool
			next := close + 1
			next, src.alias, cols = a.parseAlias(next, hi)
			src.name = src.alias
			if cols != nil {
				src.columns = cols
			}
			b.sources = append(b.sources, src)
			return next
		}
		// Parenthesized join.
		a.parseFrom(b, i+1, close, false)
		next, _, _ := a.parseAlias(close+1, hi)
		return next
	}

	if !t.isIdent() {
		return i + 1
	}
	if isKeyword(t) && !a.at(i+1, hi).isPunct(".") {
		if _, ok := a.schema.Table(t.text); !ok {
			return i + 1
		}
	}

	name := t.text
	j := i + 1
	for a.at(j, hi).isPunct(".") && a.at(j+1, hi).isIdent() {
		name += "." + a.tokens[j+1].text
		j += 2
	}

	var src *source
	if a.at(j, hi).isPunct("(") {
		// Table functions (file, url, numbers, ...) are never resolvable.
		src = &source{name: name, pos: t.pos, function: true}
		j = a.closeOf(j, hi) + 1
	} else {
		src = a.resolveSource(b, name, t.pos)
	}

	for a.at(j, hi).isWord("FINAL") {
		j++
	}
	if a.at(j, hi).isWord("SAMPLE") {
		j++
		for a.at(j, hi).kind == tokNumber || a.at(j, hi).isPunct("/") || a.at(j, hi).isWord("OFFSET") {
			j++
		}
	}

	var cols map[string]bool
	j, src.alias, cols = a.parseAlias(j, hi)
	if cols != nil {
		src.columns = cols
	}
	b.sources = append(b.sources, src)
	return j
}

func (a *analyzer) isSubquery(lo, hi int) bool {
	for lo < hi && a.tokens[lo].isPunct("(") {
		lo++
	}
	return a.at(lo, hi).isWord("SELECT", "WITH")
}

// parseAlias parses an optional [AS] alias [(col, ...)] at i.
func (a *analyzer) parseAlias(i, hi int) (int, string, map[string]bool) {
	t := a.at(i, hi)
	alias := ""
	switch {
	case t.isWord("AS") && a.at(i+1, hi).isIdent():
		alias = a.tokens[i+1].text
		i += 2
	case t.kind == tokQuotedIdent || t.kind == tokIdent && !isKeyword(t) && !mutatingVerbs[t.upper]:
		alias = t.text
		i++
	default:
		return i, "", nil
	}
	var cols map[string]bool
	if a.at(i, hi).isPunct("(") {
		close := a.closeOf(i, hi)
		cols = a.identList(i+1, close)
		i = close + 1
	}
	return i, alias, cols
}

func (a *analyzer) resolveSource(b *block, name string, pos int) *source {
	if cte, ok := b.ctes[strings.ToLower(name)]; ok {
		return &source{name: name, pos: pos, virtual: true, block: cte.block, columns: cte.columns}
	}
	src := &source{name: name, pos: pos}
	if t, ok := a.schema.Table(name); ok {
		src.table = t
	}
	return src
}

// scanSubqueries validates nested queries in clauses whose column references
// are not checked (GROUP BY, ORDER BY, LIMIT, ...).
func (a *analyzer) scanSubqueries(b *block, lo, hi int) {
	for i := lo; i < hi; i++ {
		if a.tokens[i].isPunct("(") && a.isSubquery(i+1, a.closeOf(i, hi)) {
			close := a.closeOf(i, hi)
			a.parseQuery(a.newBlock(b), i+1, close)
			i = close
		}
	}
}

// scanExpr records column references in the expression [lo, hi).
func (a *analyzer) scanExpr(b *block, lo, hi int) {
	locals := a.lambdaParams(lo, hi)
	for i := lo; i < hi; i++ {
		t := a.tokens[i]
		switch {
		case t.isPunct("("):
			close := a.closeOf(i, hi)
			if a.isSubquery(i+1, close) {
				a.parseQuery(a.newBlock(b), i+1, close)
				i = close
			}

		case t.isPunct("::"):
			i = a.skipType(i+1, hi) - 1

		case a.isGrammarWord(i, hi):
			switch t.upper {
			case "AS":
				i = a.skipType(i+1, hi) - 1
			case "OVER":
				if next := a.at(i+1, hi); next.isIdent() && !isKeyword(next) {
					i++
				}
			}

		case t.isIdent():
			next := a.at(i+1, hi)
			if t.kind == tokIdent && (next.isPunct("(") || next.kind == tokString) {
				continue
			}
			if next.isPunct("->") {
				continue
			}

			parts := []string{t.text}
			j := i
			for a.at(j+1, hi).isPunct(".") {
				n := a.at(j+2, hi)
				if !n.isIdent() && !n.isPunct("*") {
					break
				}
				parts = append(parts, n.text)
				j += 2
			}
			if a.at(j+1, hi).isPunct("(") {
				i = j
				continue
			}
			if len(parts) == 1 && locals[strings.ToLower(t.text)] {
				continue
			}
			b.refs = append(b.refs, columnRef{
				qualifier: strings.Join(parts[:len(parts)-1], "."),
				column:    parts[len(parts)-1],
				pos:       t.pos,
			})
			i = j
		}
	}
}

// skipType skips a type name (with optional arguments) starting at i.
func (a *analyzer) skipType(i, hi int) int {
	if !a.at(i, hi).isIdent() {
		return i
	}
	i++
	for {
		t := a.at(i, hi)
		switch {
		case t.kind == tokIdent && typeWords[t.upper]:
			i++
		case t.isPunct("("):
			i = a.closeOf(i, hi) + 1
		case t.isPunct("[") && a.at(i+1, hi).isPunct("]"):
			i += 2
		default:
			return i
		}
	}
}

// lambdaParams collects ClickHouse lambda parameters (x -> ..., (x, y) -> ...).
func (a *analyzer) lambdaParams(lo, hi int) map[string]bool {
	var params map[string]bool
	for i := lo + 1; i < hi; i++ {
		if !a.tokens[i].isPunct("->") {
			continue
		}
		if params == nil {
			params = make(map[string]bool)
		}
		prev := a.tokens[i-1]
		switch {
		case prev.isIdent():
			params[strings.ToLower(prev.text)] = true
		case prev.isPunct(")"):
			open := a.pair[i-1]
			if open >= lo {
				for k := open + 1; k < i-1; k++ {
					if a.tokens[k].isIdent() {
						params[strings.ToLower(a.tokens[k].text)] = true
					}
				}
			}
		}
	}
	return params
}

// checkTables reports the first unresolvable table reference in text order.
func (a *analyzer) checkTables() *Rejection {
	var first *source
	for _, b := range a.blocks {
		for _, src := range b.sources {
			if src.virtual || src.table != nil {
				continue
			}
			if first == nil || src.pos < first.pos {
				first = src
			}
		}
	}
	if first == nil {
		return nil
	}
	r := &Rejection{Kind: KindUnknownTable, Table: first.name}
	if first.function {
		r.Detail = "table functions are not allowed"
	}
	return r
}

// checkColumns reports the first unresolvable column reference in text order.
func (a *analyzer) checkColumns() *Rejection {
	var (
		first    *Rejection
		firstPos int
	)
	for _, b := range a.blocks {
		for _, ref := range b.refs {
			r := resolveColumn(b, ref)
			if r == nil {
				continue
			}
			if first == nil || ref.pos < firstPos {
				first, firstPos = r, ref.pos
			}
		}
	}
	return first
}

func resolveColumn(b *block, ref columnRef) *Rejection {
	col := strings.ToLower(ref.column)

	if ref.qualifier != "" {
		for blk := b; blk != nil; blk = blk.parent {
			src := blk.findQualifier(ref.qualifier)
			if src == nil {
				continue
			}
			if ref.column == "*" {
				return nil
			}
			cols, known := src.columnSet()
			if !known || cols[col] {
				return nil
			}
			return &Rejection{Kind: KindUnknownColumn, Table: src.displayName(), Column: ref.column}
		}
		return &Rejection{Kind: KindUnknownTable, Table: ref.qualifier}
	}

	for blk := b; blk != nil; blk = blk.parent {
		var matches []*source
		opaque := false
		for _, src := range blk.sources {
			cols, known := src.columnSet()
			if !known {
				opaque = true
				continue
			}
			if cols[col] {
				matches = append(matches, src)
			}
		}
		switch {
		case len(matches) == 1:
			return nil
		case len(matches) > 1:
			names := make([]string, 0, len(matches))
			for _, m := range matches {
				names = append(names, qualifierFor(m))
			}
			return &Rejection{Kind: KindAmbiguousColumn, Column: ref.column, Candidates: names}
		}
		if opaque || blk.aliases[col] {
			return nil
		}
	}

	table := ""
	if len(b.sources) == 1 {
		table = b.sources[0].displayName()
	}
	return &Rejection{Kind: KindUnknownColumn, Table: table, Column: ref.column}
}

// findQualifier resolves an alias or table name to a source of this block.
func (b *block) findQualifier(q string) *source {
	q = strings.ToLower(q)
	for _, src := range b.sources {
		if src.alias != "" && strings.ToLower(src.alias) == q {
			return src
		}
	}
	for _, src := range b.sources {
		name := strings.ToLower(src.name)
		if name == q {
			return src
		}
		if src.table != nil {
			tn := strings.ToLower(src.table.Name)
			if tn == q || strings.HasSuffix(q, "."+tn) {
				return src
			}
		}
		if i := strings.LastIndex(name, "."); i != -1 && name[i+1:] == q {
			return src
		}
	}
	return nil
}
