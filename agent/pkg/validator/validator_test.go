package validator

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *catalog.Schema {
	return &catalog.Schema{
		Database: "analytics",
		Tables: []catalog.Table{
			{Name: "sales", Columns: []catalog.Column{
				{Name: "region", Type: "String"},
				{Name: "total", Type: "Float64"},
				{Name: "date", Type: "Date"},
				{Name: "customer_id", Type: "UInt64"},
				{Name: "tags", Type: "Array(String)"},
			}},
			{Name: "customers", Columns: []catalog.Column{
				{Name: "id", Type: "UInt64"},
				{Name: "name", Type: "String"},
				{Name: "region", Type: "String"},
			}},
			{Name: "sales_by_region", View: true, Columns: []catalog.Column{
				{Name: "region", Type: "String"},
				{Name: "revenue", Type: "Float64"},
			}},
		},
		Relationships: []catalog.Relationship{
			{FromTable: "sales", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
		},
	}
}

func requireRejection(t *testing.T, err error) *Rejection {
	t.Helper()
	require.Error(t, err)
	var r *Rejection
	require.ErrorAs(t, err, &r)
	return r
}

func TestValidate_Accepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
	}{
		{"simple select", "SELECT region, total FROM sales"},
		{"case insensitive identifiers", "select REGION, Total from SALES"},
		{"trailing semicolon", "SELECT * FROM sales;"},
		{"wrapped in parens", "(SELECT region FROM sales)"},
		{"database qualified table", "SELECT region FROM analytics.sales"},
		{"view", "SELECT region, revenue FROM sales_by_region"},
		{"aliased join", "SELECT s.region, c.name FROM sales AS s JOIN customers c ON s.customer_id = c.id WHERE s.total > 100"},
		{"comma join", "SELECT s.total, c.name FROM sales s, customers c WHERE s.customer_id = c.id"},
		{"left outer join", "SELECT c.name, s.total FROM customers c LEFT OUTER JOIN sales s ON s.customer_id = c.id"},
		{"table name as qualifier", "SELECT sales.region FROM sales"},
		{"qualified star", "SELECT s.* FROM sales s"},
		{"aggregates", "SELECT region, count(*) AS n, sum(total) FROM sales GROUP BY region ORDER BY n DESC LIMIT 10"},
		{"count distinct", "SELECT COUNT(DISTINCT region) FROM sales"},
		{"having on alias", "SELECT region, sum(total) AS revenue FROM sales GROUP BY region HAVING revenue > 10"},
		{"cte", "WITH big AS (SELECT region, total FROM sales WHERE total > 100) SELECT region FROM big"},
		{"cte with column list", "WITH r(area) AS (SELECT region FROM sales) SELECT area FROM r"},
		{"derived table", "SELECT t.region FROM (SELECT region, sum(total) AS revenue FROM sales GROUP BY region) t WHERE t.revenue > 10"},
		{"keyword named output", "SELECT t.month FROM (SELECT toMonth(date) AS month FROM sales) t"},
		{"union", "SELECT region FROM sales UNION ALL SELECT region FROM customers"},
		{"in subquery", "SELECT name FROM customers WHERE id IN (SELECT customer_id FROM sales WHERE total > 10)"},
		{"correlated exists", "SELECT c.name FROM customers c WHERE EXISTS (SELECT 1 FROM sales s WHERE s.customer_id = c.id)"},
		{"scalar subquery", "SELECT region FROM sales WHERE total > (SELECT avg(total) FROM sales)"},
		{"replace function", "SELECT replace(region, 'a', 'b') FROM sales"},
		{"verbs inside strings and comments", "SELECT region FROM sales WHERE region = 'DELETE' -- DROP TABLE sales"},
		{"block comment", "SELECT /* UPDATE sales */ region FROM sales"},
		{"casts", "SELECT CAST(total AS Int64), date::text FROM sales"},
		{"case expression", "SELECT CASE WHEN total > 100 THEN 'big' ELSE 'small' END AS size FROM sales"},
		{"typed literal", "SELECT region FROM sales WHERE date >= DATE '2024-01-01'"},
		{"interval", "SELECT region FROM sales WHERE date > now() - INTERVAL 7 DAY"},
		{"window function", "SELECT region, rank() OVER (PARTITION BY region ORDER BY total DESC) FROM sales"},
		{"lambda", "SELECT arrayMap(x -> x * 2, [total]) FROM sales"},
		{"array join", "SELECT tag, count() FROM sales ARRAY JOIN tags AS tag GROUP BY tag"},
		{"star except", "SELECT * EXCEPT (total) FROM sales"},
		{"final modifier", "SELECT region FROM sales FINAL WHERE total > 0"},
		{"positional parameter", "SELECT region FROM sales WHERE total > $1"},
		{"quoted identifiers", `SELECT "region", ` + "`total`" + ` FROM "sales"`},
		{"between and like", "SELECT name FROM customers WHERE id BETWEEN 1 AND 10 AND name ILIKE '%acme%'"},
		{"is not null", "SELECT name FROM customers WHERE region IS NOT NULL"},
		{"interval to", "SELECT region FROM sales WHERE date > now() - INTERVAL '1-2' YEAR TO MONTH"},
		{"extract unit", "SELECT EXTRACT(MONTH FROM date) AS m FROM sales WHERE EXTRACT(YEAR FROM date) = 2024"},
		{"date function unit", "SELECT dateDiff(day, date, today()) FROM sales"},
		{"unaliased keyword-named output", "SELECT toMonth(date) month, sum(total) FROM sales GROUP BY month HAVING month > 3"},
		{"window frame", "SELECT sum(total) OVER (ORDER BY date ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) FROM sales"},
		{"nulls ordering in window", "SELECT first_value(total) OVER (PARTITION BY region ORDER BY date NULLS LAST) FROM sales"},
		{"at time zone", "SELECT date AT TIME ZONE 'UTC' FROM sales"},
		{"trim leading", "SELECT TRIM(LEADING 'x' FROM region) FROM sales"},
		{"derived keyword-named column", "SELECT month FROM (SELECT toMonth(date) AS month FROM sales) t"},
	}

	schema := testSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NoError(t, Validate(tt.query, schema))
		})
	}
}

func TestValidate_UnsafeStatements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		keyword string
	}{
		{"delete", "DELETE FROM sales", "DELETE"},
		{"lowercase delete", "delete from sales", "DELETE"},
		{"drop", "DROP TABLE sales", "DROP"},
		{"insert", "INSERT INTO sales VALUES (1)", "INSERT"},
		{"update", "UPDATE sales SET total = 0", "UPDATE"},
		{"truncate", "TRUNCATE sales", "TRUNCATE"},
		{"alter", "ALTER TABLE sales ADD COLUMN x Int32", "ALTER"},
		{"create as select", "CREATE TABLE copy AS SELECT * FROM sales", "CREATE"},
		{"select into", "SELECT * INTO backup FROM sales", "INTO"},
		{"stacked drop", "SELECT * FROM sales; DROP TABLE sales", "DROP"},
		{"multiple selects", "SELECT * FROM sales; SELECT 1", ";"},
		{"modifying cte", "WITH d AS (DELETE FROM sales RETURNING *) SELECT * FROM d", "DELETE"},
		{"locking subquery", "SELECT region FROM sales WHERE total IN (SELECT total FROM sales FOR UPDATE)", "UPDATE"},
		{"exec call", "EXEC('SELECT 1')", "EXEC"},
		{"explain", "EXPLAIN SELECT 1", "EXPLAIN"},
		{"show", "SHOW TABLES", "SHOW"},
		{"unknown tables still unsafe", "DROP TABLE nothing_here", "DROP"},
	}

	schema := testSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := requireRejection(t, Validate(tt.query, schema))
			assert.Equal(t, KindUnsafeStatement, r.Kind)
			assert.Equal(t, tt.keyword, r.Keyword)
		})
	}
}

func TestValidate_UnsafeStatementSoundness(t *testing.T) {
	t.Parallel()

	verbs := make([]string, 0, len(mutatingVerbs))
	for v := range mutatingVerbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	templates := []string{
		"%s sales",
		"SELECT region FROM sales WHERE total IN (%s sales)",
		"SELECT * FROM (%s missing_table) t",
		"WITH x AS (%s sales) SELECT * FROM x",
	}

	schema := testSchema()
	for _, verb := range verbs {
		for _, tmpl := range templates {
			for _, spelled := range []string{verb, strings.ToLower(verb)} {
				query := fmt.Sprintf(tmpl, spelled)
				r := requireRejection(t, Validate(query, schema))
				assert.Equal(t, KindUnsafeStatement, r.Kind, query)
				assert.Equal(t, verb, r.Keyword, query)
			}
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  Rejection
	}{
		{
			name:  "typo column",
			query: "SELECT regio FROM sales",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "regio"},
		},
		{
			name:  "unknown table",
			query: "SELECT region FROM sale",
			want:  Rejection{Kind: KindUnknownTable, Table: "sale"},
		},
		{
			name:  "unknown joined table wins over columns",
			query: "SELECT s.nope FROM sales s JOIN refunds r ON r.sale_id = s.id",
			want:  Rejection{Kind: KindUnknownTable, Table: "refunds"},
		},
		{
			name:  "table function",
			query: "SELECT * FROM numbers(10)",
			want:  Rejection{Kind: KindUnknownTable, Table: "numbers", Detail: "table functions are not allowed"},
		},
		{
			name:  "system table",
			query: "SELECT name FROM system.columns",
			want:  Rejection{Kind: KindUnknownTable, Table: "system.columns"},
		},
		{
			name:  "other database",
			query: "SELECT region FROM other.sales",
			want:  Rejection{Kind: KindUnknownTable, Table: "other.sales"},
		},
		{
			name:  "undeclared qualifier",
			query: "SELECT x.region FROM sales",
			want:  Rejection{Kind: KindUnknownTable, Table: "x"},
		},
		{
			name:  "qualified unknown column",
			query: "SELECT s.name FROM sales s",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "name"},
		},
		{
			name:  "unknown column in join condition",
			query: "SELECT s.region FROM sales s JOIN customers c ON s.cust = c.id",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "cust"},
		},
		{
			name:  "unknown column in filter",
			query: "SELECT region FROM sales WHERE amount > 10",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "amount"},
		},
		{
			name:  "unqualified unknown column across joins",
			query: "SELECT foo FROM sales s JOIN customers c ON s.customer_id = c.id",
			want:  Rejection{Kind: KindUnknownColumn, Column: "foo"},
		},
		{
			name:  "ambiguous column",
			query: "SELECT region FROM sales s JOIN customers c ON s.customer_id = c.id",
			want:  Rejection{Kind: KindAmbiguousColumn, Column: "region", Candidates: []string{"s", "c"}},
		},
		{
			name:  "first failure in text order",
			query: "SELECT bad1, region FROM sales WHERE bad2 > 0",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "bad1"},
		},
		{
			name:  "unknown column in subquery",
			query: "SELECT region FROM sales WHERE total > (SELECT avg(amount) FROM sales)",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "amount"},
		},
		{
			name:  "unknown cte column",
			query: "WITH big AS (SELECT region FROM sales) SELECT total FROM big",
			want:  Rejection{Kind: KindUnknownColumn, Table: "big", Column: "total"},
		},
		{
			name:  "unknown derived column",
			query: "SELECT t.total FROM (SELECT region FROM sales) t",
			want:  Rejection{Kind: KindUnknownColumn, Table: "t", Column: "total"},
		},
		{
			name:  "unknown column named like an interval unit",
			query: "SELECT month FROM sales",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "month"},
		},
		{
			name:  "unknown interval-unit column in filter",
			query: "SELECT region FROM sales WHERE quarter = 3",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "quarter"},
		},
		{
			name:  "unknown interval-unit column beside a known one",
			query: "SELECT year, total FROM sales",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "year"},
		},
		{
			name:  "unknown day column in comparison",
			query: "SELECT region FROM sales WHERE day > 1",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "day"},
		},
		{
			name:  "unknown window-word columns",
			query: "SELECT first, total FROM sales",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "first"},
		},
		{
			name:  "unknown row column",
			query: "SELECT row FROM sales",
			want:  Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "row"},
		},
		{
			name:  "empty statement",
			query: "  ;  ",
			want:  Rejection{Kind: KindUnsafeStatement, Detail: "empty statement"},
		},
	}

	schema := testSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := requireRejection(t, Validate(tt.query, schema))
			assert.Equal(t, tt.want, *r)
		})
	}
}

func TestValidate_UnterminatedInput(t *testing.T) {
	t.Parallel()

	for _, query := range []string{
		"SELECT 'abc FROM sales",
		`SELECT "region FROM sales`,
		"SELECT region FROM sales /* never closed",
	} {
		r := requireRejection(t, Validate(query, testSchema()))
		assert.Equal(t, KindUnsafeStatement, r.Kind, query)
		assert.NotEmpty(t, r.Detail, query)
	}
}

func TestValidate_TypoThenCorrection(t *testing.T) {
	t.Parallel()
	schema := &catalog.Schema{Tables: []catalog.Table{
		{Name: "sales", Columns: []catalog.Column{{Name: "region"}, {Name: "total"}, {Name: "date"}}},
	}}

	r := requireRejection(t, Validate("SELECT regio FROM sales", schema))
	assert.Equal(t, "unknown column: sales.regio", r.Error())

	assert.NoError(t, Validate("SELECT region FROM sales", schema))
}

func TestValidate_Deterministic(t *testing.T) {
	t.Parallel()

	queries := []string{
		"SELECT region FROM sales s JOIN customers c ON s.customer_id = c.id",
		"SELECT bad1, bad2 FROM sales",
		"SELECT region FROM sales",
		"DELETE FROM sales",
	}
	schema := testSchema()
	for _, q := range queries {
		first := Validate(q, schema)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, Validate(q, schema), q)
		}
	}
}

func TestValidate_ResolutionCompleteness(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	for _, table := range schema.Tables {
		var plain, qualified []string
		for _, c := range table.Columns {
			plain = append(plain, c.Name)
			qualified = append(qualified, "t."+strings.ToUpper(c.Name))
		}
		assert.NoError(t, Validate(fmt.Sprintf("SELECT %s FROM %s", strings.Join(plain, ", "), table.Name), schema))
		assert.NoError(t, Validate(fmt.Sprintf("SELECT %s FROM %s t WHERE t.%s IS NOT NULL",
			strings.Join(qualified, ", "), table.Name, table.Columns[0].Name), schema))
	}
}

func TestValidate_AliasSpellingDoesNotMatter(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	for _, alias := range []string{"s", "x", "sales_alias", "S1", "q"} {
		good := fmt.Sprintf("SELECT %[1]s.region, %[1]s.total FROM sales %[1]s WHERE %[1]s.total > 0", alias)
		assert.NoError(t, Validate(good, schema), alias)

		bad := fmt.Sprintf("SELECT %[1]s.region, %[1]s.nope FROM sales %[1]s", alias)
		r := requireRejection(t, Validate(bad, schema))
		assert.Equal(t, Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "nope"}, *r, alias)
	}
}

func TestValidate_NilSchemaRejectsTables(t *testing.T) {
	t.Parallel()
	r := requireRejection(t, Validate("SELECT region FROM sales", nil))
	assert.Equal(t, KindUnknownTable, r.Kind)

	assert.NoError(t, Validate("SELECT 1", nil))
}

func TestRejection_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    Rejection
		want string
	}{
		{Rejection{Kind: KindUnsafeStatement, Keyword: "DELETE"}, "unsafe statement: DELETE"},
		{Rejection{Kind: KindUnsafeStatement, Keyword: ";", Detail: "multiple statements"}, "unsafe statement: ; (multiple statements)"},
		{Rejection{Kind: KindUnknownTable, Table: "sale"}, "unknown table: sale"},
		{Rejection{Kind: KindUnknownColumn, Table: "sales", Column: "regio"}, "unknown column: sales.regio"},
		{Rejection{Kind: KindUnknownColumn, Column: "foo"}, "unknown column: foo"},
		{Rejection{Kind: KindAmbiguousColumn, Column: "region", Candidates: []string{"s", "c"}}, "ambiguous column: region (matches s, c)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.r.Error())
	}
}

func TestLex(t *testing.T) {
	t.Parallel()

	tokens, err := lex("SELECT \"Weird \"\"Name\"\"\", 'it''s', $1, 1.5e3 -- tail\n/* x */ a::int")
	require.NoError(t, err)

	var kinds []tokenKind
	var texts []string
	for _, tok := range tokens {
		kinds = append(kinds, tok.kind)
		texts = append(texts, tok.text)
	}
	assert.Equal(t, []tokenKind{
		tokIdent, tokQuotedIdent, tokPunct, tokString, tokPunct, tokParam, tokPunct, tokNumber,
		tokIdent, tokPunct, tokIdent,
	}, kinds)
	assert.Equal(t, `Weird "Name"`, texts[1])
	assert.Equal(t, "1.5e3", texts[7])
	assert.Equal(t, "::", texts[9])
}

func TestMatchParens(t *testing.T) {
	t.Parallel()

	tokens, err := lex("(a (b) (")
	require.NoError(t, err)
	pair := matchParens(tokens)
	assert.Equal(t, len(tokens), pair[0])
	assert.Equal(t, 4, pair[2])
	assert.Equal(t, 2, pair[4])
	assert.Equal(t, len(tokens), pair[5])
}
