package guard

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// TableRef is a physical table referenced by a query.
type TableRef struct {
	Schema   string
	Table    string
	FullPath string
}

// cteNamePattern matches "WITH name AS (" or ", name AS (" for chained CTEs.
var cteNamePattern = regexp.MustCompile(`(?i)(?:WITH(?:\s+RECURSIVE)?|,)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:\([^)]*\))?\s+AS\s*(?:NOT\s+)?(?:MATERIALIZED\s*)?\(`)

// extractTables returns the physical tables a query reads. It combines the
// sqlparser AST walk with a token scan of FROM and JOIN clauses, so a table
// missed by either is still reported. CTE names are filtered out.
func extractTables(sql string, toks []token) []TableRef {
	collector := newTableCollector(extractCTENames(sql))
	collector.addAll(extractTablesFromAST(sql))
	collector.addAll(extractTablesFromTokens(toks))
	sort.Slice(collector.refs, func(i, j int) bool { return collector.refs[i].FullPath < collector.refs[j].FullPath })
	return collector.refs
}

// tableCollector deduplicates table refs and filters out CTEs.
type tableCollector struct {
	refs     []TableRef
	seen     map[string]bool
	cteNames map[string]bool
}

func newTableCollector(cteNames map[string]bool) *tableCollector {
	return &tableCollector{
		seen:     make(map[string]bool),
		cteNames: cteNames,
	}
}

func (c *tableCollector) addAll(refs []TableRef) {
	for _, ref := range refs {
		c.add(ref)
	}
}

func (c *tableCollector) add(ref TableRef) {
	if c.isCTE(ref) || c.seen[ref.FullPath] {
		return
	}
	c.seen[ref.FullPath] = true
	c.refs = append(c.refs, ref)
}

func (c *tableCollector) isCTE(ref TableRef) bool {
	return ref.Schema == "" && c.cteNames[ref.Table]
}

// extractCTENames returns the lowercased CTE names defined by sql.
func extractCTENames(sql string) map[string]bool {
	names := make(map[string]bool)
	for _, match := range cteNamePattern.FindAllStringSubmatch(sql, -1) {
		if len(match) >= 2 {
			names[strings.ToLower(match[1])] = true
		}
	}
	return names
}

// extractTablesFromAST uses sqlparser for queries it can parse. Dialect
// features it does not know make it return nothing.
func extractTablesFromAST(sql string) []TableRef {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil
	}

	var tables []TableRef
	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if aliased, ok := node.(*sqlparser.AliasedTableExpr); ok {
			if tableName, ok := aliased.Expr.(sqlparser.TableName); ok {
				tables = append(tables, newTableRef(tableName.Qualifier.String(), tableName.Name.String()))
			}
		}
		return true, nil
	}, stmt)
	if err != nil {
		return nil
	}
	return tables
}

func newTableRef(schema, table string) TableRef {
	ref := TableRef{Schema: strings.ToLower(schema), Table: strings.ToLower(table)}
	ref.FullPath = ref.Table
	if ref.Schema != "" {
		ref.FullPath = ref.Schema + "." + ref.Table
	}
	return ref
}

// relationStarters are keywords after which "(" opens a subquery or a group
// rather than a function call argument list.
var relationStarters = map[string]bool{
	"from": true, "join": true, "in": true, "exists": true, "as": true,
	"select": true, "where": true, "and": true, "or": true, "not": true,
	"on": true, "union": true, "intersect": true, "except": true, "all": true,
	"any": true, "some": true, "lateral": true, "with": true, "then": true,
	"else": true, "when": true, "having": true,
}

// opensSubquery reports whether the "(" at i starts a query, whatever
// precedes it.
func opensSubquery(toks []token, i int) bool {
	if i+1 >= len(toks) {
		return false
	}
	next := toks[i+1]
	return next.isWord("select") || next.isWord("with") || next.isWord("values")
}

// extractTablesFromTokens scans FROM and JOIN clauses. A FROM inside a
// function call, such as EXTRACT(YEAR FROM claim_month), is ignored.
func extractTablesFromTokens(toks []token) []TableRef {
	var (
		refs  []TableRef
		calls []bool // per open paren: whether it is a call argument list
	)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.isPunct("("):
			call := i > 0 && (toks[i-1].kind == tokWord || toks[i-1].kind == tokQuotedIdent) && !relationStarters[toks[i-1].text]
			if opensSubquery(toks, i) {
				call = false // array(SELECT ...), coalesce((SELECT ...)) and friends
			}
			calls = append(calls, call)
		case t.isPunct(")"):
			if len(calls) > 0 {
				calls = calls[:len(calls)-1]
			}
		case t.isWord("from") || t.isWord("join"):
			if len(calls) > 0 && calls[len(calls)-1] {
				continue
			}
			if i > 0 && toks[i-1].isWord("distinct") {
				continue // IS [NOT] DISTINCT FROM
			}
			var more []TableRef
			more, i = readRelationList(toks, i+1, t.isWord("from"))
			refs = append(refs, more...)
			i-- // the loop increments past the last consumed token
		}
	}
	return refs
}

// readRelationList reads table names starting at i. For a FROM clause it
// follows comma-separated relations at the same depth. It returns the refs
// and the index of the first unconsumed token.
func readRelationList(toks []token, i int, list bool) ([]TableRef, int) {
	var refs []TableRef
	for i < len(toks) {
		if toks[i].isWord("only") || toks[i].isWord("lateral") {
			i++
			continue
		}
		if i >= len(toks) || (toks[i].kind != tokWord && toks[i].kind != tokQuotedIdent) {
			return refs, i
		}
		depth := toks[i].depth
		parts := []string{toks[i].text}
		i++
		for i+1 < len(toks) && toks[i].isPunct(".") && (toks[i+1].kind == tokWord || toks[i+1].kind == tokQuotedIdent) {
			parts = append(parts, toks[i+1].text)
			i += 2
		}
		if i < len(toks) && toks[i].isPunct("(") {
			// Table function call; report its name so the whitelist rejects it.
			refs = append(refs, refFromParts(parts))
			return refs, i
		}
		refs = append(refs, refFromParts(parts))

		if !list {
			return refs, i
		}
		// Skip an optional alias, then continue after a comma at this depth.
		for i < len(toks) && toks[i].depth >= depth && !(toks[i].depth == depth && toks[i].isPunct(",")) {
			if toks[i].depth == depth && (toks[i].kind == tokWord && clauseKeywords[toks[i].text]) {
				return refs, i
			}
			if toks[i].isPunct(")") && toks[i].depth < depth {
				return refs, i
			}
			i++
		}
		if i < len(toks) && toks[i].isPunct(",") && toks[i].depth == depth {
			i++
			continue
		}
		return refs, i
	}
	return refs, i
}

// clauseKeywords end a FROM list item.
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "limit": true, "offset": true,
	"having": true, "join": true, "inner": true, "left": true, "right": true,
	"full": true, "cross": true, "natural": true, "union": true, "intersect": true,
	"except": true, "window": true, "fetch": true, "for": true, "on": true, "using": true,
}

func refFromParts(parts []string) TableRef {
	switch len(parts) {
	case 1:
		return newTableRef("", parts[0])
	default:
		return newTableRef(strings.Join(parts[:len(parts)-1], "."), parts[len(parts)-1])
	}
}
