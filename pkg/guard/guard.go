// Package guard validates untrusted, model-generated SQL before it reaches
// the store and runs accepted queries under a read-only, time-bounded
// transaction.
//
// A query is accepted only when every rule passes:
//
//   - it is a single statement
//   - it is a pure read that starts with SELECT or WITH
//   - it calls no denied function and touches no system schema
//   - every table it reads is whitelisted
//   - it carries a top-level LIMIT no larger than the configured maximum,
//     which is appended when missing
package guard

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrRejected matches every *Rejection via errors.Is.
var ErrRejected = errors.New("query rejected")

// Rule names the check that rejected a query.
type Rule string

// Rules, in evaluation order.
const (
	RuleEmpty           Rule = "empty"
	RuleSingleStatement Rule = "single_statement"
	RuleReadOnly        Rule = "read_only"
	RuleDeniedFunction  Rule = "denied_function"
	RuleSystemSchema    Rule = "system_schema"
	RuleTableWhitelist  Rule = "table_whitelist"
	RuleRowLimit        Rule = "row_limit"
)

// Rejection is a structured validation failure.
type Rejection struct {
	Rule   Rule
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("query rejected by %s: %s", r.Rule, r.Reason)
}

// Is reports whether target is ErrRejected.
func (*Rejection) Is(target error) bool {
	return target == ErrRejected
}

func reject(rule Rule, format string, args ...any) *Rejection {
	return &Rejection{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Config configures a Guard.
type Config struct {
	// Tables is the whitelist of readable tables.
	Tables []string
	// Schemas lists schemas a qualified table name may use. Defaults to public.
	Schemas      []string
	DefaultLimit int
	MaxLimit     int
}

const (
	defaultRowLimit = 1000
	defaultSchema   = "public"
)

// Checked is a query that passed every rule. Only the guard creates it.
type Checked struct {
	// SQL is the query to execute, with its LIMIT injected or clamped.
	SQL string
	// Original is the query as submitted.
	Original      string
	Tables        []string
	Limit         int
	LimitInjected bool
	LimitClamped  bool
}

// Guard applies the rule set. It holds no mutable state.
type Guard struct {
	tables       map[string]bool
	schemas      map[string]bool
	defaultLimit int
	maxLimit     int
}

// New creates a guard.
func New(cfg Config) *Guard {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultRowLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultRowLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if len(cfg.Schemas) == 0 {
		cfg.Schemas = []string{defaultSchema}
	}
	g := &Guard{
		tables:       make(map[string]bool, len(cfg.Tables)),
		schemas:      make(map[string]bool, len(cfg.Schemas)),
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
	for _, t := range cfg.Tables {
		g.tables[strings.ToLower(t)] = true
	}
	for _, s := range cfg.Schemas {
		g.schemas[strings.ToLower(s)] = true
	}
	return g
}

// deniedWords are write, DDL, privilege, session and procedural keywords.
// None of them can appear in a read-only SELECT against the exposed schema.
var deniedWords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "COPY": true, "CALL": true, "EXECUTE": true,
	"DO": true, "VACUUM": true, "ANALYZE": true, "REINDEX": true, "CLUSTER": true,
	"LOCK": true, "SET": true, "RESET": true, "LISTEN": true, "NOTIFY": true,
	"UNLISTEN": true, "PREPARE": true, "DEALLOCATE": true, "REFRESH": true,
	"COMMENT": true, "SECURITY": true, "INTO": true, "DISCARD": true,
	"CHECKPOINT": true, "LOAD": true, "IMPORT": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "SHOW": true, "BEGIN": true, "COMMIT": true,
	"ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true,
}

// deniedFunctions read files, sleep, reach other databases or alter
// session state.
var deniedFunctions = map[string]bool{
	"pg_sleep": true, "pg_sleep_for": true, "pg_sleep_until": true,
	"pg_read_file": true, "pg_read_binary_file": true, "pg_ls_dir": true, "pg_stat_file": true,
	"lo_import": true, "lo_export": true, "lo_get": true, "lo_put": true,
	"dblink": true, "dblink_exec": true, "set_config": true, "current_setting": true,
	"pg_terminate_backend": true, "pg_cancel_backend": true, "pg_reload_conf": true,
	"query_to_xml": true, "query_to_json": true, "version": true,
}

// Check validates sql and returns the query to execute.
func (g *Guard) Check(sql string) (*Checked, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, reject(RuleEmpty, "query is empty")
	}

	toks := lex(sql)
	body, toks, err := singleStatement(sql, toks)
	if err != nil {
		return nil, err
	}
	if err := readOnly(toks); err != nil {
		return nil, err
	}
	if err := noDeniedFunctions(toks); err != nil {
		return nil, err
	}
	if err := noSystemSchemas(toks); err != nil {
		return nil, err
	}
	tables, err := g.whitelisted(body, toks)
	if err != nil {
		return nil, err
	}

	checked := &Checked{Original: sql, Tables: tables}
	if err := g.applyLimit(body, toks, checked); err != nil {
		return nil, err
	}
	return checked, nil
}

// singleStatement rejects a second statement and strips one trailing
// terminator. It returns the statement body and its tokens.
func singleStatement(sql string, toks []token) (string, []token, error) {
	for i, t := range toks {
		if !t.isPunct(";") {
			continue
		}
		if i != len(toks)-1 {
			return "", nil, reject(RuleSingleStatement, "only one statement is allowed")
		}
		body := trimRight(sql[:t.start])
		if strings.TrimSpace(body) == "" {
			return "", nil, reject(RuleEmpty, "query is empty")
		}
		return body, toks[:i], nil
	}
	return trimRight(sql), toks, nil
}

// trimRight keeps leading whitespace so token offsets stay valid.
func trimRight(s string) string {
	return strings.TrimRight(s, " \t\r\n\f")
}

func readOnly(toks []token) error {
	first := firstWord(toks)
	if first == nil {
		return reject(RuleReadOnly, "query must start with SELECT or WITH")
	}
	if kw := first.upper(); kw != "SELECT" && kw != "WITH" {
		return reject(RuleReadOnly, "query must start with SELECT or WITH, got %s", kw)
	}
	for _, t := range toks {
		if t.kind == tokWord && deniedWords[t.upper()] {
			return reject(RuleReadOnly, "%s is not allowed", t.upper())
		}
	}
	return nil
}

// firstWord skips leading parentheses.
func firstWord(toks []token) *token {
	for i := range toks {
		if toks[i].isPunct("(") {
			continue
		}
		if toks[i].kind == tokWord {
			return &toks[i]
		}
		return nil
	}
	return nil
}

func noDeniedFunctions(toks []token) error {
	for _, t := range toks {
		if (t.kind == tokWord || t.kind == tokQuotedIdent) && deniedFunctions[t.text] {
			return reject(RuleDeniedFunction, "function %s is not allowed", t.text)
		}
	}
	return nil
}

func noSystemSchemas(toks []token) error {
	for _, t := range toks {
		if t.kind != tokWord && t.kind != tokQuotedIdent {
			continue
		}
		if strings.HasPrefix(t.text, "pg_") || t.text == "information_schema" {
			return reject(RuleSystemSchema, "%s is not accessible", t.text)
		}
	}
	return nil
}

func (g *Guard) whitelisted(body string, toks []token) ([]string, error) {
	refs := extractTables(body, toks)
	if len(refs) == 0 {
		return nil, reject(RuleTableWhitelist, "query must read from %s", g.tableList())
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Schema != "" && !g.schemas[ref.Schema] {
			return nil, reject(RuleTableWhitelist, "schema %s is not accessible", ref.Schema)
		}
		if !g.tables[ref.Table] {
			return nil, reject(RuleTableWhitelist, "table %s is not accessible", ref.FullPath)
		}
		names = append(names, ref.Table)
	}
	return names, nil
}

func (g *Guard) tableList() string {
	names := make([]string, 0, len(g.tables))
	for t := range g.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// applyLimit injects or clamps the top-level LIMIT.
func (g *Guard) applyLimit(body string, toks []token, c *Checked) error {
	limitAt := -1
	for i, t := range toks {
		if t.depth != 0 || t.kind != tokWord {
			continue
		}
		switch t.text {
		case "limit":
			limitAt = i
		case "fetch":
			return reject(RuleRowLimit, "use LIMIT instead of FETCH")
		}
	}

	if limitAt < 0 {
		c.SQL = body + "\nLIMIT " + strconv.Itoa(g.defaultLimit)
		c.Limit = g.defaultLimit
		c.LimitInjected = true
		return nil
	}
	if limitAt+1 >= len(toks) {
		return reject(RuleRowLimit, "LIMIT requires a row count")
	}

	arg := toks[limitAt+1]
	switch {
	case arg.isWord("all"):
	case arg.kind == tokNumber:
		n, err := strconv.Atoi(arg.text)
		if err != nil || n < 0 {
			return reject(RuleRowLimit, "LIMIT must be a non-negative integer")
		}
		if n <= g.maxLimit {
			c.SQL = body
			c.Limit = n
			return nil
		}
	default:
		return reject(RuleRowLimit, "LIMIT must be a non-negative integer")
	}

	c.SQL = body[:arg.start] + strconv.Itoa(g.maxLimit) + body[arg.end:]
	c.Limit = g.maxLimit
	c.LimitClamped = true
	return nil
}
