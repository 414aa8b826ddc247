package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/noteindex/noteindex/pkg/types"
)

// Rejection rules reported in QueryRejectedError.Rule
const (
	RuleEmpty     = "empty"
	RuleMultiple  = "multiple_statements"
	RuleStatement = "statement"
	RuleParse     = "parse"
	RuleWrite     = "write"
	RuleTable     = "table"
	RuleVirtual   = "virtual_table"
)

var readKeywords = map[string]bool{
	"SELECT": true,
	"WITH":   true,
	"VALUES": true,
}

// writeOpcodes change the database or its schema no matter which cursor
// they run on
var writeOpcodes = map[string]bool{
	"OpenWrite":   true,
	"Destroy":     true,
	"Clear":       true,
	"CreateBtree": true,
	"ParseSchema": true,
	"DropTable":   true,
	"DropIndex":   true,
	"DropTrigger": true,
	"VUpdate":     true,
	"VCreate":     true,
	"VDestroy":    true,
	"Vacuum":      true,
	"JournalMode": true,
	"IncrVacuum":  true,
}

// cursorWrites are only legal against ephemeral cursors, which the engine
// opens for DISTINCT, UNION and recursive CTEs
var cursorWrites = map[string]bool{
	"Insert":    true,
	"IdxInsert": true,
	"Delete":    true,
	"IdxDelete": true,
}

var ephemeralOpens = map[string]bool{
	"OpenEphemeral": true,
	"OpenAutoindex": true,
	"SorterOpen":    true,
	"OpenPseudo":    true,
	"OpenDup":       true,
}

func reject(rule, format string, args ...any) error {
	return &types.QueryRejectedError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// firstStatement scans query, skipping string literals, quoted identifiers
// and comments. It returns the first statement without its terminator, the
// leading keyword and whether anything but whitespace or comments follows.
func firstStatement(query string) (stmt, keyword string, multiple bool) {
	end := len(query)
	terminated := false

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			j := strings.IndexByte(query[i+1:], closer)
			if j < 0 {
				i = len(query)
			} else {
				i += j + 1
			}
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				i = len(query)
			} else {
				i += j
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				i = len(query)
			} else {
				i += j + 3
			}
		case c == ';':
			if !terminated {
				terminated = true
				end = i
			}
		case unicode.IsSpace(rune(c)):
		default:
			if terminated {
				return query[:end], keyword, true
			}
			if keyword == "" {
				j := i
				for j < len(query) && (unicode.IsLetter(rune(query[j])) || query[j] == '_') {
					j++
				}
				if j == i {
					keyword = string(c)
				} else {
					keyword = strings.ToUpper(query[i:j])
					i = j - 1
				}
			}
		}
	}
	return query[:end], keyword, false
}

type instruction struct {
	opcode string
	p1     int64
	p2     int64
	p3     int64
}

// validate compiles the statement with EXPLAIN and checks every
// instruction of the program before anything runs
func (s *Sandbox) validate(ctx context.Context, query string) (string, error) {
	stmt, keyword, multiple := firstStatement(query)
	if keyword == "" {
		return "", reject(RuleEmpty, "no statement")
	}
	if multiple {
		return "", reject(RuleMultiple, "only one statement is allowed")
	}
	if !readKeywords[keyword] {
		return "", reject(RuleStatement, "%s statements are not allowed; use SELECT, WITH or VALUES", keyword)
	}

	program, err := s.explain(ctx, stmt)
	if err != nil {
		return "", reject(RuleParse, "%v", err)
	}

	allowed, err := s.allowedRootPages(ctx)
	if err != nil {
		return "", err
	}

	ephemeral := make(map[int64]bool)
	for _, in := range program {
		switch {
		case writeOpcodes[in.opcode]:
			return "", reject(RuleWrite, "statement modifies the database (%s)", in.opcode)
		case in.opcode == "Transaction" && in.p2 != 0:
			return "", reject(RuleWrite, "statement opens a write transaction")
		case ephemeralOpens[in.opcode]:
			ephemeral[in.p1] = true
		case cursorWrites[in.opcode] && !ephemeral[in.p1]:
			return "", reject(RuleWrite, "statement modifies the database (%s)", in.opcode)
		case in.opcode == "VOpen":
			return "", reject(RuleVirtual, "virtual tables are not allowed")
		case in.opcode == "OpenRead" || in.opcode == "ReopenIdx":
			if in.p3 != 0 || !allowed[in.p2] {
				name := s.rootPageName(ctx, in.p2, in.p3)
				return "", reject(RuleTable, "only the %s table may be queried, not %s", TableName, name)
			}
		}
	}
	return stmt, nil
}

// explain returns the compiled program. Rows are read fully before
// returning so the single connection is free for follow-up lookups.
func (s *Sandbox) explain(ctx context.Context, stmt string) ([]instruction, error) {
	rows, err := s.db.QueryContext(ctx, "EXPLAIN "+stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[strings.ToLower(c)] = i
	}
	for _, c := range []string{"opcode", "p1", "p2", "p3"} {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("unexpected EXPLAIN output: missing column %q", c)
		}
	}

	var program []instruction
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		program = append(program, instruction{
			opcode: toString(values[index["opcode"]]),
			p1:     toInt64(values[index["p1"]]),
			p2:     toInt64(values[index["p2"]]),
			p3:     toInt64(values[index["p3"]]),
		})
	}
	return program, rows.Err()
}

// allowedRootPages returns the b-tree root pages of the tasks table and
// its indexes
func (s *Sandbox) allowedRootPages(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT rootpage FROM sqlite_schema WHERE tbl_name = ? AND rootpage > 0", TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pages := make(map[int64]bool)
	for rows.Next() {
		var page int64
		if err := rows.Scan(&page); err != nil {
			return nil, err
		}
		pages[page] = true
	}
	return pages, rows.Err()
}

func (s *Sandbox) rootPageName(ctx context.Context, page, schema int64) string {
	if page == 1 {
		return "sqlite_schema"
	}
	table := "sqlite_schema"
	switch schema {
	case 0:
	case 1:
		table = "temp.sqlite_schema"
	default:
		return fmt.Sprintf("attached database %d", schema)
	}

	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT tbl_name FROM "+table+" WHERE rootpage = ?", page).Scan(&name)
	if err != nil {
		return fmt.Sprintf("root page %d", page)
	}
	return name
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
