// Package readlang defines the small textual grammar the control API
// accepts for the read RPC's command field, e.g. "GET orders 42",
// "SCAN orders 10 20", or "STATUS". It exists purely as a convenience
// encoding on top of command.Command — the engine itself never sees this
// grammar, only the Command it compiles down to.
package readlang

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/lumapart/raftengine/pkg/command"
)

// Statement is the parsed AST of one read-command line.
type Statement struct {
	Get    *Get    `"GET" @@`
	Scan   *Scan   `| "SCAN" @@`
	Status *Status `| @@`
}

// Get looks up a single key within a table.
type Get struct {
	Table string `@Ident`
	Key   string `@Ident`
}

// Scan lists a key range within a table.
type Scan struct {
	Table string `@Ident`
	Start string `@Ident`
	End   string `@Ident`
}

// Status requests engine status via the readlang surface; it is spelled
// out as a distinct alternative rather than a bare keyword to keep the
// grammar unambiguous with Get/Scan's leading keywords.
type Status struct {
	Keyword string `@"STATUS"`
}

var readLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[a-zA-Z0-9_./-]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[Statement](
	participle.Lexer(readLexer),
	participle.Elide("Whitespace"),
)

// Parse compiles a read-command line into a Statement.
func Parse(line string) (*Statement, error) {
	stmt, err := parser.ParseString("", line)
	if err != nil {
		return nil, fmt.Errorf("readlang: parse %q: %w", line, err)
	}
	return stmt, nil
}

// Compile lowers a Statement into the command.Command the engine's read
// dispatcher understands. GET/SCAN are modeled as Execute calls against
// the built-in "kv" host-function module registered by cmd/engined; a
// deployment without that module simply gets a registry-not-found error
// back as the read's reply.
func Compile(stmt *Statement) (command.Command, error) {
	switch {
	case stmt.Get != nil:
		return command.ExecuteCommand(stmt.Get.Table, "kv", "get", []byte(stmt.Get.Key)), nil
	case stmt.Scan != nil:
		args := []byte(stmt.Scan.Start + ".." + stmt.Scan.End)
		return command.ExecuteCommand(stmt.Scan.Table, "kv", "scan", args), nil
	case stmt.Status != nil:
		return command.NoopCommand(), nil
	default:
		return command.Command{}, fmt.Errorf("readlang: empty statement")
	}
}

// ParseCommand parses and compiles line in one step.
func ParseCommand(line string) (command.Command, error) {
	stmt, err := Parse(line)
	if err != nil {
		return command.Command{}, err
	}
	return Compile(stmt)
}
