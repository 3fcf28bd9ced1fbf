package monitor

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled display filter over feed entries.
type Filter struct {
	src     string
	program *vm.Program
}

// CompileFilter builds a filter from an expression evaluated per entry
// against type, sender, queue, session, and content. Examples:
//
//	type == "report"
//	sender startsWith "child" and content contains "failure"
func CompileFilter(src string) (*Filter, error) {
	program, err := expr.Compile(src, expr.Env(filterEnv(Entry{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &Filter{src: src, program: program}, nil
}

// Source returns the expression the filter was compiled from.
func (f *Filter) Source() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match reports whether the entry passes the filter. A nil filter
// passes everything; an evaluation failure fails open so a bad filter
// never hides traffic.
func (f *Filter) Match(e Entry) bool {
	if f == nil {
		return true
	}
	out, err := expr.Run(f.program, filterEnv(e))
	if err != nil {
		return true
	}
	pass, ok := out.(bool)
	return ok && pass
}

func filterEnv(e Entry) map[string]interface{} {
	return map[string]interface{}{
		"type":    e.Kind,
		"sender":  e.Sender,
		"queue":   e.Queue,
		"session": e.Session,
		"content": e.Content,
	}
}
