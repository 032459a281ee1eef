// Package processors ships the example pipeline extensions: the Lua syntax
// validator and require extractor, the dependency resolver, the empty-deps
// cleaner, the method inferrer, and the kind linter. They are users of the
// pipeline contract, not part of the coordinator core.
package processors

import (
	"fmt"
	"regexp"
	"strings"
)

// Lua entry kinds whose source field the Lua processors inspect
var luaKinds = map[string]bool{
	"function.lua": true,
	"library.lua":  true,
	"process.lua":  true,
	"workflow.lua": true,
}

// Require is one extracted require call
type Require struct {
	// Module is the required module name
	Module string

	// Statement is the original require statement as written in source
	Statement string
}

// Parser turns Lua source into the facts the processors need. The default
// implementation is a lightweight scanner; deployments wanting full syntax
// checking plug in a grammar-backed parser.
type Parser interface {
	Parse(source string) ([]Require, error)
}

var requirePattern = regexp.MustCompile(`require\s*[(\s]\s*["']([^"']+)["']\s*\)?`)

// scanParser is the default Parser: extracts require statements and
// rejects sources with unbalanced block structure
type scanParser struct{}

// NewParser returns the default source parser
func NewParser() Parser {
	return scanParser{}
}

// Parse implements Parser
func (scanParser) Parse(source string) ([]Require, error) {
	if err := checkBalance(source); err != nil {
		return nil, err
	}

	var requires []Require
	seen := make(map[string]bool)
	for _, m := range requirePattern.FindAllStringSubmatch(source, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		requires = append(requires, Require{Module: m[1], Statement: strings.TrimSpace(m[0])})
	}
	return requires, nil
}

var (
	wordPattern    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	commentPattern = regexp.MustCompile(`--.*`)
	stringPattern  = regexp.MustCompile(`"(\\.|[^"\\])*"|'(\\.|[^'\\])*'`)
)

// checkBalance counts block openers against end keywords. It is a coarse
// stand-in for a real grammar but catches truncated sources reliably.
func checkBalance(source string) error {
	stripped := commentPattern.ReplaceAllString(stringPattern.ReplaceAllString(source, `""`), "")

	depth := 0
	for _, line := range strings.Split(stripped, "\n") {
		words := wordPattern.FindAllString(line, -1)
		for i, w := range words {
			switch w {
			case "function", "if", "while", "for":
				depth++
			case "do":
				// while/for headers already counted their block
				if !precededByLoopHeader(words, i) {
					depth++
				}
			case "repeat":
				depth++
			case "until", "end":
				depth--
				if depth < 0 {
					return fmt.Errorf("unexpected %q", w)
				}
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced blocks: %d unterminated", depth)
	}
	return nil
}

// precededByLoopHeader reports whether a "do" belongs to a while/for
// statement earlier on the same line
func precededByLoopHeader(words []string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if words[j] == "while" || words[j] == "for" {
			return true
		}
	}
	return false
}
