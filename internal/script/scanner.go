package script

import (
	"fmt"
	"strings"
)

const (
	CategoryFilesystem = "filesystem-access"
	CategoryProcess    = "process-spawn"
	CategoryNetwork    = "network-egress"
	CategoryEval       = "dynamic-eval"
	CategoryReflection = "reflection-escape"
)

// SecurityError reports one denylisted operation found in validated source.
type SecurityError struct {
	Category string
	Token    string
	Line     int
	Column   int
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("script: denied %s token %q at %d:%d", e.Category, e.Token, e.Line, e.Column)
}

// DenyRule binds one operation category to its denylisted tokens.
type DenyRule struct {
	Category string
	Tokens   []string
}

// DefaultDenyRules covers the operation categories the host refuses to run.
// The scan is lexical and conservative: a match in commented-out code still
// rejects the script. Real isolation belongs to the execution engine.
func DefaultDenyRules() []DenyRule {
	return []DenyRule{
		{Category: CategoryFilesystem, Tokens: []string{
			"io.open", "io.lines", "io.read", "io.write",
			"os.remove", "os.rename", "os.tmpname",
		}},
		{Category: CategoryProcess, Tokens: []string{
			"os.execute", "os.exit", "io.popen",
		}},
		{Category: CategoryNetwork, Tokens: []string{
			"socket.tcp", "socket.udp", "socket.connect", "http.request",
		}},
		{Category: CategoryEval, Tokens: []string{
			"load(", "loadstring", "loadfile", "dofile",
		}},
		{Category: CategoryReflection, Tokens: []string{
			"debug.", "getfenv", "setfenv", "package.loadlib", "rawset(_G",
		}},
	}
}

// Scanner performs the static deny-list gate over validated source. Stateless.
type Scanner struct {
	rules []DenyRule
}

func NewScanner(rules []DenyRule) *Scanner {
	if len(rules) == 0 {
		rules = DefaultDenyRules()
	}
	return &Scanner{rules: rules}
}

// Scan returns the first denylisted match as a *SecurityError, or nil when the
// source is clean. Earliest position wins so reports are stable.
func (s *Scanner) Scan(source string) error {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		var best *SecurityError
		for _, rule := range s.rules {
			for _, token := range rule.Tokens {
				col := strings.Index(line, token)
				if col < 0 {
					continue
				}
				if best == nil || col < best.Column-1 {
					best = &SecurityError{
						Category: rule.Category,
						Token:    token,
						Line:     i + 1,
						Column:   col + 1,
					}
				}
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}
