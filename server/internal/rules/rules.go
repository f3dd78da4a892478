package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/deltacache/server/internal/config"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("rules: syntax error")

// Facts is what a condition is evaluated against.
type Facts struct {
	Key    string
	Age    time.Duration
	Size   int
	Source string
}

// Condition is one parsed "field op value" expression.
type Condition struct {
	raw   string
	field string
	op    string
	num   float64
	str   string
}

// Parse parses expr into a Condition.
func Parse(expr string) (Condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("%w: %q: want \"field op value\"", ErrSyntax, expr)
	}
	c := Condition{raw: strings.Join(parts, " "), field: parts[0], op: parts[1]}
	rhs := parts[2]

	switch c.field {
	case "age":
		if !numericOp(c.op) {
			return Condition{}, fmt.Errorf("%w: %q: operator %q not valid for age", ErrSyntax, expr, c.op)
		}
		d, err := parseAge(rhs)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %q: %v", ErrSyntax, expr, err)
		}
		c.num = float64(d)
	case "size":
		if !numericOp(c.op) {
			return Condition{}, fmt.Errorf("%w: %q: operator %q not valid for size", ErrSyntax, expr, c.op)
		}
		n, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %q: size %q is not a number", ErrSyntax, expr, rhs)
		}
		c.num = n
	case "source", "key_prefix":
		if c.op != "==" && c.op != "!=" {
			return Condition{}, fmt.Errorf("%w: %q: operator %q not valid for %s", ErrSyntax, expr, c.op, c.field)
		}
		c.str = rhs
	default:
		return Condition{}, fmt.Errorf("%w: %q: unknown field %q", ErrSyntax, expr, c.field)
	}
	return c, nil
}

// parseAge accepts a Go duration ("30m") or a bare number of seconds ("1800").
func parseAge(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("age %q is neither a duration nor seconds", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func numericOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// String returns the normalized expression.
func (c Condition) String() string { return c.raw }

// IsZero reports whether c was never parsed.
func (c Condition) IsZero() bool { return c.field == "" }

// Match evaluates c against f. The zero Condition never matches.
func (c Condition) Match(f Facts) bool {
	switch c.field {
	case "age":
		return compareFloat(float64(f.Age), c.op, c.num)
	case "size":
		return compareFloat(float64(f.Size), c.op, c.num)
	case "source":
		return (f.Source == c.str) == (c.op == "==")
	case "key_prefix":
		return strings.HasPrefix(f.Key, c.str) == (c.op == "==")
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

type namedCondition struct {
	name string
	cond Condition
}

// Set is an ordered list of named conditions. The zero Set matches nothing.
type Set struct {
	rules []namedCondition
}

// Compile parses every rule. The first invalid condition fails the whole set.
func Compile(rules []config.EvictionRule) (Set, error) {
	out := Set{rules: make([]namedCondition, 0, len(rules))}
	for _, r := range rules {
		c, err := Parse(r.Condition)
		if err != nil {
			return Set{}, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		out.rules = append(out.rules, namedCondition{name: r.Name, cond: c})
	}
	return out, nil
}

// Len returns the number of rules.
func (s Set) Len() int { return len(s.rules) }

// Match returns the name of the first rule matching f.
func (s Set) Match(f Facts) (string, bool) {
	for _, r := range s.rules {
		if r.cond.Match(f) {
			return r.name, true
		}
	}
	return "", false
}
