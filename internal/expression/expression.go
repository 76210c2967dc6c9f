// Package expression parses the function call syntax shared by miniscript
// and policy text, e.g. `and_v(v:pk(A),older(144))`, into an untyped tree.
package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth is the maximum nesting of parentheses accepted by Parse.
const MaxDepth = 402

// Error is a syntax error at a byte offset of the input.
type Error struct {
	Pos int
	Msg string
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

func errorAt(pos int, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Tree is a node of the form `name` or `name(arg1,...,argn)`.
type Tree struct {
	Name string
	Args []*Tree

	// Pos is the byte offset of Name in the parsed string.
	Pos int
}

// String returns the text form of the tree.
func (t *Tree) String() string {
	if len(t.Args) == 0 {
		return t.Name
	}
	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		args[i] = arg.String()
	}
	return t.Name + "(" + strings.Join(args, ",") + ")"
}

// IsLeaf returns true if the node has no argument list.
func (t *Tree) IsLeaf() bool {
	return len(t.Args) == 0
}

// isAllowed returns true for the printable ASCII characters, which are the
// only ones that can appear in an expression.
func isAllowed(c byte) bool {
	return c >= ' ' && c <= '~'
}

// preCheck verifies the characters and the parentheses of s, reporting the
// position of the first offending character.
func preCheck(s string) error {
	if s == "" {
		return errorAt(0, "empty expression")
	}

	var open []int
	maxDepth := 0
	for pos := 0; pos < len(s); pos++ {
		c := s[pos]
		switch {
		case !isAllowed(c):
			return errorAt(pos, "invalid character %q", c)

		case c == '(':
			open = append(open, pos)
			if len(open) > maxDepth {
				maxDepth = len(open)
			}

		case c == ')':
			if len(open) == 0 {
				return errorAt(pos, "unmatched %q", c)
			}
			open = open[:len(open)-1]

			// An inner closing parenthesis must be followed by
			// another one or by a comma, the outermost one must end
			// the string.
			switch {
			case len(open) > 0 && pos == len(s)-1:
				return errorAt(open[len(open)-1], "unmatched "+
					"'('")

			case len(open) > 0 && s[pos+1] != ')' &&
				s[pos+1] != ',':

				return errorAt(pos+1, "expected ')' or ',', "+
					"got %q", s[pos+1])

			case len(open) == 0 && pos < len(s)-1:
				return errorAt(pos+1, "trailing character %q",
					s[pos+1])
			}

		case c == ',' && len(open) == 0:
			return errorAt(pos, "trailing character %q", c)
		}
	}
	if len(open) > 0 {
		return errorAt(open[len(open)-1], "unmatched '('")
	}
	if maxDepth > MaxDepth {
		return errorAt(0, "maximum nesting depth %d exceeded: %d",
			MaxDepth, maxDepth)
	}
	return nil
}

type token struct {
	text string
	pos  int
}

// splitString keeps separators as individual slice elements and splits a
// string into a slice of tokens based on multiple separators. It removes any
// empty elements from the output slice.
func splitString(s string, isSeparator func(c rune) bool) []token {
	tokens := make([]token, 0)
	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			return append(tokens, token{s[i:], i})
		}
		j += i

		// Append the substring before the separator, then the
		// separator as a separate element.
		if j > i {
			tokens = append(tokens, token{s[i:j], i})
		}
		tokens = append(tokens, token{s[j : j+1], j})
		i = j + 1
	}
	return tokens
}

func isSeparator(t string) bool {
	return t == "(" || t == ")" || t == ","
}

// Parse parses s into a tree. Names are not interpreted, but every name must
// be non-empty.
func Parse(s string) (*Tree, error) {
	if err := preCheck(s); err != nil {
		return nil, err
	}

	tokens := splitString(s, func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	})
	if isSeparator(tokens[0].text) {
		return nil, errorAt(0, "expected a name, got %q",
			tokens[0].text)
	}

	var stack []*Tree
	for i, tok := range tokens {
		var prev string
		if i > 0 {
			prev = tokens[i-1].text
		}

		switch tok.text {
		case "(":
			// "((", ")(" and ",(" cannot appear in a valid
			// expression.
			if isSeparator(prev) {
				return nil, errorAt(tok.pos, "expected a name "+
					"before '('")
			}

		case ",", ")":
			// End of an argument: "(,", "()", ",," and ",)" leave
			// an argument without a name.
			if prev == "(" || prev == "," {
				return nil, errorAt(tok.pos, "missing argument")
			}
			if len(stack) < 2 {
				return nil, errorAt(tok.pos, "unbalanced %q",
					tok.text)
			}
			arg := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.Args = append(parent.Args, arg)

		default:
			if prev == ")" {
				return nil, errorAt(tok.pos, "expected ')' or "+
					"',', got %q", tok.text)
			}
			stack = append(stack, &Tree{Name: tok.text, Pos: tok.pos})
		}
	}

	if len(stack) != 1 {
		return nil, errorAt(len(s), "unbalanced expression")
	}
	return stack[0], nil
}

// ParseNum parses a decimal number that fits in 32 bits. Signs and leading
// zeros are rejected.
func ParseNum(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if len(s) > 1 && (s[0] < '1' || s[0] > '9') {
		return 0, fmt.Errorf("number %q must start with a digit 1-9", s)
	}
	if s[0] < '0' || s[0] > '9' {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}
