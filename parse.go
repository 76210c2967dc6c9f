package miniscript

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/miniscript/internal/expression"
)

// Parse parses a miniscript string with hex encoded keys for the given
// context. The result is type checked and must be of type B.
func Parse(miniscript string, ctx ScriptContext) (*AST, error) {
	return ParseWithKeyParser(miniscript, ctx, ParseHexKey)
}

// ParseWithKeyParser parses a miniscript string, converting every key with
// keyParser.
func ParseWithKeyParser(miniscript string, ctx ScriptContext,
	keyParser KeyParser) (*AST, error) {

	tree, err := expression.Parse(miniscript)
	if err != nil {
		return nil, syntaxError(err)
	}

	p := textParser{ctx: ctx, keyParser: keyParser}
	node, err := p.parse(tree)
	if err != nil {
		return nil, err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return nil, err
	}

	log.Tracef("Parsed %v%v", node, newLogClosure(func() string {
		return "\n" + node.DrawTree()
	}))
	return node, nil
}

// syntaxError converts an expression error into an ErrSyntax error.
func syntaxError(err error) error {
	var exprErr *expression.Error
	if errors.As(err, &exprErr) {
		return offsetError(ErrSyntax, exprErr.Pos, exprErr.Msg)
	}
	return miniscriptError(ErrSyntax, err.Error())
}

// atPos attaches the position of t to errors that do not have one yet.
func atPos(t *expression.Tree, err error) error {
	var e Error
	if errors.As(err, &e) {
		if e.Offset >= 0 {
			return err
		}
		return offsetError(e.ErrorCode, t.Pos, e.Description)
	}
	return offsetError(ErrSyntax, t.Pos, err.Error())
}

type textParser struct {
	ctx       ScriptContext
	keyParser KeyParser
}

func (p *textParser) parse(t *expression.Tree) (*AST, error) {
	// Split wrappers from the identifier if they exist, e.g. in
	// "dv:older", "dv" are wrappers and "older" is the identifier.
	var (
		parts                = strings.Split(t.Name, ":")
		wrappers, identifier string
	)
	switch len(parts) {
	case 1:
		identifier = parts[0]

	case 2:
		wrappers, identifier = parts[0], parts[1]
		if wrappers == "" {
			return nil, offsetError(ErrSyntax, t.Pos, "no "+
				"wrappers found before colon before "+
				"identifier: "+identifier)
		}
		if identifier == "" {
			return nil, offsetError(ErrSyntax, t.Pos, "no "+
				"identifier found after colon after "+
				"wrappers: "+wrappers)
		}

	default:
		return nil, offsetError(ErrSyntax, t.Pos, "invalid number "+
			"of colons in token: "+t.Name)
	}

	node, err := p.parseFragment(t, identifier)
	if err != nil {
		return nil, atPos(t, err)
	}
	node, err = p.expandWrappers(node, wrappers)
	if err != nil {
		return nil, atPos(t, err)
	}
	return node, nil
}

// expandWrappers applies wrappers (the characters before a colon), e.g.
// `ascd:X` => `a(s(c(d(X))))`, replacing the t:, l: and u: shorthands with
// their final form.
func (p *textParser) expandWrappers(node *AST, wrappers string) (*AST,
	error) {

	const allWrappers = "asctdvjnlu"

	var err error
	for i := len(wrappers) - 1; i >= 0; i-- {
		wrapper := wrappers[i]
		switch wrapper {
		case 'a':
			node, err = Alt(node)
		case 's':
			node, err = Swap(node)
		case 'c':
			node, err = Check(node)
		case 'd':
			node, err = DupIf(node)
		case 'v':
			node, err = Verify(node)
		case 'j':
			node, err = NonZero(node)
		case 'n':
			node, err = ZeroNotEqual(node)

		// t:X = and_v(X,1)
		case 't':
			node, err = AndV(node, True(p.ctx))

		// l:X = or_i(0,X)
		case 'l':
			node, err = OrI(False(p.ctx), node)

		// u:X = or_i(X,0)
		case 'u':
			node, err = OrI(node, False(p.ctx))

		default:
			return nil, errorf(ErrSyntax, "unknown wrapper: %q, "+
				"expected one of %s", wrapper, allWrappers)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// expectArgs checks that t has exactly num arguments.
func expectArgs(t *expression.Tree, identifier string, num int) error {
	if len(t.Args) != num {
		return errorf(ErrSyntax, "%s expects %d arguments, got %d",
			identifier, num, len(t.Args))
	}
	return nil
}

// terminal returns the name of a leaf argument.
func terminal(t *expression.Tree, identifier string) (string, error) {
	if !t.IsLeaf() {
		return "", offsetError(ErrSyntax, t.Pos, "argument of "+
			identifier+" must not contain subexpressions")
	}
	return t.Name, nil
}

func (p *textParser) parseKey(t *expression.Tree,
	identifier string) (Key, error) {

	s, err := terminal(t, identifier)
	if err != nil {
		return nil, err
	}
	key, err := p.keyParser(s, p.ctx)
	if err != nil {
		var e Error
		if errors.As(err, &e) {
			return nil, atPos(t, err)
		}
		return nil, offsetError(ErrSyntax, t.Pos, err.Error())
	}
	return key, nil
}

func parseNum(t *expression.Tree, identifier string) (uint32, error) {
	s, err := terminal(t, identifier)
	if err != nil {
		return 0, err
	}
	n, err := expression.ParseNum(s)
	if err != nil {
		return 0, offsetError(ErrSyntax, t.Pos, identifier+": "+
			err.Error())
	}
	return n, nil
}

func parseHash(t *expression.Tree, identifier string) ([]byte, error) {
	s, err := terminal(t, identifier)
	if err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(s)
	if err != nil {
		return nil, offsetError(ErrSyntax, t.Pos, identifier+": "+
			"hash is not hex encoded: "+s)
	}
	return hash, nil
}

func (p *textParser) parseArgs(args []*expression.Tree) ([]*AST, error) {
	nodes := make([]*AST, len(args))
	for i, arg := range args {
		node, err := p.parse(arg)
		if err != nil {
			return nil, err
		}
		nodes[i] = node
	}
	return nodes, nil
}

// parseFragment builds the node of identifier, which must be a fragment name
// or a sugared form of one.
func (p *textParser) parseFragment(t *expression.Tree,
	identifier string) (*AST, error) {

	ctx := p.ctx
	switch identifier {
	case f_0, f_1:
		if err := expectArgs(t, identifier, 0); err != nil {
			return nil, err
		}
		if identifier == f_0 {
			return False(ctx), nil
		}
		return True(ctx), nil

	case f_pk_k, f_pk_h, f_pk, f_pkh:
		if err := expectArgs(t, identifier, 1); err != nil {
			return nil, err
		}
		key, err := p.parseKey(t.Args[0], identifier)
		if err != nil {
			return nil, err
		}
		switch identifier {
		case f_pk_k:
			return PkK(ctx, key)
		case f_pk_h:
			return PkH(ctx, key)
		case f_pk:
			return Pk(ctx, key)
		default:
			return Pkh(ctx, key)
		}

	case f_raw_pkh, f_sha256, f_hash256, f_ripemd160, f_hash160:
		if err := expectArgs(t, identifier, 1); err != nil {
			return nil, err
		}
		hash, err := parseHash(t.Args[0], identifier)
		if err != nil {
			return nil, err
		}
		switch identifier {
		case f_raw_pkh:
			return RawPkH(ctx, hash)
		case f_sha256:
			return Sha256(ctx, hash)
		case f_hash256:
			return Hash256(ctx, hash)
		case f_ripemd160:
			return Ripemd160(ctx, hash)
		default:
			return Hash160(ctx, hash)
		}

	case f_older, f_after:
		if err := expectArgs(t, identifier, 1); err != nil {
			return nil, err
		}
		n, err := parseNum(t.Args[0], identifier)
		if err != nil {
			return nil, err
		}
		if identifier == f_older {
			return Older(ctx, n)
		}
		return After(ctx, n)

	case f_andor:
		if err := expectArgs(t, identifier, 3); err != nil {
			return nil, err
		}
		args, err := p.parseArgs(t.Args)
		if err != nil {
			return nil, err
		}
		return AndOr(args[0], args[1], args[2])

	case f_and_v, f_and_b, f_and_n, f_or_b, f_or_c, f_or_d, f_or_i:
		if err := expectArgs(t, identifier, 2); err != nil {
			return nil, err
		}
		args, err := p.parseArgs(t.Args)
		if err != nil {
			return nil, err
		}
		combinator := map[string]func(x, y *AST) (*AST, error){
			f_and_v: AndV,
			f_and_b: AndB,
			f_and_n: AndN,
			f_or_b:  OrB,
			f_or_c:  OrC,
			f_or_d:  OrD,
			f_or_i:  OrI,
		}[identifier]
		return combinator(args[0], args[1])

	case f_thresh, f_multi, f_multi_a:
		if len(t.Args) < 2 {
			return nil, errorf(ErrSyntax, "%s must have at least "+
				"two arguments", identifier)
		}
		k, err := parseNum(t.Args[0], identifier)
		if err != nil {
			return nil, err
		}
		if identifier == f_thresh {
			subs, err := p.parseArgs(t.Args[1:])
			if err != nil {
				return nil, err
			}
			return Thresh(k, subs...)
		}

		keys := make([]Key, 0, len(t.Args)-1)
		for _, arg := range t.Args[1:] {
			key, err := p.parseKey(arg, identifier)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		if identifier == f_multi {
			return Multi(ctx, k, keys...)
		}
		return MultiA(ctx, k, keys...)
	}

	return nil, errorf(ErrSyntax, "unrecognized identifier: %s",
		identifier)
}
