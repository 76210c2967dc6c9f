package miniscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// KeyHashResolver is implemented by types that can find the public key behind
// the HASH160 committed to by a pk_h fragment.
type KeyHashResolver interface {
	KeyByHash(hash []byte) (Key, bool)
}

type tokenKind uint8

const (
	tkBoolAnd tokenKind = iota
	tkBoolOr
	tkAdd
	tkEqual
	tkNumEqual
	tkCheckSig
	tkCheckSigAdd
	tkCheckMultiSig
	tkCheckSequenceVerify
	tkCheckLockTimeVerify
	tkFromAltStack
	tkToAltStack
	tkDup
	tkIf
	tkIfDup
	tkNotIf
	tkElse
	tkEndIf
	tkZeroNotEqual
	tkSize
	tkSwap
	tkVerify
	tkRipemd160
	tkHash160
	tkSha256
	tkHash256
	tkNum
	tkHash20
	tkBytes32
	tkBytes33
	tkBytes65
)

var tokenNames = map[tokenKind]string{
	tkBoolAnd:             "BOOLAND",
	tkBoolOr:              "BOOLOR",
	tkAdd:                 "ADD",
	tkEqual:               "EQUAL",
	tkNumEqual:            "NUMEQUAL",
	tkCheckSig:            "CHECKSIG",
	tkCheckSigAdd:         "CHECKSIGADD",
	tkCheckMultiSig:       "CHECKMULTISIG",
	tkCheckSequenceVerify: "CHECKSEQUENCEVERIFY",
	tkCheckLockTimeVerify: "CHECKLOCKTIMEVERIFY",
	tkFromAltStack:        "FROMALTSTACK",
	tkToAltStack:          "TOALTSTACK",
	tkDup:                 "DUP",
	tkIf:                  "IF",
	tkIfDup:               "IFDUP",
	tkNotIf:               "NOTIF",
	tkElse:                "ELSE",
	tkEndIf:               "ENDIF",
	tkZeroNotEqual:        "0NOTEQUAL",
	tkSize:                "SIZE",
	tkSwap:                "SWAP",
	tkVerify:              "VERIFY",
	tkRipemd160:           "RIPEMD160",
	tkHash160:             "HASH160",
	tkSha256:              "SHA256",
	tkHash256:             "HASH256",
	tkNum:                 "<num>",
	tkHash20:              "<20 bytes>",
	tkBytes32:             "<32 bytes>",
	tkBytes33:             "<33 bytes>",
	tkBytes65:             "<65 bytes>",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind   tokenKind
	num    uint32
	data   []byte
	offset int
}

func (t token) String() string {
	if t.kind == tkNum {
		return fmt.Sprintf("<%d>", t.num)
	}
	return t.kind.String()
}

// opcodeTokens maps the non-push opcodes used by miniscript to their tokens.
// The VERIFY variants are split into the base token followed by tkVerify.
var opcodeTokens = map[byte][]tokenKind{
	txscript.OP_BOOLAND:             {tkBoolAnd},
	txscript.OP_BOOLOR:              {tkBoolOr},
	txscript.OP_ADD:                 {tkAdd},
	txscript.OP_EQUAL:               {tkEqual},
	txscript.OP_EQUALVERIFY:         {tkEqual, tkVerify},
	txscript.OP_NUMEQUAL:            {tkNumEqual},
	txscript.OP_NUMEQUALVERIFY:      {tkNumEqual, tkVerify},
	txscript.OP_CHECKSIG:            {tkCheckSig},
	txscript.OP_CHECKSIGVERIFY:      {tkCheckSig, tkVerify},
	txscript.OP_CHECKSIGADD:         {tkCheckSigAdd},
	txscript.OP_CHECKMULTISIG:       {tkCheckMultiSig},
	txscript.OP_CHECKMULTISIGVERIFY: {tkCheckMultiSig, tkVerify},
	txscript.OP_CHECKSEQUENCEVERIFY: {tkCheckSequenceVerify},
	txscript.OP_CHECKLOCKTIMEVERIFY: {tkCheckLockTimeVerify},
	txscript.OP_FROMALTSTACK:        {tkFromAltStack},
	txscript.OP_TOALTSTACK:          {tkToAltStack},
	txscript.OP_DUP:                 {tkDup},
	txscript.OP_IF:                  {tkIf},
	txscript.OP_IFDUP:               {tkIfDup},
	txscript.OP_NOTIF:               {tkNotIf},
	txscript.OP_ELSE:                {tkElse},
	txscript.OP_ENDIF:               {tkEndIf},
	txscript.OP_0NOTEQUAL:           {tkZeroNotEqual},
	txscript.OP_SIZE:                {tkSize},
	txscript.OP_SWAP:                {tkSwap},
	txscript.OP_VERIFY:              {tkVerify},
	txscript.OP_RIPEMD160:           {tkRipemd160},
	txscript.OP_HASH160:             {tkHash160},
	txscript.OP_SHA256:              {tkSha256},
	txscript.OP_HASH256:             {tkHash256},
}

// decodeScriptNum decodes a minimally encoded, non-negative script number of
// at most 4 bytes.
func decodeScriptNum(data []byte) (uint32, error) {
	if len(data) > 4 {
		return 0, fmt.Errorf("number of %d bytes is too long",
			len(data))
	}

	// The most significant byte must carry a value bit, unless it is
	// needed for the sign bit of the byte below it.
	last := data[len(data)-1]
	if last&0x7f == 0 && (len(data) == 1 || data[len(data)-2]&0x80 == 0) {
		return 0, fmt.Errorf("number %x is not minimally encoded", data)
	}
	if last&0x80 != 0 {
		return 0, fmt.Errorf("number %x is negative", data)
	}

	var n uint32
	for i, b := range data {
		n |= uint32(b) << (8 * uint(i))
	}
	return n, nil
}

// lex splits a script into miniscript tokens.
func lex(script []byte) ([]token, error) {
	var (
		tokens []token
		offset int
	)
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()

		if kinds, ok := opcodeTokens[op]; ok {
			// An explicit OP_VERIFY after an opcode with a VERIFY
			// variant is never produced.
			if op == txscript.OP_VERIFY && len(tokens) > 0 {
				switch tokens[len(tokens)-1].kind {
				case tkEqual, tkNumEqual, tkCheckSig,
					tkCheckMultiSig:

					return nil, offsetError(ErrInvalidOpcode,
						offset, "non-minimal VERIFY")
				}
			}
			for _, kind := range kinds {
				tokens = append(tokens, token{
					kind:   kind,
					offset: offset,
				})
			}
			offset = int(tokenizer.ByteIndex())
			continue
		}

		switch {
		case op == txscript.OP_0:
			tokens = append(tokens, token{kind: tkNum, offset: offset})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			tokens = append(tokens, token{
				kind:   tkNum,
				num:    uint32(op - (txscript.OP_1 - 1)),
				offset: offset,
			})

		case op >= txscript.OP_DATA_1 && op <= txscript.OP_DATA_75:
			tok := token{data: data, offset: offset}
			switch len(data) {
			case 20:
				tok.kind = tkHash20
			case 32:
				tok.kind = tkBytes32
			case 33:
				tok.kind = tkBytes33
			case 65:
				tok.kind = tkBytes65
			default:
				n, err := decodeScriptNum(data)
				if err != nil {
					return nil, offsetError(
						ErrInvalidOpcode, offset,
						err.Error())
				}
				if n <= 16 {
					return nil, offsetError(
						ErrInvalidOpcode, offset,
						fmt.Sprintf("non-minimal push "+
							"of %d", n))
				}
				tok.kind = tkNum
				tok.num = n
				tok.data = nil
			}
			tokens = append(tokens, tok)

		case op == txscript.OP_PUSHDATA1 || op == txscript.OP_PUSHDATA2 ||
			op == txscript.OP_PUSHDATA4:

			return nil, offsetError(ErrInvalidOpcode, offset,
				"non-minimal push")

		default:
			return nil, offsetError(ErrInvalidOpcode, offset,
				fmt.Sprintf("opcode %s is not used by "+
					"miniscript", opcodeName(op)))
		}
		offset = int(tokenizer.ByteIndex())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, offsetError(ErrInvalidOpcode, offset, err.Error())
	}
	return tokens, nil
}

// opcodeName returns the name of an opcode as used by the disassembler.
func opcodeName(op byte) string {
	s, err := txscript.DisasmString([]byte{op})
	if err != nil || s == "" {
		return fmt.Sprintf("0x%02x", op)
	}
	return s
}

type nonTermKind uint8

const (
	ntExpression nonTermKind = iota
	ntWExpression
	ntMaybeAndV
	ntAndV
	ntSwap
	ntAlt
	ntCheck
	ntDupIf
	ntVerify
	ntNonZero
	ntZeroNotEqual
	ntAndB
	ntOrB
	ntOrC
	ntOrD
	ntThreshW
	ntThreshE
	ntEndIf
	ntEndIfElse
	ntEndIfNotIf
)

type nonTerm struct {
	kind nonTermKind
	k    uint32
	n    int
}

// scriptParser parses tokens from the end of the script towards its start.
type scriptParser struct {
	ctx      ScriptContext
	resolver KeyHashResolver
	tokens   []token

	nonTerms []nonTerm
	terms    []*AST
}

// offset returns the position of the last token that was consumed.
func (p *scriptParser) offset() int {
	if len(p.tokens) == 0 {
		return 0
	}
	return p.tokens[len(p.tokens)-1].offset
}

func (p *scriptParser) peek() *token {
	if len(p.tokens) == 0 {
		return nil
	}
	return &p.tokens[len(p.tokens)-1]
}

func (p *scriptParser) next() (token, error) {
	if len(p.tokens) == 0 {
		return token{}, offsetError(ErrSyntax, 0, "unexpected start "+
			"of script")
	}
	tok := p.tokens[len(p.tokens)-1]
	p.tokens = p.tokens[:len(p.tokens)-1]
	return tok, nil
}

// accept consumes the next token if it has the given kind.
func (p *scriptParser) accept(kind tokenKind) (token, bool) {
	tok := p.peek()
	if tok == nil || tok.kind != kind {
		return token{}, false
	}
	p.tokens = p.tokens[:len(p.tokens)-1]
	return *tok, true
}

// expect consumes the given sequence of tokens.
func (p *scriptParser) expect(kinds ...tokenKind) ([]token, error) {
	toks := make([]token, len(kinds))
	for i, kind := range kinds {
		tok, ok := p.accept(kind)
		if !ok {
			return nil, p.unexpected(kind.String())
		}
		toks[i] = tok
	}
	return toks, nil
}

func (p *scriptParser) unexpected(expected string) error {
	tok := p.peek()
	if tok == nil {
		return offsetError(ErrSyntax, 0, "unexpected start of "+
			"script, expected "+expected)
	}
	return offsetError(ErrSyntax, tok.offset, fmt.Sprintf("unexpected "+
		"%v, expected %s", tok, expected))
}

func (p *scriptParser) pushNonTerm(kinds ...nonTermKind) {
	for _, kind := range kinds {
		p.nonTerms = append(p.nonTerms, nonTerm{kind: kind})
	}
}

func (p *scriptParser) popTerm() *AST {
	if len(p.terms) == 0 {
		return nil
	}
	top := p.terms[len(p.terms)-1]
	p.terms = p.terms[:len(p.terms)-1]
	return top
}

// reduce pushes the node returned by build, attaching the position of the
// current token to construction errors.
func (p *scriptParser) reduce(node *AST, err error) error {
	if err != nil {
		if e, ok := err.(Error); ok && e.Offset < 0 {
			return offsetError(e.ErrorCode, p.offset(),
				e.Description)
		}
		return err
	}
	p.terms = append(p.terms, node)
	return nil
}

// isAndV returns true if the next token continues an and_v chain.
func (p *scriptParser) isAndV() bool {
	tok := p.peek()
	if tok == nil {
		return false
	}
	switch tok.kind {
	case tkIf, tkNotIf, tkElse, tkToAltStack, tkSwap:
		return false
	}
	return true
}

func (p *scriptParser) parseKey(tok token) (Key, error) {
	key, err := ParsePubKey(tok.data)
	if err != nil {
		return nil, offsetError(ErrSyntax, tok.offset, err.Error())
	}
	return key, nil
}

// keyHash turns a pk_h hash into a node, resolving the key if possible.
func (p *scriptParser) keyHash(hash []byte) (*AST, error) {
	if p.resolver != nil {
		if key, ok := p.resolver.KeyByHash(hash); ok &&
			bytes.Equal(keyHash(key), hash) {

			return PkH(p.ctx, key)
		}
	}
	return RawPkH(p.ctx, hash)
}

// hashLock parses the `SIZE <32> EQUALVERIFY <op> <hash>` prefix of a hash
// fragment, after the final EQUAL has been consumed.
func (p *scriptParser) hashLock(hashTok token) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	var fn HashFunc
	switch {
	case tok.kind == tkSha256 && hashTok.kind == tkBytes32:
		fn = HashSha256
	case tok.kind == tkHash256 && hashTok.kind == tkBytes32:
		fn = HashHash256
	case tok.kind == tkRipemd160 && hashTok.kind == tkHash20:
		fn = HashRipemd160
	case tok.kind == tkHash160 && hashTok.kind == tkHash20:
		fn = HashHash160
	default:
		return offsetError(ErrSyntax, tok.offset, fmt.Sprintf("%v "+
			"cannot hash to %v", tok, hashTok))
	}
	if err := p.sizeCheck(); err != nil {
		return err
	}
	return p.reduce(HashLock(p.ctx, fn, hashTok.data))
}

func (p *scriptParser) sizeCheck() error {
	toks, err := p.expect(tkVerify, tkEqual, tkNum, tkSize)
	if err != nil {
		return err
	}
	if toks[2].num != 32 {
		return offsetError(ErrSyntax, toks[2].offset, fmt.Sprintf(
			"expected size 32, got %d", toks[2].num))
	}
	return nil
}

func (p *scriptParser) expression() error {
	tok, err := p.next()
	if err != nil {
		return err
	}

	switch tok.kind {
	case tkBytes32, tkBytes33, tkBytes65:
		key, err := p.parseKey(tok)
		if err != nil {
			return err
		}
		return p.reduce(PkK(p.ctx, key))

	case tkCheckSig:
		p.pushNonTerm(ntCheck, ntExpression)

	case tkVerify:
		return p.verifyExpression()

	case tkZeroNotEqual:
		p.pushNonTerm(ntZeroNotEqual, ntExpression)

	case tkCheckSequenceVerify, tkCheckLockTimeVerify:
		num, err := p.expect(tkNum)
		if err != nil {
			return err
		}
		if tok.kind == tkCheckSequenceVerify {
			return p.reduce(Older(p.ctx, num[0].num))
		}
		return p.reduce(After(p.ctx, num[0].num))

	case tkEqual:
		next, err := p.next()
		if err != nil {
			return err
		}
		switch next.kind {
		case tkBytes32, tkHash20:
			return p.hashLock(next)

		case tkNum:
			p.nonTerms = append(p.nonTerms, nonTerm{
				kind: ntThreshW,
				k:    next.num,
			})

		default:
			return offsetError(ErrSyntax, next.offset,
				fmt.Sprintf("unexpected %v before EQUAL", next))
		}

	case tkCheckMultiSig:
		return p.multi()

	case tkNumEqual:
		return p.multiA()

	case tkNum:
		switch tok.num {
		case 0:
			return p.reduce(False(p.ctx), nil)
		case 1:
			return p.reduce(True(p.ctx), nil)
		}
		return offsetError(ErrSyntax, tok.offset, fmt.Sprintf(
			"unexpected number %d", tok.num))

	case tkFromAltStack:
		p.pushNonTerm(ntAlt, ntMaybeAndV, ntExpression)

	case tkBoolAnd:
		p.pushNonTerm(ntAndB, ntExpression, ntWExpression)

	case tkBoolOr:
		p.pushNonTerm(ntOrB, ntExpression, ntWExpression)

	case tkEndIf:
		p.pushNonTerm(ntEndIf, ntMaybeAndV, ntExpression)

	default:
		return offsetError(ErrSyntax, tok.offset, fmt.Sprintf(
			"unexpected %v", tok))
	}
	return nil
}

// verifyExpression parses an expression ending in a VERIFY opcode, which is
// either a pk_h, a v: around a hash or thresh with a merged EQUALVERIFY, or a
// v: around any other expression.
func (p *scriptParser) verifyExpression() error {
	if _, ok := p.accept(tkEqual); !ok {
		p.pushNonTerm(ntVerify, ntExpression)
		return nil
	}

	tok, err := p.next()
	if err != nil {
		return err
	}
	switch tok.kind {
	case tkHash20:
		if _, ok := p.accept(tkHash160); ok {
			if _, ok := p.accept(tkDup); ok {
				return p.reduce(p.keyHash(tok.data))
			}
			p.pushNonTerm(ntVerify)
			if err := p.sizeCheck(); err != nil {
				return err
			}
			return p.reduce(Hash160(p.ctx, tok.data))
		}
		p.pushNonTerm(ntVerify)
		return p.hashLock(tok)

	case tkBytes32:
		p.pushNonTerm(ntVerify)
		return p.hashLock(tok)

	case tkNum:
		p.pushNonTerm(ntVerify)
		p.nonTerms = append(p.nonTerms, nonTerm{
			kind: ntThreshW,
			k:    tok.num,
		})
		return nil
	}
	return offsetError(ErrSyntax, tok.offset, fmt.Sprintf("unexpected "+
		"%v before EQUALVERIFY", tok))
}

func (p *scriptParser) multi() error {
	nTok, err := p.expect(tkNum)
	if err != nil {
		return err
	}
	n := int(nTok[0].num)
	if n > multisigMaxKeys {
		return offsetError(ErrResourceLimit, nTok[0].offset,
			fmt.Sprintf("number of multisig keys cannot exceed %d",
				multisigMaxKeys))
	}
	keys := make([]Key, n)
	for i := n - 1; i >= 0; i-- {
		tok, err := p.next()
		if err != nil {
			return err
		}
		if tok.kind != tkBytes33 && tok.kind != tkBytes65 {
			return offsetError(ErrSyntax, tok.offset, fmt.Sprintf(
				"unexpected %v, expected a public key", tok))
		}
		if keys[i], err = p.parseKey(tok); err != nil {
			return err
		}
	}
	kTok, err := p.expect(tkNum)
	if err != nil {
		return err
	}
	return p.reduce(Multi(p.ctx, kTok[0].num, keys...))
}

func (p *scriptParser) multiA() error {
	kTok, err := p.expect(tkNum)
	if err != nil {
		return err
	}
	var keys []Key
	for {
		if _, ok := p.accept(tkCheckSigAdd); ok {
			tok, err := p.expect(tkBytes32)
			if err != nil {
				return err
			}
			key, err := p.parseKey(tok[0])
			if err != nil {
				return err
			}
			keys = append(keys, key)
			if len(keys) >= multiAMaxKeys {
				return offsetError(ErrResourceLimit,
					tok[0].offset, fmt.Sprintf("number "+
						"of multi_a keys cannot "+
						"exceed %d", multiAMaxKeys))
			}
			continue
		}
		break
	}
	tok, err := p.expect(tkCheckSig, tkBytes32)
	if err != nil {
		return err
	}
	key, err := p.parseKey(tok[1])
	if err != nil {
		return err
	}
	keys = append(keys, key)

	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return p.reduce(MultiA(p.ctx, kTok[0].num, keys...))
}

func (p *scriptParser) reduce1(wrap func(*AST) (*AST, error)) error {
	x := p.popTerm()
	if x == nil {
		return offsetError(ErrSyntax, p.offset(), "missing expression")
	}
	return p.reduce(wrap(x))
}

func (p *scriptParser) reduce2(combine func(x, y *AST) (*AST, error)) error {
	x, y := p.popTerm(), p.popTerm()
	if x == nil || y == nil {
		return offsetError(ErrSyntax, p.offset(), "missing expression")
	}
	return p.reduce(combine(x, y))
}

// step processes the top non-terminal.
func (p *scriptParser) step(nt nonTerm) error {
	switch nt.kind {
	case ntExpression:
		return p.expression()

	case ntWExpression:
		if _, ok := p.accept(tkFromAltStack); ok {
			p.pushNonTerm(ntAlt, ntMaybeAndV, ntExpression)
		} else {
			p.pushNonTerm(ntSwap, ntMaybeAndV, ntExpression)
		}

	case ntMaybeAndV:
		if p.isAndV() {
			p.nonTerms = append(p.nonTerms, nonTerm{kind: ntAndV, n: 1})
			p.pushNonTerm(ntExpression)
		}

	case ntAndV:
		if p.isAndV() {
			p.nonTerms = append(p.nonTerms, nonTerm{
				kind: ntAndV,
				n:    nt.n + 1,
			})
			p.pushNonTerm(ntExpression)
			return nil
		}

		// The chain X1 ... Xn Y is folded into
		// and_v(X1,and_v(...,and_v(Xn,Y))). The first expression of
		// the script is on top of the stack.
		chain := make([]*AST, nt.n+1)
		for i := range chain {
			if chain[i] = p.popTerm(); chain[i] == nil {
				return offsetError(ErrSyntax, p.offset(),
					"missing expression")
			}
		}
		node := chain[len(chain)-1]
		for i := len(chain) - 2; i >= 0; i-- {
			var err error
			node, err = AndV(chain[i], node)
			if err != nil {
				return p.reduce(nil, err)
			}
		}
		p.terms = append(p.terms, node)

	case ntSwap:
		if _, err := p.expect(tkSwap); err != nil {
			return err
		}
		return p.reduce1(Swap)

	case ntAlt:
		if _, err := p.expect(tkToAltStack); err != nil {
			return err
		}
		return p.reduce1(Alt)

	case ntCheck:
		return p.reduce1(Check)
	case ntDupIf:
		return p.reduce1(DupIf)
	case ntVerify:
		return p.reduce1(Verify)
	case ntNonZero:
		return p.reduce1(NonZero)
	case ntZeroNotEqual:
		return p.reduce1(ZeroNotEqual)

	case ntAndB:
		return p.reduce2(AndB)
	case ntOrB:
		return p.reduce2(OrB)
	case ntOrC:
		return p.reduce2(OrC)
	case ntOrD:
		return p.reduce2(OrD)

	case ntThreshW:
		if _, ok := p.accept(tkAdd); ok {
			p.nonTerms = append(p.nonTerms, nonTerm{
				kind: ntThreshW,
				k:    nt.k,
				n:    nt.n + 1,
			})
			p.pushNonTerm(ntWExpression)
			return nil
		}
		p.nonTerms = append(p.nonTerms, nonTerm{
			kind: ntThreshE,
			k:    nt.k,
			n:    nt.n + 1,
		})
		p.pushNonTerm(ntExpression)

	case ntThreshE:
		subs := make([]*AST, nt.n)
		for i := range subs {
			if subs[i] = p.popTerm(); subs[i] == nil {
				return offsetError(ErrSyntax, p.offset(),
					"missing expression")
			}
		}
		return p.reduce(Thresh(nt.k, subs...))

	case ntEndIf:
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tkElse:
			p.pushNonTerm(ntEndIfElse, ntMaybeAndV, ntExpression)

		case tkIf:
			if _, ok := p.accept(tkDup); ok {
				p.pushNonTerm(ntDupIf)
				return nil
			}
			if _, err := p.expect(tkZeroNotEqual, tkSize); err != nil {
				return err
			}
			p.pushNonTerm(ntNonZero)

		case tkNotIf:
			if _, ok := p.accept(tkIfDup); ok {
				p.pushNonTerm(ntOrD, ntExpression)
			} else {
				p.pushNonTerm(ntOrC, ntExpression)
			}

		default:
			return offsetError(ErrSyntax, tok.offset, fmt.Sprintf(
				"unexpected %v before conditional branch", tok))
		}

	case ntEndIfElse:
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tkIf:
			return p.reduce2(OrI)

		case tkNotIf:
			p.pushNonTerm(ntEndIfNotIf, ntExpression)

		default:
			return offsetError(ErrSyntax, tok.offset, fmt.Sprintf(
				"unexpected %v before conditional branch", tok))
		}

	case ntEndIfNotIf:
		// The terms are X (condition), Z (NOTIF branch), Y (ELSE
		// branch) from the top.
		x, z, y := p.popTerm(), p.popTerm(), p.popTerm()
		if x == nil || y == nil || z == nil {
			return offsetError(ErrSyntax, p.offset(),
				"missing expression")
		}
		return p.reduce(AndOr(x, y, z))
	}
	return nil
}

// ParseScript decodes a script produced by a miniscript in the given context.
// Scripts that miniscript never produces are rejected, which makes
// ParseScript(s).Script() equal to s for every accepted script. Key hashes of
// pk_h fragments are resolved with resolver if it is not nil, otherwise they
// decode to expr_raw_pkh.
func ParseScript(script []byte, ctx ScriptContext,
	resolver KeyHashResolver) (*AST, error) {

	if len(script) > ctx.MaxScriptSize() {
		return nil, errorf(ErrResourceLimit, "script size %d is "+
			"larger than the %v limit of %d", len(script), ctx,
			ctx.MaxScriptSize())
	}
	tokens, err := lex(script)
	if err != nil {
		return nil, err
	}

	p := &scriptParser{
		ctx:      ctx,
		resolver: resolver,
		tokens:   tokens,
	}
	p.pushNonTerm(ntMaybeAndV, ntExpression)
	for len(p.nonTerms) > 0 {
		nt := p.nonTerms[len(p.nonTerms)-1]
		p.nonTerms = p.nonTerms[:len(p.nonTerms)-1]
		if err := p.step(nt); err != nil {
			return nil, err
		}
	}
	if len(p.tokens) > 0 {
		return nil, offsetError(ErrSyntax, p.offset(), fmt.Sprintf(
			"unexpected %v", p.peek()))
	}
	if len(p.terms) != 1 {
		return nil, offsetError(ErrSyntax, 0, "unbalanced script")
	}

	node := p.terms[0]
	if err := node.IsValidTopLevel(); err != nil {
		return nil, err
	}
	log.Tracef("Decoded %d byte script as %v", len(script), node)
	return node, nil
}
