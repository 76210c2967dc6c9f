package policy

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript"
	"github.com/btcsuite/miniscript/internal/expression"
)

// Kind identifies the kind of a policy node.
type Kind uint8

const (
	KindUnsatisfiable Kind = iota
	KindTrivial
	KindKey
	KindAfter
	KindOlder
	KindSha256
	KindHash256
	KindRipemd160
	KindHash160
	KindAnd
	KindOr
	KindThresh
)

const (
	p_unsatisfiable = "UNSATISFIABLE"
	p_trivial       = "TRIVIAL"
	p_pk            = "pk"
	p_after         = "after"
	p_older         = "older"
	p_sha256        = "sha256"
	p_hash256       = "hash256"
	p_ripemd160     = "ripemd160"
	p_hash160       = "hash160"
	p_and           = "and"
	p_or            = "or"
	p_thresh        = "thresh"
)

var kindNames = map[Kind]string{
	KindUnsatisfiable: p_unsatisfiable,
	KindTrivial:       p_trivial,
	KindKey:           p_pk,
	KindAfter:         p_after,
	KindOlder:         p_older,
	KindSha256:        p_sha256,
	KindHash256:       p_hash256,
	KindRipemd160:     p_ripemd160,
	KindHash160:       p_hash160,
	KindAnd:           p_and,
	KindOr:            p_or,
	KindThresh:        p_thresh,
}

// String returns the text identifier of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown kind (%d)", uint8(k))
}

var hashKinds = map[Kind]miniscript.HashFunc{
	KindSha256:    miniscript.HashSha256,
	KindHash256:   miniscript.HashHash256,
	KindRipemd160: miniscript.HashRipemd160,
	KindHash160:   miniscript.HashHash160,
}

// Policy is a spending policy: a tree of keys, timelocks and hash locks
// combined by and, or and thresholds. Unlike a miniscript it says nothing
// about how the conditions are checked by a script. A Policy is immutable.
type Policy struct {
	kind Kind

	key  miniscript.Key
	hash []byte

	// value is the lock value of after and older, and the threshold of
	// thresh.
	value uint32

	subs []*Policy

	// weights are the relative probabilities of the branches of an or.
	weights []uint32
}

// Unsatisfiable returns the policy that can never be satisfied.
func Unsatisfiable() *Policy {
	return &Policy{kind: KindUnsatisfiable}
}

// Trivial returns the policy that is always satisfied.
func Trivial() *Policy {
	return &Policy{kind: KindTrivial}
}

// NewKey returns pk(key).
func NewKey(key miniscript.Key) *Policy {
	return &Policy{kind: KindKey, key: key}
}

func checkLock(kind Kind, n uint32) error {
	if n == 0 || n >= 1<<31 {
		return miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("%v value %d must be in the range "+
				"[1, 2^31)", kind, n))
	}
	return nil
}

// NewAfter returns after(n), an absolute timelock.
func NewAfter(n uint32) (*Policy, error) {
	if err := checkLock(KindAfter, n); err != nil {
		return nil, err
	}
	return &Policy{kind: KindAfter, value: n}, nil
}

// NewOlder returns older(n), a relative timelock.
func NewOlder(n uint32) (*Policy, error) {
	if err := checkLock(KindOlder, n); err != nil {
		return nil, err
	}
	return &Policy{kind: KindOlder, value: n}, nil
}

// NewHash returns a hash lock of the given kind, e.g. sha256(h).
func NewHash(kind Kind, hash []byte) (*Policy, error) {
	fn, ok := hashKinds[kind]
	if !ok {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("%v is not a hash lock", kind))
	}
	if len(hash) != fn.Size() {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("%v len must be %d, got %d", kind,
				fn.Size(), len(hash)))
	}
	return &Policy{kind: kind, hash: append([]byte(nil), hash...)}, nil
}

// NewAnd returns the conjunction of at least two policies.
func NewAnd(subs ...*Policy) (*Policy, error) {
	if len(subs) < 2 {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("and needs at least 2 arguments, got %d",
				len(subs)))
	}
	return &Policy{kind: KindAnd, subs: subs}, nil
}

// NewOr returns the disjunction of at least two policies, all equally
// likely to be used.
func NewOr(subs ...*Policy) (*Policy, error) {
	weights := make([]uint32, len(subs))
	for i := range weights {
		weights[i] = 1
	}
	return NewWeightedOr(weights, subs)
}

// NewWeightedOr returns the disjunction of at least two policies. The weights
// are the relative probabilities of each branch being used to spend, which
// the compiler uses to pick the cheapest encoding. They must be positive.
func NewWeightedOr(weights []uint32, subs []*Policy) (*Policy, error) {
	if len(subs) < 2 {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("or needs at least 2 arguments, got %d",
				len(subs)))
	}
	if len(weights) != len(subs) {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("or has %d weights for %d arguments",
				len(weights), len(subs)))
	}
	var total uint64
	for _, w := range weights {
		if w == 0 {
			return nil, miniscript.NewError(
				miniscript.ErrTypeCheck, -1,
				"or branch weights must be positive",
			)
		}
		total += uint64(w)
	}
	if total >= 1<<32 {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			"or branch weights overflow")
	}
	return &Policy{
		kind:    KindOr,
		subs:    subs,
		weights: append([]uint32(nil), weights...),
	}, nil
}

// NewThresh returns the policy satisfied by any k of the sub policies.
func NewThresh(k uint32, subs ...*Policy) (*Policy, error) {
	if len(subs) == 0 {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			"thresh must have at least one argument")
	}
	if k == 0 || int(k) > len(subs) {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("thresh k %d must be in the range [1, %d]",
				k, len(subs)))
	}
	return &Policy{kind: KindThresh, value: k, subs: subs}, nil
}

// Kind returns the kind of the node.
func (p *Policy) Kind() Kind {
	return p.kind
}

// Key returns the key of pk, or nil.
func (p *Policy) Key() miniscript.Key {
	return p.key
}

// Hash returns the hash of a hash lock, or nil.
func (p *Policy) Hash() []byte {
	return p.hash
}

// Value returns the lock value of after and older, or the threshold of
// thresh.
func (p *Policy) Value() uint32 {
	return p.value
}

// Subs returns the sub policies of and, or and thresh.
func (p *Policy) Subs() []*Policy {
	return p.subs
}

// Weights returns the branch weights of or.
func (p *Policy) Weights() []uint32 {
	return p.weights
}

// String returns the text form of the policy. Or branches with weight 1 are
// printed without their weight prefix.
func (p *Policy) String() string {
	var b strings.Builder
	p.write(&b)
	return b.String()
}

func (p *Policy) write(b *strings.Builder) {
	b.WriteString(p.kind.String())
	switch p.kind {
	case KindUnsatisfiable, KindTrivial:
		return

	case KindKey:
		b.WriteString("(" + p.key.String() + ")")

	case KindAfter, KindOlder:
		b.WriteString("(" + strconv.FormatUint(uint64(p.value), 10) +
			")")

	case KindSha256, KindHash256, KindRipemd160, KindHash160:
		b.WriteString("(" + hex.EncodeToString(p.hash) + ")")

	default:
		b.WriteByte('(')
		if p.kind == KindThresh {
			b.WriteString(strconv.FormatUint(uint64(p.value), 10))
			b.WriteByte(',')
		}
		for i, sub := range p.subs {
			if i > 0 {
				b.WriteByte(',')
			}
			if p.kind == KindOr && p.weights[i] != 1 {
				b.WriteString(strconv.FormatUint(
					uint64(p.weights[i]), 10,
				))
				b.WriteByte('@')
			}
			sub.write(b)
		}
		b.WriteByte(')')
	}
}

// Parse parses policy text with keys given as hex, e.g.
// `or(99@pk(K1),and(pk(K2),older(144)))`. The context determines how keys
// are parsed.
func Parse(policy string, ctx miniscript.ScriptContext) (*Policy, error) {
	return ParseWithKeyParser(policy, ctx, miniscript.ParseHexKey)
}

// ParseWithKeyParser parses policy text using kp to convert keys.
func ParseWithKeyParser(policy string, ctx miniscript.ScriptContext,
	kp miniscript.KeyParser) (*Policy, error) {

	tree, err := expression.Parse(policy)
	if err != nil {
		if e, ok := err.(*expression.Error); ok {
			return nil, miniscript.NewError(
				miniscript.ErrSyntax, e.Pos, e.Msg,
			)
		}
		return nil, err
	}

	parser := treeParser{ctx: ctx, keyParser: kp}
	p, err := parser.parse(tree)
	if err != nil {
		return nil, err
	}
	log.Tracef("Parsed policy %v", p)
	return p, nil
}

type treeParser struct {
	ctx       miniscript.ScriptContext
	keyParser miniscript.KeyParser
}

func syntaxError(t *expression.Tree, format string,
	args ...interface{}) error {

	return miniscript.NewError(miniscript.ErrSyntax, t.Pos,
		fmt.Sprintf(format, args...))
}

// atPos attaches the position of t to an error without one.
func atPos(t *expression.Tree, err error) error {
	if e, ok := err.(miniscript.Error); ok && e.Offset < 0 {
		e.Offset = t.Pos
		return e
	}
	return err
}

func expectArgs(t *expression.Tree, n int) error {
	if len(t.Args) != n {
		return syntaxError(t, "%s expects %d arguments, got %d",
			t.Name, n, len(t.Args))
	}
	return nil
}

// parseLeafArg returns the single leaf argument of t.
func parseLeafArg(t *expression.Tree) (string, error) {
	if err := expectArgs(t, 1); err != nil {
		return "", err
	}
	if !t.Args[0].IsLeaf() {
		return "", syntaxError(t.Args[0], "%s argument must not "+
			"have arguments", t.Name)
	}
	return t.Args[0].Name, nil
}

func (tp *treeParser) parse(t *expression.Tree) (*Policy, error) {
	if strings.Contains(t.Name, "@") {
		return nil, syntaxError(t, "weights are only allowed in or, "+
			"got %s", t.Name)
	}

	switch t.Name {
	case p_unsatisfiable, p_trivial:
		if !t.IsLeaf() {
			return nil, syntaxError(t, "%s has no arguments",
				t.Name)
		}
		if t.Name == p_trivial {
			return Trivial(), nil
		}
		return Unsatisfiable(), nil

	case p_pk:
		arg, err := parseLeafArg(t)
		if err != nil {
			return nil, err
		}
		key, err := tp.keyParser(arg, tp.ctx)
		if err != nil {
			return nil, atPos(t.Args[0], err)
		}
		return NewKey(key), nil

	case p_after, p_older:
		arg, err := parseLeafArg(t)
		if err != nil {
			return nil, err
		}
		n, err := expression.ParseNum(arg)
		if err != nil {
			return nil, syntaxError(t.Args[0], "%v", err)
		}
		var p *Policy
		if t.Name == p_after {
			p, err = NewAfter(n)
		} else {
			p, err = NewOlder(n)
		}
		return p, atPos(t, err)

	case p_sha256, p_hash256, p_ripemd160, p_hash160:
		arg, err := parseLeafArg(t)
		if err != nil {
			return nil, err
		}
		hash, err := hex.DecodeString(arg)
		if err != nil {
			return nil, syntaxError(t.Args[0], "invalid hex hash "+
				"%q", arg)
		}
		var kind Kind
		for k, name := range kindNames {
			if name == t.Name {
				kind = k
			}
		}
		p, err := NewHash(kind, hash)
		return p, atPos(t, err)

	case p_and:
		subs, err := tp.parseSubs(t.Args)
		if err != nil {
			return nil, err
		}
		p, err := NewAnd(subs...)
		return p, atPos(t, err)

	case p_or:
		weights := make([]uint32, len(t.Args))
		subs := make([]*Policy, len(t.Args))
		for i, arg := range t.Args {
			weights[i] = 1
			if at := strings.IndexByte(arg.Name, '@'); at >= 0 {
				w, err := expression.ParseNum(arg.Name[:at])
				if err != nil {
					return nil, syntaxError(arg, "invalid "+
						"or weight %q", arg.Name[:at])
				}
				weights[i] = w
				stripped := *arg
				stripped.Name = arg.Name[at+1:]
				stripped.Pos += at + 1
				arg = &stripped
			}
			sub, err := tp.parse(arg)
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		p, err := NewWeightedOr(weights, subs)
		return p, atPos(t, err)

	case p_thresh:
		if len(t.Args) < 2 {
			return nil, syntaxError(t, "thresh expects a threshold "+
				"and at least one argument")
		}
		if !t.Args[0].IsLeaf() {
			return nil, syntaxError(t.Args[0], "thresh k must be "+
				"a number")
		}
		k, err := expression.ParseNum(t.Args[0].Name)
		if err != nil {
			return nil, syntaxError(t.Args[0], "invalid thresh k "+
				"%q: %v", t.Args[0].Name, err)
		}
		subs, err := tp.parseSubs(t.Args[1:])
		if err != nil {
			return nil, err
		}
		p, err := NewThresh(k, subs...)
		return p, atPos(t, err)
	}

	return nil, syntaxError(t, "unknown policy %q", t.Name)
}

func (tp *treeParser) parseSubs(args []*expression.Tree) ([]*Policy, error) {
	subs := make([]*Policy, len(args))
	for i, arg := range args {
		sub, err := tp.parse(arg)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}
	return subs, nil
}

// timelockInfo records the timelock units used by a policy.
type timelockInfo struct {
	afterHeight, afterTime bool
	olderHeight, olderTime bool

	// combined is set if some satisfaction needs locks of conflicting
	// units.
	combined bool
}

// conflicts returns true if requiring both t and o would need a height and
// a time based lock of the same kind.
func (t timelockInfo) conflicts(o timelockInfo) bool {
	return (t.afterHeight && o.afterTime) ||
		(t.afterTime && o.afterHeight) ||
		(t.olderHeight && o.olderTime) ||
		(t.olderTime && o.olderHeight)
}

func (t timelockInfo) union(o timelockInfo) timelockInfo {
	return timelockInfo{
		afterHeight: t.afterHeight || o.afterHeight,
		afterTime:   t.afterTime || o.afterTime,
		olderHeight: t.olderHeight || o.olderHeight,
		olderTime:   t.olderTime || o.olderTime,
		combined:    t.combined || o.combined,
	}
}

// Validate checks the policy as a whole: keys must not repeat and no
// combination of branches that can be required together may mix height and
// time based locks of the same kind, since no transaction could satisfy both.
func (p *Policy) Validate() error {
	seen := make(map[string]struct{})
	var err error
	p.walk(func(node *Policy) bool {
		if node.kind != KindKey {
			return true
		}
		s := string(node.key.Serialize())
		if _, ok := seen[s]; ok {
			err = miniscript.NewError(miniscript.ErrTypeCheck, -1,
				fmt.Sprintf("duplicate key %v", node.key))
			return false
		}
		seen[s] = struct{}{}
		return true
	})
	if err != nil {
		return err
	}

	if p.timelocks().combined {
		return miniscript.NewError(miniscript.ErrTypeCheck, -1,
			fmt.Sprintf("%v combines height and time based locks", p))
	}
	return nil
}

// timelocks computes the timelock units of the policy. The subs of an and, and
// those of a thresh with k > 1, can be required together.
func (p *Policy) timelocks() timelockInfo {
	switch p.kind {
	case KindAfter:
		if p.value < txscript.LockTimeThreshold {
			return timelockInfo{afterHeight: true}
		}
		return timelockInfo{afterTime: true}

	case KindOlder:
		if p.value&wire.SequenceLockTimeIsSeconds != 0 {
			return timelockInfo{olderTime: true}
		}
		return timelockInfo{olderHeight: true}

	case KindAnd, KindOr, KindThresh:
		together := p.kind == KindAnd ||
			(p.kind == KindThresh && p.value > 1)

		var info timelockInfo
		for _, sub := range p.subs {
			subInfo := sub.timelocks()
			if together && info.conflicts(subInfo) {
				info.combined = true
			}
			info = info.union(subInfo)
		}
		return info
	}
	return timelockInfo{}
}

// walk visits the tree in pre-order until f returns false.
func (p *Policy) walk(f func(*Policy) bool) bool {
	if !f(p) {
		return false
	}
	for _, sub := range p.subs {
		if !sub.walk(f) {
			return false
		}
	}
	return true
}

// Keys returns the keys of the policy in pre-order.
func (p *Policy) Keys() []miniscript.Key {
	var keys []miniscript.Key
	p.walk(func(node *Policy) bool {
		if node.kind == KindKey {
			keys = append(keys, node.key)
		}
		return true
	})
	return keys
}
