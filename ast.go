package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/wire"
)

// Fragment identifies the kind of a miniscript node.
type Fragment uint8

const (
	FragFalse Fragment = iota
	FragTrue
	FragPkK
	FragPkH
	FragRawPkH
	FragOlder
	FragAfter
	FragSha256
	FragHash256
	FragRipemd160
	FragHash160
	FragAndOr
	FragAndV
	FragAndB
	FragOrB
	FragOrC
	FragOrD
	FragOrI
	FragThresh
	FragMulti
	FragMultiA
	FragAlt
	FragSwap
	FragCheck
	FragDupIf
	FragVerify
	FragNonZero
	FragZeroNotEqual
)

const (
	// All fragment identifiers.

	f_0         = "0"            // 0
	f_1         = "1"            // 1
	f_pk_k      = "pk_k"         // pk_k(key)
	f_pk_h      = "pk_h"         // pk_h(key)
	f_raw_pkh   = "expr_raw_pkh" // expr_raw_pkh(h)
	f_pk        = "pk"           // pk(key) = c:pk_k(key)
	f_pkh       = "pkh"          // pkh(key) = c:pk_h(key)
	f_sha256    = "sha256"       // sha256(h)
	f_ripemd160 = "ripemd160"    // ripemd160(h)
	f_hash256   = "hash256"      // hash256(h)
	f_hash160   = "hash160"      // hash160(h)
	f_older     = "older"        // older(n)
	f_after     = "after"        // after(n)
	f_andor     = "andor"        // andor(X,Y,Z)
	f_and_v     = "and_v"        // and_v(X,Y)
	f_and_b     = "and_b"        // and_b(X,Y)
	f_and_n     = "and_n"        // and_n(X,Y) = andor(X,Y,0)
	f_or_b      = "or_b"         // or_b(X,Z)
	f_or_c      = "or_c"         // or_c(X,Z)
	f_or_d      = "or_d"         // or_d(X,Z)
	f_or_i      = "or_i"         // or_i(X,Z)
	f_thresh    = "thresh"       // thresh(k,X1,...,Xn)
	f_multi     = "multi"        // multi(k,key1,...,keyn)
	f_multi_a   = "multi_a"      // multi_a(k,key1,...,keyn)
	f_wrap_a    = "a"            // a:X
	f_wrap_s    = "s"            // s:X
	f_wrap_c    = "c"            // c:X
	f_wrap_d    = "d"            // d:X
	f_wrap_v    = "v"            // v:X
	f_wrap_j    = "j"            // j:X
	f_wrap_n    = "n"            // n:X
	f_wrap_t    = "t"            // t:X = and_v(X,1)
	f_wrap_l    = "l"            // l:X = or_i(0,X)
	f_wrap_u    = "u"            // u:X = or_i(X,0)
)

var fragmentNames = map[Fragment]string{
	FragFalse:        f_0,
	FragTrue:         f_1,
	FragPkK:          f_pk_k,
	FragPkH:          f_pk_h,
	FragRawPkH:       f_raw_pkh,
	FragOlder:        f_older,
	FragAfter:        f_after,
	FragSha256:       f_sha256,
	FragHash256:      f_hash256,
	FragRipemd160:    f_ripemd160,
	FragHash160:      f_hash160,
	FragAndOr:        f_andor,
	FragAndV:         f_and_v,
	FragAndB:         f_and_b,
	FragOrB:          f_or_b,
	FragOrC:          f_or_c,
	FragOrD:          f_or_d,
	FragOrI:          f_or_i,
	FragThresh:       f_thresh,
	FragMulti:        f_multi,
	FragMultiA:       f_multi_a,
	FragAlt:          f_wrap_a,
	FragSwap:         f_wrap_s,
	FragCheck:        f_wrap_c,
	FragDupIf:        f_wrap_d,
	FragVerify:       f_wrap_v,
	FragNonZero:      f_wrap_j,
	FragZeroNotEqual: f_wrap_n,
}

// String returns the text identifier of the fragment.
func (f Fragment) String() string {
	if s, ok := fragmentNames[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown fragment (%d)", uint8(f))
}

// IsWrapper returns true for the single letter wrapper fragments.
func (f Fragment) IsWrapper() bool {
	return f >= FragAlt
}

// HashFunc identifies the hash function of a hash fragment.
type HashFunc uint8

const (
	HashSha256 HashFunc = iota
	HashHash256
	HashRipemd160
	HashHash160
)

// String returns the fragment name of the hash function.
func (h HashFunc) String() string {
	switch h {
	case HashSha256:
		return f_sha256
	case HashHash256:
		return f_hash256
	case HashRipemd160:
		return f_ripemd160
	case HashHash160:
		return f_hash160
	}
	return "unknown"
}

// Size returns the digest size of the hash function.
func (h HashFunc) Size() int {
	if h == HashSha256 || h == HashHash256 {
		return 32
	}
	return 20
}

var hashFragments = map[Fragment]HashFunc{
	FragSha256:    HashSha256,
	FragHash256:   HashHash256,
	FragRipemd160: HashRipemd160,
	FragHash160:   HashHash160,
}

// AST is a type checked miniscript fragment tree. It is immutable once built
// and can only be created by the constructor functions, the parsers and the
// policy compiler.
type AST struct {
	ctx  ScriptContext
	frag Fragment

	// k is the threshold of thresh, multi and multi_a, and the lock value
	// of older and after.
	k uint32

	// keys holds the key of pk_k and pk_h, and the keys of multi and
	// multi_a.
	keys []Key

	// hash is the 32 (sha256, hash256) or 20 (ripemd160, hash160,
	// expr_raw_pkh) byte hash value.
	hash []byte

	args []*AST
	typ  Type
	ext  extData
}

// Context returns the script context the node was built for.
func (a *AST) Context() ScriptContext {
	return a.ctx
}

// Fragment returns the kind of the node.
func (a *AST) Fragment() Fragment {
	return a.frag
}

// Args returns the sub-expressions of the node.
func (a *AST) Args() []*AST {
	return append([]*AST(nil), a.args...)
}

// K returns the threshold of thresh, multi and multi_a, and the lock value of
// older and after.
func (a *AST) K() uint32 {
	return a.k
}

// Keys returns the keys of pk_k, pk_h, multi and multi_a.
func (a *AST) Keys() []Key {
	return append([]Key(nil), a.keys...)
}

// Hash returns the hash value of hash fragments and expr_raw_pkh.
func (a *AST) Hash() []byte {
	return append([]byte(nil), a.hash...)
}

// Type returns the type of the node.
func (a *AST) Type() Type {
	return a.typ
}

// ScriptLen returns the size of the script in bytes.
func (a *AST) ScriptLen() int {
	return a.ext.scriptLen
}

// HasFreeVerify returns true if a v: wrapper around this node is merged into
// its last opcode instead of adding an OP_VERIFY.
func (a *AST) HasFreeVerify() bool {
	return a.ext.freeVerify
}

// MaxOpCount returns the maximum number of ops needed to satisfy this script
// in a non-malleable way.
func (a *AST) MaxOpCount() int {
	return a.ext.ops.count + a.ext.ops.sat.value
}

// MaxSatisfactionSize returns an upper bound on the witness size in bytes,
// including length prefixes, of any satisfaction. ok is false if the node
// cannot be satisfied.
func (a *AST) MaxSatisfactionSize() (size int, ok bool) {
	return a.ext.sat.size.value, a.ext.sat.size.valid
}

// MaxSatisfactionElements returns an upper bound on the number of witness
// elements of any satisfaction.
func (a *AST) MaxSatisfactionElements() (elems int, ok bool) {
	return a.ext.sat.elems.value, a.ext.sat.elems.valid
}

// Timelock returns the lock of an older or after node.
func (a *AST) Timelock() (Timelock, bool) {
	switch a.frag {
	case FragOlder:
		return Timelock{Kind: RelativeLock, Value: a.k}, true
	case FragAfter:
		return Timelock{Kind: AbsoluteLock, Value: a.k}, true
	}
	return Timelock{}, false
}

// HasMixedTimelocks returns true if some satisfaction would need both a
// height and a time based lock of the same kind.
func (a *AST) HasMixedTimelocks() bool {
	return a.ext.timelocks.mixed
}

// newNode type checks a node and computes its extended data. It is the single
// path through which every AST is created.
func newNode(ctx ScriptContext, a *AST) (*AST, error) {
	a.ctx = ctx
	if err := ctx.checkFragment(a.frag); err != nil {
		return nil, err
	}
	for _, k := range a.keys {
		if err := ctx.checkKey(k); err != nil {
			return nil, err
		}
	}
	for _, arg := range a.args {
		if arg == nil {
			return nil, errorf(ErrTypeCheck, "%v: missing "+
				"argument", a.frag)
		}
		if arg.ctx != ctx {
			return nil, errorf(ErrTypeCheck, "%v: argument %v was "+
				"built for %v, not %v", a.frag, arg, arg.ctx,
				ctx)
		}
	}

	typ, err := computeType(a)
	if err != nil {
		return nil, err
	}
	a.typ = typ

	if err := computeExtData(a); err != nil {
		return nil, err
	}
	if err := ctx.checkResources(a); err != nil {
		return nil, err
	}
	return a, nil
}

// mustNode is used for nodes which cannot fail to type check.
func mustNode(ctx ScriptContext, a *AST) *AST {
	node, err := newNode(ctx, a)
	if err != nil {
		panic(fmt.Sprintf("miniscript: %v", err))
	}
	return node
}

// False returns the 0 fragment.
func False(ctx ScriptContext) *AST {
	return mustNode(ctx, &AST{frag: FragFalse})
}

// True returns the 1 fragment.
func True(ctx ScriptContext) *AST {
	return mustNode(ctx, &AST{frag: FragTrue})
}

// PkK returns pk_k(key).
func PkK(ctx ScriptContext, key Key) (*AST, error) {
	if key == nil {
		return nil, errorf(ErrTypeCheck, "pk_k: missing key")
	}
	return newNode(ctx, &AST{frag: FragPkK, keys: []Key{key}})
}

// PkH returns pk_h(key).
func PkH(ctx ScriptContext, key Key) (*AST, error) {
	if key == nil {
		return nil, errorf(ErrTypeCheck, "pk_h: missing key")
	}
	return newNode(ctx, &AST{
		frag: FragPkH,
		keys: []Key{key},
		hash: keyHash(key),
	})
}

// RawPkH returns a pk_h fragment for which only the key hash is known. Such
// fragments are produced by decoding scripts whose key cannot be resolved.
func RawPkH(ctx ScriptContext, hash []byte) (*AST, error) {
	if len(hash) != 20 {
		return nil, errorf(ErrTypeCheck, "%s: hash length must be "+
			"20, got %d", f_raw_pkh, len(hash))
	}
	return newNode(ctx, &AST{
		frag: FragRawPkH,
		hash: append([]byte(nil), hash...),
	})
}

// Pk returns pk(key), which is c:pk_k(key).
func Pk(ctx ScriptContext, key Key) (*AST, error) {
	pkK, err := PkK(ctx, key)
	if err != nil {
		return nil, err
	}
	return Check(pkK)
}

// Pkh returns pkh(key), which is c:pk_h(key).
func Pkh(ctx ScriptContext, key Key) (*AST, error) {
	pkH, err := PkH(ctx, key)
	if err != nil {
		return nil, err
	}
	return Check(pkH)
}

func checkLockValue(f Fragment, n uint32) error {
	if n < 1 || n >= (1<<31) {
		return errorf(ErrTypeCheck, "%v(n) -> n must 1 ≤ n < 2^31, "+
			"but got: %d", f, n)
	}
	return nil
}

// Older returns older(n), a relative timelock checked by
// OP_CHECKSEQUENCEVERIFY.
func Older(ctx ScriptContext, n uint32) (*AST, error) {
	if err := checkLockValue(FragOlder, n); err != nil {
		return nil, err
	}
	return newNode(ctx, &AST{frag: FragOlder, k: n})
}

// After returns after(n), an absolute timelock checked by
// OP_CHECKLOCKTIMEVERIFY.
func After(ctx ScriptContext, n uint32) (*AST, error) {
	if err := checkLockValue(FragAfter, n); err != nil {
		return nil, err
	}
	return newNode(ctx, &AST{frag: FragAfter, k: n})
}

// HashLock returns the hash fragment of fn, e.g. sha256(h).
func HashLock(ctx ScriptContext, fn HashFunc, hash []byte) (*AST, error) {
	var frag Fragment
	for f, h := range hashFragments {
		if h == fn {
			frag = f
		}
	}
	if frag == 0 {
		return nil, errorf(ErrTypeCheck, "unknown hash function %d",
			fn)
	}
	if len(hash) != fn.Size() {
		return nil, errorf(ErrTypeCheck, "%v len must be %d, got %d",
			fn, fn.Size(), len(hash))
	}
	return newNode(ctx, &AST{
		frag: frag,
		hash: append([]byte(nil), hash...),
	})
}

// Sha256 returns sha256(h).
func Sha256(ctx ScriptContext, hash []byte) (*AST, error) {
	return HashLock(ctx, HashSha256, hash)
}

// Hash256 returns hash256(h).
func Hash256(ctx ScriptContext, hash []byte) (*AST, error) {
	return HashLock(ctx, HashHash256, hash)
}

// Ripemd160 returns ripemd160(h).
func Ripemd160(ctx ScriptContext, hash []byte) (*AST, error) {
	return HashLock(ctx, HashRipemd160, hash)
}

// Hash160 returns hash160(h).
func Hash160(ctx ScriptContext, hash []byte) (*AST, error) {
	return HashLock(ctx, HashHash160, hash)
}

func combine(f Fragment, args ...*AST) (*AST, error) {
	for _, arg := range args {
		if arg == nil {
			return nil, errorf(ErrTypeCheck, "%v: missing "+
				"argument", f)
		}
	}
	return newNode(args[0].ctx, &AST{frag: f, args: args})
}

// AndOr returns andor(X,Y,Z): if X then Y else Z.
func AndOr(x, y, z *AST) (*AST, error) {
	return combine(FragAndOr, x, y, z)
}

// AndN returns and_n(X,Y), which is andor(X,Y,0).
func AndN(x, y *AST) (*AST, error) {
	if x == nil {
		return nil, errorf(ErrTypeCheck, "and_n: missing argument")
	}
	return AndOr(x, y, False(x.ctx))
}

// AndV returns and_v(X,Y).
func AndV(x, y *AST) (*AST, error) {
	return combine(FragAndV, x, y)
}

// AndB returns and_b(X,Y).
func AndB(x, y *AST) (*AST, error) {
	return combine(FragAndB, x, y)
}

// OrB returns or_b(X,Z).
func OrB(x, z *AST) (*AST, error) {
	return combine(FragOrB, x, z)
}

// OrC returns or_c(X,Z).
func OrC(x, z *AST) (*AST, error) {
	return combine(FragOrC, x, z)
}

// OrD returns or_d(X,Z).
func OrD(x, z *AST) (*AST, error) {
	return combine(FragOrD, x, z)
}

// OrI returns or_i(X,Z).
func OrI(x, z *AST) (*AST, error) {
	return combine(FragOrI, x, z)
}

// Thresh returns thresh(k,X1,...,Xn).
func Thresh(k uint32, subs ...*AST) (*AST, error) {
	if len(subs) == 0 {
		return nil, errorf(ErrTypeCheck, "thresh must have at least "+
			"one sub-expression")
	}
	if k < 1 || int(k) > len(subs) {
		return nil, errorf(ErrTypeCheck, "thresh(k) -> k must 1 ≤ k "+
			"≤ n, but got: %d", k)
	}
	for _, sub := range subs {
		if sub == nil {
			return nil, errorf(ErrTypeCheck, "thresh: missing "+
				"argument")
		}
	}
	return newNode(subs[0].ctx, &AST{
		frag: FragThresh,
		k:    k,
		args: append([]*AST(nil), subs...),
	})
}

func multiNode(ctx ScriptContext, f Fragment, maxKeys int, k uint32,
	keys []Key) (*AST, error) {

	if len(keys) == 0 || k < 1 || int(k) > len(keys) {
		return nil, errorf(ErrTypeCheck, "%v(k) -> k must 1 ≤ k ≤ n, "+
			"but got k=%d n=%d", f, k, len(keys))
	}
	if len(keys) > maxKeys {
		return nil, errorf(ErrResourceLimit, "number of %v keys "+
			"cannot exceed %d", f, maxKeys)
	}
	for i, key := range keys {
		if key == nil {
			return nil, errorf(ErrTypeCheck, "%v: missing key", f)
		}
		for _, other := range keys[:i] {
			if keyEqual(key, other) {
				return nil, errorf(ErrTypeCheck, "%v: duplicate "+
					"key %v", f, key)
			}
		}
	}
	return newNode(ctx, &AST{
		frag: f,
		k:    k,
		keys: append([]Key(nil), keys...),
	})
}

// Multi returns multi(k,key1,...,keyn), a CHECKMULTISIG fragment.
func Multi(ctx ScriptContext, k uint32, keys ...Key) (*AST, error) {
	return multiNode(ctx, FragMulti, multisigMaxKeys, k, keys)
}

// MultiA returns multi_a(k,key1,...,keyn), a CHECKSIGADD fragment only
// available in tapscript.
func MultiA(ctx ScriptContext, k uint32, keys ...Key) (*AST, error) {
	return multiNode(ctx, FragMultiA, multiAMaxKeys, k, keys)
}

// Wrap applies the wrapper fragment f to x.
func Wrap(f Fragment, x *AST) (*AST, error) {
	if !f.IsWrapper() {
		return nil, errorf(ErrTypeCheck, "%v is not a wrapper", f)
	}
	return combine(f, x)
}

// Alt returns a:X.
func Alt(x *AST) (*AST, error) { return Wrap(FragAlt, x) }

// Swap returns s:X.
func Swap(x *AST) (*AST, error) { return Wrap(FragSwap, x) }

// Check returns c:X.
func Check(x *AST) (*AST, error) { return Wrap(FragCheck, x) }

// DupIf returns d:X.
func DupIf(x *AST) (*AST, error) { return Wrap(FragDupIf, x) }

// Verify returns v:X.
func Verify(x *AST) (*AST, error) { return Wrap(FragVerify, x) }

// NonZero returns j:X.
func NonZero(x *AST) (*AST, error) { return Wrap(FragNonZero, x) }

// ZeroNotEqual returns n:X.
func ZeroNotEqual(x *AST) (*AST, error) { return Wrap(FragZeroNotEqual, x) }

// IsValidTopLevel checks whether this node is valid as a script on its own.
func (a *AST) IsValidTopLevel() error {
	return a.ctx.checkTopLevel(a)
}

// IsSane checks whether this node is safe as a script on its own: it must be
// valid at the top level, every satisfaction must require a signature, a
// non-malleable satisfaction must exist, no key may be repeated, timelocks
// must not be mixed and the satisfaction must fit the witness limits.
func (a *AST) IsSane() error {
	if err := a.IsValidTopLevel(); err != nil {
		return err
	}
	if !a.typ.Props.M {
		return errorf(ErrTypeCheck, "%v is malleable", a)
	}
	if !a.typ.Props.S {
		return errorf(ErrTypeCheck, "%v does not need a signature", a)
	}
	if a.ext.timelocks.mixed {
		return errorf(ErrTypeCheck, "%v contains a combination of "+
			"height and time locks", a)
	}
	if err := a.checkDuplicateKeys(); err != nil {
		return err
	}
	elems, _ := a.MaxSatisfactionElements()
	size, _ := a.MaxSatisfactionSize()
	return a.ctx.checkWitness(elems, size)
}

func (a *AST) checkDuplicateKeys() error {
	seen := make(map[string]struct{})
	var err error
	a.walk(func(node *AST) bool {
		for _, k := range node.keys {
			s := string(k.Serialize())
			if _, ok := seen[s]; ok {
				err = errorf(ErrTypeCheck, "duplicate key %v", k)
				return false
			}
			seen[s] = struct{}{}
		}
		return true
	})
	return err
}

// walk visits the tree in pre-order until f returns false.
func (a *AST) walk(f func(*AST) bool) bool {
	if !f(a) {
		return false
	}
	for _, arg := range a.args {
		if !arg.walk(f) {
			return false
		}
	}
	return true
}

// Walk calls f for every node of the tree in pre-order.
func (a *AST) Walk(f func(*AST)) {
	a.walk(func(node *AST) bool {
		f(node)
		return true
	})
}

func (a *AST) drawTree(w io.Writer, indent string) {
	label := fragmentNames[a.frag]
	_, _ = fmt.Fprint(w, label)
	typ := a.typ.String()
	if a.ext.freeVerify {
		typ += "v"
	}
	_, _ = fmt.Fprintf(w, " [%s]", typ)
	switch {
	case len(a.keys) > 0:
		keys := make([]string, len(a.keys))
		for i, k := range a.keys {
			keys[i] = k.String()
		}
		if a.frag == FragMulti || a.frag == FragMultiA {
			_, _ = fmt.Fprintf(w, " [%d]", a.k)
		}
		_, _ = fmt.Fprintf(w, " [%s]", strings.Join(keys, ","))

	case a.hash != nil:
		_, _ = fmt.Fprintf(w, " [%x]", a.hash)

	case a.frag == FragOlder || a.frag == FragAfter ||
		a.frag == FragThresh:

		_, _ = fmt.Fprintf(w, " [%d]", a.k)
	}
	_, _ = fmt.Fprintln(w)
	for i, arg := range a.args {
		mark := ""
		delim := ""
		if i == len(a.args)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(fragmentNames[arg.frag])) +
			len([]rune(mark)) - 1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		arg.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the tree with the type of every node, for debugging.
func (a *AST) DrawTree() string {
	var b strings.Builder
	a.drawTree(&b, "")
	return b.String()
}

// witnessHex is a helper for logging witnesses.
func witnessHex(w wire.TxWitness) string {
	parts := make([]string, len(w))
	for i, e := range w {
		parts[i] = hex.EncodeToString(e)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
