package miniscript

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type maxInt struct {
	valid bool
	value int
}

func (m maxInt) and(b maxInt) maxInt {
	if !m.valid || !b.valid {
		return maxInt{}
	}
	return maxInt{
		valid: true,
		value: m.value + b.value,
	}
}

func (m maxInt) or(b maxInt) maxInt {
	if !m.valid {
		return b
	}
	if !b.valid {
		return m
	}
	if m.value >= b.value {
		return m
	}
	return b
}

func validInt(v int) maxInt {
	return maxInt{valid: true, value: v}
}

type ops struct {
	// count is the number of non-push opcodes.
	count int

	// dsat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to dissatisfy.
	dsat maxInt

	// sat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to satisfy.
	sat maxInt
}

// witnessCost bounds the witness of a satisfaction or dissatisfaction.
type witnessCost struct {
	// elems is the number of stack elements.
	elems maxInt

	// size is the number of bytes, including one length byte per element.
	size maxInt
}

func cost(elems, size int) witnessCost {
	return witnessCost{validInt(elems), validInt(size)}
}

func (w witnessCost) and(b witnessCost) witnessCost {
	return witnessCost{w.elems.and(b.elems), w.size.and(b.size)}
}

func (w witnessCost) or(b witnessCost) witnessCost {
	return witnessCost{w.elems.or(b.elems), w.size.or(b.size)}
}

// combinable is implemented by the upper bounds combined along the branches
// of a script.
type combinable[T any] interface {
	and(T) T
	or(T) T
}

// threshBound returns the bound for satisfying exactly k of the given
// sub-expressions and dissatisfying the rest. The bound is computed
// incrementally over the subs, where bounds[j] holds the bound with j subs
// satisfied so far.
func threshBound[T combinable[T]](k int, zero, invalid T, sats,
	dsats []T) T {

	bounds := []T{zero}
	for i := range sats {
		next := make([]T, len(bounds)+1)
		for j := range next {
			next[j] = invalid
			if j < len(bounds) {
				next[j] = bounds[j].and(dsats[i])
			}
			if j > 0 {
				next[j] = next[j].or(bounds[j-1].and(sats[i]))
			}
		}
		bounds = next
	}
	return bounds[k]
}

// timelocks records which kinds of timelocks a fragment may require.
type timelocks struct {
	csvHeight  bool
	csvTime    bool
	cltvHeight bool
	cltvTime   bool

	// mixed is set if some satisfaction would require both a height and a
	// time lock of the same kind, which no transaction can fulfil.
	mixed bool
}

func (t timelocks) union(o timelocks) timelocks {
	return timelocks{
		csvHeight:  t.csvHeight || o.csvHeight,
		csvTime:    t.csvTime || o.csvTime,
		cltvHeight: t.cltvHeight || o.cltvHeight,
		cltvTime:   t.cltvTime || o.cltvTime,
		mixed:      t.mixed || o.mixed,
	}
}

// conflicts returns true if requiring both t and o would mix heights and
// times for the same kind of lock.
func (t timelocks) conflicts(o timelocks) bool {
	return (t.csvHeight && o.csvTime) || (t.csvTime && o.csvHeight) ||
		(t.cltvHeight && o.cltvTime) || (t.cltvTime && o.cltvHeight)
}

// isTimeBasedSequence returns true if the relative lock is in units of 512
// seconds.
func isTimeBasedSequence(n uint32) bool {
	return n&wire.SequenceLockTimeIsSeconds != 0
}

// isTimeBasedLockTime returns true if the absolute lock is a unix timestamp.
func isTimeBasedLockTime(n uint32) bool {
	return n >= txscript.LockTimeThreshold
}

type extData struct {
	scriptLen int

	// freeVerify is set if the last opcode has a VERIFY variant, so a
	// following OP_VERIFY can be merged into it.
	freeVerify bool

	ops    ops
	sigOps int

	sat  witnessCost
	dsat witnessCost

	timelocks timelocks
}

// pushLen returns the size of the minimal push of n.
func pushLen(n int64) int {
	return len(newScriptBuilder().AddInt64(n).Script())
}

// keyPushLen returns the size of the witness element holding the key of a
// pk_h, including its length byte.
func keyPushLen(a *AST) int {
	if len(a.keys) > 0 {
		return 1 + len(a.keys[0].Serialize())
	}
	switch a.ctx {
	case Taproot:
		return 1 + xOnlyKeyLen
	case SegwitV0:
		return 1 + compressedKeyLen
	default:
		return 1 + uncompressedKeyLen
	}
}

func andTimelocks(a *AST, x, y *AST) (timelocks, error) {
	if x.ext.timelocks.conflicts(y.ext.timelocks) {
		return timelocks{}, typeErrorf(a, "%v and %v combine height "+
			"and time locks", x, y)
	}
	return x.ext.timelocks.union(y.ext.timelocks), nil
}

// computeExtData fills in the script size, op and sigop counts, witness size
// bounds and timelock information of a node whose arguments are complete.
func computeExtData(a *AST) error {
	var (
		zero    = validInt(0)
		invalid = maxInt{}
		none    = witnessCost{}
		e       = &a.ext
		sigCost = a.ctx.sigCost()
		err     error
	)

	switch a.frag {
	case FragFalse:
		e.scriptLen = 1
		e.ops = ops{0, zero, invalid}
		e.sat, e.dsat = none, cost(0, 0)

	case FragTrue:
		e.scriptLen = 1
		e.ops = ops{0, invalid, zero}
		e.sat, e.dsat = cost(0, 0), none

	case FragPkK:
		e.scriptLen = 1 + len(a.keys[0].Serialize())
		e.ops = ops{0, zero, zero}
		e.sat, e.dsat = cost(1, sigCost), cost(1, 1)

	case FragPkH, FragRawPkH:
		e.scriptLen = 24
		e.ops = ops{3, zero, zero}
		keyLen := keyPushLen(a)
		e.sat = cost(2, sigCost+keyLen)
		e.dsat = cost(2, 1+keyLen)

	case FragOlder, FragAfter:
		e.scriptLen = pushLen(int64(a.k)) + 1
		e.freeVerify = false
		e.ops = ops{1, invalid, zero}
		e.sat, e.dsat = cost(0, 0), none
		if a.frag == FragOlder {
			e.timelocks.csvTime = isTimeBasedSequence(a.k)
			e.timelocks.csvHeight = !e.timelocks.csvTime
		} else {
			e.timelocks.cltvTime = isTimeBasedLockTime(a.k)
			e.timelocks.cltvHeight = !e.timelocks.cltvTime
		}

	case FragSha256, FragHash256:
		e.scriptLen = 39
		e.freeVerify = true
		e.ops = ops{4, zero, zero}
		e.sat, e.dsat = cost(1, 33), cost(1, 33)

	case FragRipemd160, FragHash160:
		e.scriptLen = 27
		e.freeVerify = true
		e.ops = ops{4, zero, zero}
		e.sat, e.dsat = cost(1, 33), cost(1, 33)

	case FragAndOr:
		x, y, z := a.args[0].ext, a.args[1].ext, a.args[2].ext
		e.scriptLen = x.scriptLen + y.scriptLen + z.scriptLen + 3
		e.ops = ops{
			3 + x.ops.count + y.ops.count + z.ops.count,
			z.ops.dsat.and(x.ops.dsat),
			y.ops.sat.and(x.ops.sat).or(z.ops.sat.and(x.ops.dsat)),
		}
		e.sigOps = x.sigOps + y.sigOps + z.sigOps
		e.sat = x.sat.and(y.sat).or(x.dsat.and(z.sat))
		e.dsat = x.dsat.and(z.dsat)
		e.timelocks, err = andTimelocks(a, a.args[0], a.args[1])
		if err != nil {
			return err
		}
		e.timelocks = e.timelocks.union(z.timelocks)

	case FragAndV:
		x, y := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + y.scriptLen
		e.freeVerify = y.freeVerify
		e.ops = ops{
			x.ops.count + y.ops.count,
			invalid,
			y.ops.sat.and(x.ops.sat),
		}
		e.sigOps = x.sigOps + y.sigOps
		e.sat, e.dsat = x.sat.and(y.sat), none
		e.timelocks, err = andTimelocks(a, a.args[0], a.args[1])
		if err != nil {
			return err
		}

	case FragAndB:
		x, y := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + y.scriptLen + 1
		e.ops = ops{
			1 + x.ops.count + y.ops.count,
			y.ops.dsat.and(x.ops.dsat),
			y.ops.sat.and(x.ops.sat),
		}
		e.sigOps = x.sigOps + y.sigOps
		e.sat, e.dsat = x.sat.and(y.sat), x.dsat.and(y.dsat)
		e.timelocks, err = andTimelocks(a, a.args[0], a.args[1])
		if err != nil {
			return err
		}

	case FragOrB:
		x, z := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + z.scriptLen + 1
		e.ops = ops{
			1 + x.ops.count + z.ops.count,
			z.ops.dsat.and(x.ops.dsat),
			z.ops.dsat.and(x.ops.sat).or(z.ops.sat.and(x.ops.dsat)),
		}
		e.sigOps = x.sigOps + z.sigOps
		e.sat = x.sat.and(z.dsat).or(x.dsat.and(z.sat))
		e.dsat = x.dsat.and(z.dsat)
		e.timelocks = x.timelocks.union(z.timelocks)

	case FragOrC:
		x, z := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + z.scriptLen + 2
		e.ops = ops{
			2 + x.ops.count + z.ops.count,
			invalid,
			x.ops.sat.or(z.ops.sat.and(x.ops.dsat)),
		}
		e.sigOps = x.sigOps + z.sigOps
		e.sat, e.dsat = x.sat.or(x.dsat.and(z.sat)), none
		e.timelocks = x.timelocks.union(z.timelocks)

	case FragOrD:
		x, z := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + z.scriptLen + 3
		e.ops = ops{
			3 + x.ops.count + z.ops.count,
			z.ops.dsat.and(x.ops.dsat),
			x.ops.sat.or(z.ops.sat.and(x.ops.dsat)),
		}
		e.sigOps = x.sigOps + z.sigOps
		e.sat = x.sat.or(x.dsat.and(z.sat))
		e.dsat = x.dsat.and(z.dsat)
		e.timelocks = x.timelocks.union(z.timelocks)

	case FragOrI:
		x, z := a.args[0].ext, a.args[1].ext
		e.scriptLen = x.scriptLen + z.scriptLen + 3
		e.ops = ops{
			3 + x.ops.count + z.ops.count,
			x.ops.dsat.or(z.ops.dsat),
			x.ops.sat.or(z.ops.sat),
		}
		e.sigOps = x.sigOps + z.sigOps

		// The left branch is selected by a 1, the right one by an
		// empty vector.
		one, empty := cost(1, 2), cost(1, 1)
		e.sat = x.sat.and(one).or(z.sat.and(empty))
		e.dsat = x.dsat.and(one).or(z.dsat.and(empty))
		e.timelocks = x.timelocks.union(z.timelocks)

	case FragThresh:
		n := len(a.args)
		e.scriptLen = pushLen(int64(a.k)) + 1 + n - 1
		e.freeVerify = true

		var (
			opsSat   = make([]maxInt, n)
			opsDsat  = make([]maxInt, n)
			costSat  = make([]witnessCost, n)
			costDsat = make([]witnessCost, n)
		)
		e.ops.dsat = zero
		e.dsat = cost(0, 0)
		for i, arg := range a.args {
			x := arg.ext
			e.scriptLen += x.scriptLen
			e.ops.count += x.ops.count + 1
			e.ops.dsat = e.ops.dsat.and(x.ops.dsat)
			e.sigOps += x.sigOps
			e.dsat = e.dsat.and(x.dsat)
			opsSat[i], opsDsat[i] = x.ops.sat, x.ops.dsat
			costSat[i], costDsat[i] = x.sat, x.dsat
		}
		k := int(a.k)
		e.ops.sat = threshBound(k, zero, invalid, opsSat, opsDsat)
		e.sat = threshBound(k, cost(0, 0), none, costSat, costDsat)

		// Every sub is required when k == n, otherwise any pair of
		// subs may end up in the same satisfaction.
		for i, x := range a.args {
			e.timelocks = e.timelocks.union(x.ext.timelocks)
			if k <= 1 {
				continue
			}
			for _, y := range a.args[:i] {
				if !x.ext.timelocks.conflicts(y.ext.timelocks) {
					continue
				}
				if k == n {
					return typeErrorf(a, "%v and %v "+
						"combine height and time "+
						"locks", y, x)
				}
				e.timelocks.mixed = true
			}
		}

	case FragMulti:
		n := len(a.keys)
		k := int(a.k)
		e.scriptLen = pushLen(int64(k)) + pushLen(int64(n)) + 1
		for _, key := range a.keys {
			e.scriptLen += 1 + len(key.Serialize())
		}
		e.freeVerify = true
		e.ops = ops{1, validInt(n), validInt(n)}
		e.sigOps = n
		e.sat = cost(k+1, 1+k*sigCost)
		e.dsat = cost(k+1, k+1)

	case FragMultiA:
		n := len(a.keys)
		k := int(a.k)
		e.scriptLen = pushLen(int64(k)) + 1 + n
		for _, key := range a.keys {
			e.scriptLen += 1 + len(key.Serialize())
		}
		e.freeVerify = true
		e.ops = ops{n + 1, zero, zero}
		e.sigOps = n
		e.sat = cost(n, k*sigCost+n-k)
		e.dsat = cost(n, n)

	case FragAlt:
		x := a.args[0].ext
		e.scriptLen = x.scriptLen + 2
		e.ops = ops{2 + x.ops.count, x.ops.dsat, x.ops.sat}
		e.sigOps = x.sigOps
		e.sat, e.dsat = x.sat, x.dsat
		e.timelocks = x.timelocks

	case FragSwap, FragCheck, FragZeroNotEqual:
		x := a.args[0].ext
		e.scriptLen = x.scriptLen + 1
		e.ops = ops{1 + x.ops.count, x.ops.dsat, x.ops.sat}
		e.sigOps = x.sigOps
		e.sat, e.dsat = x.sat, x.dsat
		e.timelocks = x.timelocks
		switch a.frag {
		case FragSwap:
			e.freeVerify = x.freeVerify
		case FragCheck:
			e.freeVerify = true
			e.sigOps++
		}

	case FragDupIf:
		x := a.args[0].ext
		e.scriptLen = x.scriptLen + 3
		e.ops = ops{3 + x.ops.count, zero, x.ops.sat}
		e.sigOps = x.sigOps
		e.sat, e.dsat = x.sat.and(cost(1, 2)), cost(1, 1)
		e.timelocks = x.timelocks

	case FragVerify:
		x := a.args[0].ext
		opVerify := 0
		if !x.freeVerify {
			opVerify = 1
		}
		e.scriptLen = x.scriptLen + opVerify
		e.ops = ops{opVerify + x.ops.count, invalid, x.ops.sat}
		e.sigOps = x.sigOps
		e.sat, e.dsat = x.sat, none
		e.timelocks = x.timelocks

	case FragNonZero:
		x := a.args[0].ext
		e.scriptLen = x.scriptLen + 4
		e.ops = ops{4 + x.ops.count, zero, x.ops.sat}
		e.sigOps = x.sigOps
		e.sat, e.dsat = x.sat, cost(1, 1)
		e.timelocks = x.timelocks

	default:
		return errorf(ErrTypeCheck, "unknown fragment %d", a.frag)
	}

	for _, arg := range a.args {
		if arg.ext.timelocks.mixed {
			e.timelocks.mixed = true
		}
	}
	return nil
}
