package miniscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/ripemd160"
)

// TimelockKind distinguishes absolute and relative timelocks.
type TimelockKind uint8

const (
	// AbsoluteLock is an after(n) lock checked by
	// OP_CHECKLOCKTIMEVERIFY against the transaction lock time.
	AbsoluteLock TimelockKind = iota

	// RelativeLock is an older(n) lock checked by
	// OP_CHECKSEQUENCEVERIFY against the input sequence.
	RelativeLock
)

// Timelock is a lock a satisfier is asked about.
type Timelock struct {
	Kind  TimelockKind
	Value uint32
}

// IsTimeBased returns true if the lock is expressed in time rather than in
// blocks.
func (t Timelock) IsTimeBased() bool {
	if t.Kind == RelativeLock {
		return isTimeBasedSequence(t.Value)
	}
	return isTimeBasedLockTime(t.Value)
}

// String returns the fragment of the lock, e.g. "older(144)".
func (t Timelock) String() string {
	if t.Kind == RelativeLock {
		return fmt.Sprintf("%s(%d)", f_older, t.Value)
	}
	return fmt.Sprintf("%s(%d)", f_after, t.Value)
}

// Satisfier is the capability used to satisfy a miniscript. It never signs on
// its own initiative: the satisfier only asks for what the script needs.
type Satisfier interface {
	// Sign returns a signature, including the sighash byte, for the key
	// or false if no signature is available.
	Sign(key Key) (sig []byte, ok bool)

	// Preimage returns the 32 byte preimage of the hash or false if it is
	// not known.
	Preimage(fn HashFunc, hash []byte) (preimage []byte, ok bool)

	// Matured returns whether the lock is satisfied by the spending
	// transaction.
	Matured(lock Timelock) (bool, error)
}

// FuncSatisfier implements Satisfier with optional functions. A nil function
// reports nothing available.
type FuncSatisfier struct {
	SignFunc     func(key Key) ([]byte, bool)
	PreimageFunc func(fn HashFunc, hash []byte) ([]byte, bool)
	MaturedFunc  func(lock Timelock) (bool, error)

	// KeyByHashFunc resolves the keys of expr_raw_pkh fragments.
	KeyByHashFunc func(hash []byte) (Key, bool)
}

// Sign implements Satisfier.
func (f *FuncSatisfier) Sign(key Key) ([]byte, bool) {
	if f.SignFunc == nil {
		return nil, false
	}
	return f.SignFunc(key)
}

// Preimage implements Satisfier.
func (f *FuncSatisfier) Preimage(fn HashFunc, hash []byte) ([]byte, bool) {
	if f.PreimageFunc == nil {
		return nil, false
	}
	return f.PreimageFunc(fn, hash)
}

// Matured implements Satisfier.
func (f *FuncSatisfier) Matured(lock Timelock) (bool, error) {
	if f.MaturedFunc == nil {
		return false, nil
	}
	return f.MaturedFunc(lock)
}

// KeyByHash implements KeyHashResolver.
func (f *FuncSatisfier) KeyByHash(hash []byte) (Key, bool) {
	if f.KeyByHashFunc == nil {
		return nil, false
	}
	return f.KeyByHashFunc(hash)
}

// TxTimelocks answers Matured for the input of a spending transaction.
type TxTimelocks struct {
	// Version is the version of the spending transaction.
	Version int32

	// LockTime is the nLockTime of the spending transaction.
	LockTime uint32

	// Sequence is the sequence of the input being satisfied.
	Sequence uint32
}

// Matured checks the lock against the transaction fields.
func (t TxTimelocks) Matured(lock Timelock) (bool, error) {
	if lock.Kind == RelativeLock {
		return CheckOlder(lock.Value, uint32(t.Version), t.Sequence), nil
	}
	return CheckAfter(lock.Value, t.LockTime, t.Sequence), nil
}

func verifyLockTime(txLockTime uint32, threshold uint32, lockTime uint32) bool {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {

		// Can't mix time lock types (blocks vs time).
		return false
	}
	return lockTime <= txLockTime
}

// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY (BIP112, BIP68) call is
// satisfied given the lock time value.
//
// txVersion is the version of the transaction being signed.
// OP_CHECKSEQUENCEVERIFY requires this to be at least 2, otherwise the script
// fails.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. It is compared to the lock time value.
func CheckOlder(lockTime uint32, txVersion uint32,
	txInputSequence uint32) bool {

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	lockTimeMask := uint32(
		wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask,
	)
	return txInputSequence&wire.SequenceLockTimeDisabled == 0 &&
		txVersion >= 2 && verifyLockTime(
		txInputSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds,
		lockTime&lockTimeMask,
	)
}

// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY (BIP65) call is satisfied
// given the lock time value.
//
// TxLockTime is the nLockTime of the transaction that is being signed. It is
// compared to the lock time value.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. According to BIP65, it must be smaller than 0xFFFFFFFF (maximum
// value) for this OP-code to not abort.
func CheckAfter(value uint32, txLockTime uint32, txInputSequence uint32) bool {
	return txInputSequence != wire.MaxTxInSequenceNum &&
		verifyLockTime(txLockTime, txscript.LockTimeThreshold, value)
}

// computeHash returns the hash of data under fn.
func computeHash(fn HashFunc, data []byte) []byte {
	switch fn {
	case HashSha256:
		return chainhash.HashB(data)
	case HashHash256:
		return chainhash.DoubleHashB(data)
	case HashRipemd160:
		h := ripemd160.New()
		_, _ = h.Write(data)
		return h.Sum(nil)
	default:
		return btcutil.Hash160(data)
	}
}

// Satisfaction is a witness that satisfies a miniscript.
type Satisfaction struct {
	// Witness is the list of stack elements, bottom first. It does not
	// include the script itself.
	Witness wire.TxWitness

	// NonMalleable is true if a third party cannot change the witness
	// into another valid one. This requires a signature.
	NonMalleable bool

	// HasSig is true if the witness contains a signature.
	HasSig bool

	// Weight is the weight of the witness: its serialized size for
	// SegwitV0 and Taproot, and four times the size of the scriptSig
	// pushes for Legacy and Bare.
	Weight int
}

// ScriptSig returns the witness as a push-only script for Legacy and Bare
// spends. For P2SH the redeem script still has to be pushed after it.
func (s *Satisfaction) ScriptSig() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, elem := range s.Witness {
		b.AddData(elem)
	}
	return b.Script()
}

// satisfaction is a struct based on `InputStack` of the Bitcoin Core
// implementation at
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.cpp
type satisfaction struct {
	// witness is a list of data elements that will be pushed onto the
	// witness stack.
	witness wire.TxWitness

	// available, if false, indicates there is no valid satisfaction (i.e.
	// private key or hash preimage not available, time lock not yet valid,
	// generally not satisfiable, etc.).
	available bool

	// malleable, if true, indicates the satisfaction is malleable by a
	// third party.
	malleable bool

	// hasSig indicates this satisfaction requires a signature, which means
	// a third party cannot malleate this satisfaction even if `malleable`
	// is true. If `malleable` and `hasSig` is true, only we (the
	// key-holders) can malleate this satisfaction.
	hasSig bool
}

var (
	// unavailable is the satisfaction that does not exist.
	unavailable = satisfaction{}

	// empty pushes nothing.
	empty = satisfaction{witness: wire.TxWitness{}, available: true}
)

// zero pushes an empty vector, which is OP_0 and false.
func zero() satisfaction {
	return elem([]byte{})
}

// one pushes the single byte 0x01.
func one() satisfaction {
	return elem([]byte{1})
}

func elem(w []byte) satisfaction {
	return satisfaction{witness: wire.TxWitness{w}, available: true}
}

func (s satisfaction) setAvailable(available bool) satisfaction {
	s.available = s.available && available
	return s
}

func (s satisfaction) withSig() satisfaction {
	s.hasSig = true
	return s
}

func (s satisfaction) setMalleable(malleable bool) satisfaction {
	s.malleable = s.malleable || malleable
	return s
}

// and concatenates the witnesses, with b on top of s.
func (s satisfaction) and(b satisfaction) satisfaction {
	if !s.available || !b.available {
		return unavailable
	}
	witness := make(wire.TxWitness, 0, len(s.witness)+len(b.witness))
	witness = append(witness, s.witness...)
	return satisfaction{
		witness:   append(witness, b.witness...),
		available: true,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

// or picks the best of the two alternatives. On a tie s is returned.
func (s satisfaction) or(b satisfaction) satisfaction {
	// If only one (or neither) is valid, pick the other one.
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}
	// If only one of the solutions has a signature, we must pick the other
	// one.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if !s.hasSig && !b.hasSig {
		// If neither solution requires a signature, the result is
		// inevitably malleable.
		s.malleable = true
		b.malleable = true
	} else {
		// If both options require a signature, prefer the non-malleable
		// one.
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

type satisfactions struct {
	dsat, sat satisfaction
}

// bestOfK returns, for every j, the best witness satisfying exactly j of the n
// legs and dissatisfying the others. Legs are added in index order and placed
// below the legs before them, so the first leg ends up on top of the stack.
// On equal cost the legs with the lowest indices are satisfied.
func bestOfK(n int, sat, dsat func(i int) satisfaction) []satisfaction {
	best := []satisfaction{empty}
	for i := 0; i < n; i++ {
		legSat, legDsat := sat(i), dsat(i)
		next := make([]satisfaction, len(best)+1)
		for j := range next {
			next[j] = unavailable
			if j < len(best) {
				next[j] = legDsat.and(best[j])
			}
			if j > 0 {
				next[j] = next[j].or(legSat.and(best[j-1]))
			}
		}
		best = next
	}
	return best
}

type producer struct {
	satisfier Satisfier
}

func (s *producer) sign(key Key) satisfaction {
	sig, ok := s.satisfier.Sign(key)
	if !ok {
		return unavailable
	}
	return elem(sig).withSig()
}

// resolveKey returns the key behind the hash of an expr_raw_pkh.
func (s *producer) resolveKey(hash []byte) (Key, bool) {
	resolver, ok := s.satisfier.(KeyHashResolver)
	if !ok {
		return nil, false
	}
	key, ok := resolver.KeyByHash(hash)
	if !ok || !bytes.Equal(keyHash(key), hash) {
		return nil, false
	}
	return key, true
}

func (s *producer) timelock(lock Timelock) (*satisfactions, error) {
	matured, err := s.satisfier.Matured(lock)
	if err != nil {
		return nil, err
	}
	log.Tracef("Timelock %v matured: %v", lock, matured)
	if matured {
		return &satisfactions{dsat: unavailable, sat: empty}, nil
	}
	return &satisfactions{dsat: unavailable, sat: unavailable}, nil
}

func (s *producer) preimage(node *AST) satisfaction {
	fn := hashFragments[node.frag]
	preimage, ok := s.satisfier.Preimage(fn, node.hash)
	if !ok {
		return unavailable
	}
	if len(preimage) != 32 {
		log.Warnf("Ignoring %v preimage of %x with length %d", fn,
			node.hash, len(preimage))
		return unavailable
	}
	if !bytes.Equal(computeHash(fn, preimage), node.hash) {
		log.Warnf("Ignoring invalid %v preimage of %x", fn, node.hash)
		return unavailable
	}
	return elem(preimage)
}

// satisfy is based on `ProduceInput()` of the Bitcoin Core implementation at:
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.h#L850
func (s *producer) satisfy(node *AST) (*satisfactions, error) {
	args := make([]*satisfactions, len(node.args))
	for i, arg := range node.args {
		sats, err := s.satisfy(arg)
		if err != nil {
			return nil, err
		}
		args[i] = sats
	}

	switch node.frag {
	case FragFalse:
		return &satisfactions{dsat: empty, sat: unavailable}, nil

	case FragTrue:
		return &satisfactions{dsat: unavailable, sat: empty}, nil

	case FragPkK:
		return &satisfactions{
			dsat: zero(),
			sat:  s.sign(node.keys[0]),
		}, nil

	case FragPkH, FragRawPkH:
		var key Key
		if node.frag == FragPkH {
			key = node.keys[0]
		} else if k, ok := s.resolveKey(node.hash); ok {
			key = k
		} else {
			return &satisfactions{
				dsat: unavailable,
				sat:  unavailable,
			}, nil
		}
		keyElem := elem(key.Serialize())
		return &satisfactions{
			dsat: zero().and(keyElem),
			sat:  s.sign(key).and(keyElem),
		}, nil

	case FragOlder:
		return s.timelock(Timelock{Kind: RelativeLock, Value: node.k})

	case FragAfter:
		return s.timelock(Timelock{Kind: AbsoluteLock, Value: node.k})

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		return &satisfactions{
			// Preimage 0x0000... is assumed invalid.
			dsat: elem(make([]byte, 32)).setMalleable(true),
			sat:  s.preimage(node),
		}, nil

	case FragAndOr:
		x, y, z := args[0], args[1], args[2]
		return &satisfactions{
			dsat: z.dsat.and(x.dsat).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}, nil

	case FragAndV:
		x, y := args[0], args[1]
		return &satisfactions{
			dsat: y.dsat.and(x.sat).setMalleable(true),
			sat:  y.sat.and(x.sat),
		}, nil

	case FragAndB:
		x, y := args[0], args[1]
		return &satisfactions{
			dsat: y.dsat.and(x.dsat).or(
				y.sat.and(x.dsat).setMalleable(true),
			).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat),
		}, nil

	case FragOrB:
		x, z := args[0], args[1]
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			).or(
				z.sat.and(x.sat).setMalleable(true),
			),
		}, nil

	case FragOrC:
		x, z := args[0], args[1]
		return &satisfactions{
			dsat: unavailable,
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case FragOrD:
		x, z := args[0], args[1]
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case FragOrI:
		x, z := args[0], args[1]
		return &satisfactions{
			dsat: x.dsat.and(one()).or(z.dsat.and(zero())),
			sat:  x.sat.and(one()).or(z.sat.and(zero())),
		}, nil

	case FragThresh:
		k := int(node.k)
		best := bestOfK(len(args),
			func(i int) satisfaction { return args[i].sat },
			func(i int) satisfaction { return args[i].dsat },
		)

		// Dissatisfying all legs is the canonical dissatisfaction,
		// any other count but k is malleable.
		dsat := best[0]
		for j := 1; j < len(best); j++ {
			if j != k {
				dsat = dsat.or(best[j].setMalleable(true))
			}
		}
		return &satisfactions{dsat: dsat, sat: best[k]}, nil

	case FragMulti:
		k := int(node.k)

		// The first item is the dummy element consumed by the
		// CHECKMULTISIG bug, the signatures follow in key order.
		sigs := []satisfaction{zero()}
		for _, key := range node.keys {
			sig := s.sign(key)
			next := make([]satisfaction, len(sigs)+1)
			for j := range next {
				next[j] = unavailable
				if j < len(sigs) {
					next[j] = sigs[j]
				}
				if j > 0 {
					next[j] = next[j].or(sigs[j-1].and(sig))
				}
			}
			sigs = next
		}

		dsat := zero()
		for i := 0; i < k; i++ {
			dsat = dsat.and(zero())
		}
		return &satisfactions{dsat: dsat, sat: sigs[k]}, nil

	case FragMultiA:
		k := int(node.k)
		sigs := make([]satisfaction, len(node.keys))
		for i, key := range node.keys {
			sigs[i] = s.sign(key)
		}
		best := bestOfK(len(node.keys),
			func(i int) satisfaction { return sigs[i] },
			func(int) satisfaction { return zero() },
		)
		return &satisfactions{dsat: best[0], sat: best[k]}, nil

	case FragAlt, FragSwap, FragCheck, FragZeroNotEqual:
		return args[0], nil

	case FragDupIf:
		return &satisfactions{
			dsat: zero(),
			sat:  args[0].sat.and(one()),
		}, nil

	case FragVerify:
		return &satisfactions{dsat: unavailable, sat: args[0].sat}, nil

	case FragNonZero:
		x := args[0]
		return &satisfactions{
			dsat: zero().setMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil
	}

	return nil, errorf(ErrImpossible, "unknown fragment %v", node.frag)
}

// Satisfy returns the cheapest witness for this miniscript, given the
// signatures, preimages and timelocks available from satisfier. If no witness
// exists, an error with code ErrImpossible is returned.
//
// The witness may be malleable if the miniscript is not sane, which the
// NonMalleable field of the result reports.
func (a *AST) Satisfy(satisfier Satisfier) (*Satisfaction, error) {
	s := &producer{satisfier: satisfier}
	sats, err := s.satisfy(a)
	if err != nil {
		return nil, err
	}
	if !sats.sat.available {
		return nil, errorf(ErrImpossible, "no satisfaction could be "+
			"found for %v", a)
	}

	witness := sats.sat.witness
	size := 0
	for _, e := range witness {
		size += wire.VarIntSerializeSize(uint64(len(e))) + len(e)
	}
	if err := a.ctx.checkWitness(len(witness), size); err != nil {
		return nil, err
	}

	sat := &Satisfaction{
		Witness:      witness,
		NonMalleable: !sats.sat.malleable && sats.sat.hasSig,
		HasSig:       sats.sat.hasSig,
	}
	switch a.ctx {
	case Legacy, Bare:
		scriptSig, err := sat.ScriptSig()
		if err != nil {
			return nil, errorf(ErrResourceLimit, "unable to build "+
				"scriptSig: %v", err)
		}
		sat.Weight = len(scriptSig) * 4
	default:
		sat.Weight = witness.SerializeSize()
	}

	log.Debugf("Satisfied %v with %d witness elements (weight %d, "+
		"non-malleable %v)", a, len(witness), sat.Weight,
		sat.NonMalleable)
	log.Tracef("Witness: %v", newLogClosure(func() string {
		return witnessHex(witness)
	}))
	return sat, nil
}
