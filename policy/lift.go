package policy

import (
	"sort"

	"github.com/btcsuite/miniscript"
)

var liftedHashes = map[miniscript.Fragment]Kind{
	miniscript.FragSha256:    KindSha256,
	miniscript.FragHash256:   KindHash256,
	miniscript.FragRipemd160: KindRipemd160,
	miniscript.FragHash160:   KindHash160,
}

// Lift returns the spending conditions of a miniscript as a policy with all
// or weights equal to 1. Miniscripts mixing height and time based locks, and
// ones paying to a raw key hash, have no policy.
func Lift(a *miniscript.AST) (*Policy, error) {
	if a.HasMixedTimelocks() {
		return nil, miniscript.NewError(miniscript.ErrTypeCheck, -1,
			a.String()+" combines height and time based locks")
	}
	return lift(a)
}

func lift(a *miniscript.AST) (*Policy, error) {
	args := a.Args()
	liftArgs := func(nodes ...*miniscript.AST) ([]*Policy, error) {
		subs := make([]*Policy, len(nodes))
		for i, node := range nodes {
			sub, err := lift(node)
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		return subs, nil
	}

	switch f := a.Fragment(); f {
	case miniscript.FragFalse:
		return Unsatisfiable(), nil

	case miniscript.FragTrue:
		return Trivial(), nil

	case miniscript.FragPkK, miniscript.FragPkH:
		return NewKey(a.Keys()[0]), nil

	case miniscript.FragRawPkH:
		return nil, compileError("%v has no policy since the key is "+
			"only known by its hash", a)

	case miniscript.FragOlder:
		return NewOlder(a.K())

	case miniscript.FragAfter:
		return NewAfter(a.K())

	case miniscript.FragSha256, miniscript.FragHash256,
		miniscript.FragRipemd160, miniscript.FragHash160:

		return NewHash(liftedHashes[f], a.Hash())

	case miniscript.FragAndV, miniscript.FragAndB:
		subs, err := liftArgs(args...)
		if err != nil {
			return nil, err
		}
		return NewAnd(subs...)

	case miniscript.FragAndOr:
		subs, err := liftArgs(args...)
		if err != nil {
			return nil, err
		}
		and, err := NewAnd(subs[0], subs[1])
		if err != nil {
			return nil, err
		}
		return NewOr(and, subs[2])

	case miniscript.FragOrB, miniscript.FragOrC, miniscript.FragOrD,
		miniscript.FragOrI:

		subs, err := liftArgs(args...)
		if err != nil {
			return nil, err
		}
		return NewOr(subs...)

	case miniscript.FragThresh:
		subs, err := liftArgs(args...)
		if err != nil {
			return nil, err
		}
		return NewThresh(a.K(), subs...)

	case miniscript.FragMulti, miniscript.FragMultiA:
		keys := a.Keys()
		subs := make([]*Policy, len(keys))
		for i, key := range keys {
			subs[i] = NewKey(key)
		}
		return NewThresh(a.K(), subs...)
	}

	// Wrappers do not change the spending conditions.
	return lift(args[0])
}

// Normalized returns the policy in a canonical form in which two policies
// with the same spending conditions compare equal: and and or become
// thresholds, nested thresholds of the same kind are flattened, TRIVIAL and
// UNSATISFIABLE branches are folded into their parent and the arguments of
// every threshold are sorted by their text form. Or weights are dropped.
func (p *Policy) Normalized() *Policy {
	switch p.kind {
	case KindAnd:
		return (&Policy{
			kind: KindThresh, value: uint32(len(p.subs)),
			subs: p.subs,
		}).Normalized()

	case KindOr:
		return (&Policy{kind: KindThresh, value: 1, subs: p.subs}).
			Normalized()

	case KindThresh:
		return p.normalizeThresh()
	}
	return p
}

func (p *Policy) normalizeThresh() *Policy {
	subs := make([]*Policy, len(p.subs))
	var trivial, unsatisfiable int
	for i, sub := range p.subs {
		subs[i] = sub.Normalized()
		switch subs[i].kind {
		case KindTrivial:
			trivial++
		case KindUnsatisfiable:
			unsatisfiable++
		}
	}

	// Trivial branches are always satisfied and unsatisfiable ones never
	// are.
	n := len(subs) - trivial - unsatisfiable
	m := 0
	if int(p.value) > trivial {
		m = int(p.value) - trivial
	}
	isAnd := m == n
	isOr := m == 1

	flat := make([]*Policy, 0, len(subs))
	for _, sub := range subs {
		switch {
		case sub.kind == KindTrivial || sub.kind == KindUnsatisfiable:

		case sub.kind != KindThresh || (isAnd && isOr):
			flat = append(flat, sub)

		case isAnd && int(sub.value) == len(sub.subs):
			flat = append(flat, sub.subs...)

		case isOr && sub.value == 1:
			flat = append(flat, sub.subs...)

		default:
			flat = append(flat, sub)
		}
	}

	switch {
	case m == 0:
		return Trivial()

	case m > len(flat):
		return Unsatisfiable()

	case len(flat) == 1:
		return flat[0]
	}

	k := m
	if isAnd {
		k = len(flat)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].String() < flat[j].String()
	})
	return &Policy{kind: KindThresh, value: uint32(k), subs: flat}
}
