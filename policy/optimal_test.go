package policy

import (
	"math"
	"testing"

	"github.com/btcsuite/miniscript"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// satisfied are the probabilities of the top level policy.
var satisfied = probs{sat: 1}

// encodingKey groups the encodings that can replace each other inside any
// larger expression at the same cost.
type encodingKey struct {
	compilationKey
	canDissat bool
}

// encodings holds the cheapest encoding of a policy for every key.
type encodings map[encodingKey]*candidate

// add keeps cand if it is a non-malleable encoding cheaper than the known one
// with the same key.
func (e encodings) add(ctx miniscript.ScriptContext, cand *candidate) bool {
	if !cand.node.Type().Props.M ||
		!ctx.CompilerAllows(cand.node.Fragment()) {

		return false
	}

	key := encodingKey{
		compilationKey: keyOf(cand),
		canDissat:      cand.costs.canDissat,
	}
	known, ok := e[key]
	if ok && known.cost(satisfied) <= cand.cost(satisfied) {
		return false
	}
	e[key] = cand
	return true
}

// wrapAll adds every chain of wrappers around the known encodings.
func (e encodings) wrapAll(ctx miniscript.ScriptContext) {
	for changed := true; changed; {
		changed = false

		known := make([]*candidate, 0, len(e))
		for _, cand := range e {
			known = append(known, cand)
		}
		for _, cand := range known {
			for _, cst := range casts {
				node, err := cst.wrap(cand.node)
				if err != nil {
					continue
				}
				wrapped := &candidate{
					node:  node,
					costs: cst.costs(cand.costs),
				}
				if e.add(ctx, wrapped) {
					changed = true
				}
			}
		}
	}
}

// enumerate returns the cheapest encoding of a conjunction of leaves for
// every key, trying every way to combine the encodings of its two halves.
func enumerate(ctx miniscript.ScriptContext, p *Policy) encodings {
	e := make(encodings)
	switch p.kind {
	case KindAnd:
		x, y, _, _ := binary(p)
		left, right := enumerate(ctx, x), enumerate(ctx, y)
		zero := miniscript.False(ctx)

		for _, halves := range [][2]encodings{
			{left, right}, {right, left},
		} {
			for _, l := range halves[0] {
				for _, r := range halves[1] {
					node, err := miniscript.AndB(l.node, r.node)
					if err == nil {
						c, _ := andCosts(l.costs, r.costs)
						e.add(ctx, &candidate{node, c})
					}

					node, err = miniscript.AndV(l.node, r.node)
					if err == nil {
						c, _ := andVCosts(l.costs, r.costs)
						e.add(ctx, &candidate{node, c})
					}

					if !l.costs.canDissat {
						continue
					}
					node, err = miniscript.AndOr(l.node, r.node, zero)
					if err == nil {
						e.add(ctx, &candidate{node, costs{
							sat:       l.costs.sat + r.costs.sat,
							dissat:    l.costs.dissat,
							canDissat: true,
						}})
					}
				}
			}
		}

	case KindKey:
		sig := float64(ecdsaSigCost)
		if ctx.IsTapscript() {
			sig = schnorrSigCost
		}
		node, err := miniscript.PkK(ctx, p.key)
		if err == nil {
			e.add(ctx, &candidate{node, costs{
				sat: sig, dissat: 1, canDissat: true,
			}})
		}
		node, err = miniscript.PkH(ctx, p.key)
		if err == nil {
			e.add(ctx, &candidate{node, costs{
				sat:       sig + keyCost(p.key),
				dissat:    1 + keyCost(p.key),
				canDissat: true,
			}})
		}

	case KindOlder:
		node, err := miniscript.Older(ctx, p.value)
		if err == nil {
			e.add(ctx, &candidate{node: node})
		}

	case KindAfter:
		node, err := miniscript.After(ctx, p.value)
		if err == nil {
			e.add(ctx, &candidate{node: node})
		}

	case KindSha256:
		node, err := miniscript.Sha256(ctx, p.hash)
		if err == nil {
			e.add(ctx, &candidate{node, costs{
				sat: 33, dissat: 33, canDissat: true,
			}})
		}
	}

	e.wrapAll(ctx)
	return e
}

// conjunction draws a random nesting of and over n leaves.
func (g *policyGen) conjunction(n int) *Policy {
	if n == 1 {
		return g.leaf()
	}

	maxParts := 3
	if n < maxParts {
		maxParts = n
	}
	sizes := make([]int, rapid.IntRange(2, maxParts).Draw(g.t, "parts"))
	for i := range sizes {
		sizes[i] = 1
	}
	for i := len(sizes); i < n; i++ {
		sizes[rapid.IntRange(0, len(sizes)-1).Draw(g.t, "part")]++
	}

	subs := make([]*Policy, len(sizes))
	for i, size := range sizes {
		subs[i] = g.conjunction(size)
	}
	p, err := NewAnd(subs...)
	require.NoError(g.t, err)
	return p
}

// TestCompileOptimalProperty tests that the compiler finds the cheapest
// encoding of random conjunctions of up to five leaves. No branch of a
// conjunction is ever dissatisfied, so every cost adds up from the costs of
// the parts and keeping the cheapest encoding per key loses nothing.
func TestCompileOptimalProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ctx := rapid.SampledFrom([]miniscript.ScriptContext{
			miniscript.SegwitV0, miniscript.Taproot,
		}).Draw(t, "ctx")
		gen := &policyGen{t: t, ring: newTestKeyring(), ctx: ctx}
		p := gen.conjunction(rapid.IntRange(2, 5).Draw(t, "leaves"))

		want, cheapest := impossible, ""
		for _, cand := range enumerate(ctx, p) {
			if cand.node.Type().Base != miniscript.TypeB {
				continue
			}
			if cost := cand.cost(satisfied); cost < want {
				want, cheapest = cost, cand.node.String()
			}
		}
		require.False(t, math.IsInf(want, 1), p.String())

		c := &compiler{
			ctx:  ctx,
			cfg:  DefaultCompilerConfig(),
			memo: make(map[memoKey]candidates),
		}
		got, err := c.best(p, satisfied, miniscript.TypeB, nil)
		require.NoError(t, err, p.String())
		require.InDelta(t, want, got.cost(satisfied), 1e-9,
			"%v compiled to %v, cheapest is %v", p, got.node,
			cheapest)
	})
}
