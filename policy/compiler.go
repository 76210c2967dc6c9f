package policy

import (
	"fmt"
	"math"

	"github.com/btcsuite/miniscript"
)

const (
	// DefaultMaxMemoEntries is the default search budget of the compiler.
	DefaultMaxMemoEntries = 100000

	// ecdsaSigCost and schnorrSigCost are the witness cost of a signature
	// including its length prefix.
	ecdsaSigCost   = 73
	schnorrSigCost = 66
)

// CompilerConfig tunes the policy compiler.
type CompilerConfig struct {
	// MaxMemoEntries bounds the number of (sub policy, probabilities)
	// pairs the compiler may evaluate. The compiler fails with
	// ErrSearchExhausted when it is reached.
	MaxMemoEntries int
}

// DefaultCompilerConfig returns the configuration used by Compile.
func DefaultCompilerConfig() CompilerConfig {
	return CompilerConfig{
		MaxMemoEntries: DefaultMaxMemoEntries,
	}
}

// Compile returns the miniscript encoding of the policy with the smallest
// expected spending cost, where the cost of an encoding is its script size
// plus the size of its satisfaction weighted by the probabilities of the
// or branches.
func Compile(p *Policy, ctx miniscript.ScriptContext) (*miniscript.AST, error) {
	return CompileWithConfig(p, ctx, DefaultCompilerConfig())
}

// CompileWithConfig is Compile with an explicit configuration.
func CompileWithConfig(p *Policy, ctx miniscript.ScriptContext,
	cfg CompilerConfig) (*miniscript.AST, error) {

	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := &compiler{
		ctx:  ctx,
		cfg:  cfg,
		memo: make(map[memoKey]candidates),
	}
	best, err := c.best(p, probs{sat: 1}, miniscript.TypeB, nil)
	if err != nil {
		return nil, err
	}

	typ := best.node.Type()
	switch {
	case !typ.Props.S:
		return nil, compileError("%v compiles to %v which does not "+
			"require a signature", p, best.node)

	case !typ.Props.M:
		return nil, compileError("%v compiles to %v which is "+
			"malleable", p, best.node)
	}
	if err := best.node.IsValidTopLevel(); err != nil {
		return nil, compileError("%v compiles to %v which is "+
			"invalid: %v", p, best.node, err)
	}

	log.Debugf("Compiled %v to %v (cost %.2f, %d memo entries)", p,
		best.node, best.cost(probs{sat: 1}), len(c.memo))
	log.Tracef("Compiled tree:\n%v", newLogClosure(func() string {
		return best.node.DrawTree()
	}))

	return best.node, nil
}

func compileError(format string, args ...interface{}) error {
	return miniscript.NewError(miniscript.ErrCompile, -1,
		fmt.Sprintf(format, args...))
}

// probs are the probabilities that a sub policy is satisfied and
// dissatisfied when the whole policy is spent.
type probs struct {
	sat float64

	// dissat is only meaningful if canDissat is set. If canDissat is not
	// set the sub policy is never dissatisfied.
	dissat    float64
	canDissat bool
}

func withDissat(sat, dissat float64) probs {
	return probs{sat: sat, dissat: dissat, canDissat: true}
}

// costs are the expected witness costs of a candidate.
type costs struct {
	sat float64

	// dissat is only meaningful if canDissat is set.
	dissat    float64
	canDissat bool
}

// candidate is a compiled encoding of a sub policy.
type candidate struct {
	node  *miniscript.AST
	costs costs
}

// impossible is the satisfaction cost of a candidate that can never be
// satisfied.
var impossible = math.Inf(1)

// weighted returns prob*cost. A cost that is never paid adds nothing, even
// an impossible one.
func weighted(prob, cost float64) float64 {
	if prob == 0 {
		return 0
	}
	return prob * cost
}

// cost is the expected cost of spending through the candidate.
func (c *candidate) cost(p probs) float64 {
	cost := float64(c.node.ScriptLen()) + weighted(p.sat, c.costs.sat)
	if p.canDissat {
		if !c.costs.canDissat {
			return impossible
		}
		cost += weighted(p.dissat, c.costs.dissat)
	}
	return cost
}

// compilationKey identifies the candidates that can replace each other.
type compilationKey struct {
	typ        miniscript.Type
	freeVerify bool
}

func keyOf(c *candidate) compilationKey {
	return compilationKey{
		typ:        c.node.Type(),
		freeVerify: c.node.HasFreeVerify(),
	}
}

// isSubtype returns true if a candidate with key k can be used wherever one
// with key o can.
func (k compilationKey) isSubtype(o compilationKey) bool {
	return k.typ.IsSubtype(o.typ) && k.freeVerify == o.freeVerify
}

// candidates are the best encodings of a sub policy, none of which
// dominates another. It is kept as a slice so that the compiler visits
// candidates in a deterministic order.
type candidates []*candidate

type memoKey struct {
	policy string
	probs  probs
}

type compiler struct {
	ctx  miniscript.ScriptContext
	cfg  CompilerConfig
	memo map[memoKey]candidates
}

// insert adds a candidate unless one with a subtype at no greater cost is
// already known, and drops the candidates it dominates. It returns true if
// the candidate was added.
func (c *compiler) insert(cs *candidates, cand *candidate, p probs) bool {
	typ := cand.node.Type()
	if !typ.Props.M {
		return false
	}
	// Arguments were checked when they were inserted themselves.
	if !c.ctx.CompilerAllows(cand.node.Fragment()) {
		return false
	}

	cost := cand.cost(p)
	key := keyOf(cand)
	for _, existing := range *cs {
		if keyOf(existing).isSubtype(key) && existing.cost(p) <= cost {
			return false
		}
	}

	kept := make(candidates, 0, len(*cs)+1)
	for _, existing := range *cs {
		if key.isSubtype(keyOf(existing)) && existing.cost(p) >= cost {
			continue
		}
		kept = append(kept, existing)
	}
	*cs = append(kept, cand)
	return true
}

// cast is a wrapper the compiler may put around any candidate.
type cast struct {
	wrap  func(x *miniscript.AST) (*miniscript.AST, error)
	costs func(x costs) costs
}

func sameCosts(x costs) costs {
	return x
}

func noDissat(x costs) costs {
	return costs{sat: x.sat}
}

// casts are the ten wrappers c, d, u, l, v, j, n, t, s and a.
var casts = []cast{
	{
		wrap:  miniscript.Check,
		costs: sameCosts,
	},
	{
		// d:X is satisfied by X and a 1, dissatisfied by a 0.
		wrap: miniscript.DupIf,
		costs: func(x costs) costs {
			return costs{
				sat: 2 + x.sat, dissat: 1, canDissat: true,
			}
		},
	},
	{
		// u:X = or_i(X,0) is dissatisfied by taking the 0 branch.
		wrap: func(x *miniscript.AST) (*miniscript.AST, error) {
			return miniscript.OrI(x, miniscript.False(x.Context()))
		},
		costs: func(x costs) costs {
			return costs{
				sat: 2 + x.sat, dissat: 1, canDissat: true,
			}
		},
	},
	{
		// l:X = or_i(0,X).
		wrap: func(x *miniscript.AST) (*miniscript.AST, error) {
			return miniscript.OrI(miniscript.False(x.Context()), x)
		},
		costs: func(x costs) costs {
			return costs{
				sat: 1 + x.sat, dissat: 2, canDissat: true,
			}
		},
	},
	{
		wrap:  miniscript.Verify,
		costs: noDissat,
	},
	{
		wrap: miniscript.NonZero,
		costs: func(x costs) costs {
			return costs{sat: x.sat, dissat: 1, canDissat: true}
		},
	},
	{
		wrap:  miniscript.ZeroNotEqual,
		costs: sameCosts,
	},
	{
		// t:X = and_v(X,1).
		wrap: func(x *miniscript.AST) (*miniscript.AST, error) {
			return miniscript.AndV(x, miniscript.True(x.Context()))
		},
		costs: noDissat,
	},
	{
		wrap:  miniscript.Swap,
		costs: sameCosts,
	},
	{
		wrap:  miniscript.Alt,
		costs: sameCosts,
	},
}

// insertWrapped inserts a candidate and then every wrapping of the known
// candidates that is not dominated, until no new candidate appears.
func (c *compiler) insertWrapped(cs *candidates, node *miniscript.AST,
	nodeCosts costs, p probs) {

	c.insert(cs, &candidate{node: node, costs: nodeCosts}, p)

	queue := append(candidates(nil), (*cs)...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, cst := range casts {
			wrapped, err := cst.wrap(cur.node)
			if err != nil {
				continue
			}
			next := &candidate{
				node:  wrapped,
				costs: cst.costs(cur.costs),
			}
			if c.insert(cs, next, p) {
				queue = append(queue, next)
			}
		}
	}
}

// best returns the cheapest candidate of the given basic type. If props is
// not nil the candidate must also have these properties.
func (c *compiler) best(p *Policy, pr probs, base miniscript.BasicType,
	props *miniscript.Properties) (*candidate, error) {

	cs, err := c.compile(p, pr)
	if err != nil {
		return nil, err
	}

	var (
		best     *candidate
		bestCost float64
	)
	for _, cand := range cs {
		typ := cand.node.Type()
		if typ.Base != base {
			continue
		}
		if props != nil && !typ.IsSubtype(miniscript.Type{
			Base: base, Props: *props,
		}) {
			continue
		}
		cost := cand.cost(pr)
		if best == nil || cost < bestCost {
			best, bestCost = cand, cost
		}
	}
	if best == nil {
		return nil, compileError("no %v encoding of %v", base, p)
	}
	return best, nil
}

// compile returns the candidates for a sub policy under the given
// probabilities.
func (c *compiler) compile(p *Policy, pr probs) (candidates, error) {
	key := memoKey{policy: p.String(), probs: pr}
	if cs, ok := c.memo[key]; ok {
		return cs, nil
	}
	if len(c.memo) >= c.cfg.MaxMemoEntries {
		return nil, miniscript.NewError(miniscript.ErrSearchExhausted,
			-1, fmt.Sprintf("compiler search budget of %d entries "+
				"exhausted", c.cfg.MaxMemoEntries))
	}

	var (
		cs  candidates
		err error
	)
	switch p.kind {
	case KindAnd:
		err = c.compileAnd(&cs, p, pr)

	case KindOr:
		err = c.compileOr(&cs, p, pr)

	case KindThresh:
		err = c.compileThresh(&cs, p, pr)

	default:
		err = c.compileLeaf(&cs, p, pr)
	}
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, compileError("no non-malleable encoding of %v in "+
			"%v context", p, c.ctx)
	}

	log.Tracef("Compiled %v (p_sat %.3f, p_dissat %.3f) to %d "+
		"candidates", p, pr.sat, pr.dissat, len(cs))

	c.memo[key] = cs
	return cs, nil
}

func (c *compiler) sigCost() float64 {
	if c.ctx.IsTapscript() {
		return schnorrSigCost
	}
	return ecdsaSigCost
}

// keyCost is the witness cost of pushing a key.
func keyCost(key miniscript.Key) float64 {
	return float64(len(key.Serialize()) + 1)
}

func (c *compiler) compileLeaf(cs *candidates, p *Policy, pr probs) error {
	switch p.kind {
	case KindUnsatisfiable:
		c.insertWrapped(cs, miniscript.False(c.ctx), costs{
			sat: impossible, canDissat: true,
		}, pr)

	case KindTrivial:
		c.insertWrapped(cs, miniscript.True(c.ctx), costs{}, pr)

	case KindKey:
		node, err := miniscript.PkK(c.ctx, p.key)
		if err != nil {
			return err
		}
		c.insertWrapped(cs, node, costs{
			sat: c.sigCost(), dissat: 1, canDissat: true,
		}, pr)

		if c.ctx.CompilerAllows(miniscript.FragPkH) {
			node, err := miniscript.PkH(c.ctx, p.key)
			if err != nil {
				return err
			}
			c.insertWrapped(cs, node, costs{
				sat:       c.sigCost() + keyCost(p.key),
				dissat:    1 + keyCost(p.key),
				canDissat: true,
			}, pr)
		}

	case KindAfter, KindOlder:
		var (
			node *miniscript.AST
			err  error
		)
		if p.kind == KindAfter {
			node, err = miniscript.After(c.ctx, p.value)
		} else {
			node, err = miniscript.Older(c.ctx, p.value)
		}
		if err != nil {
			return err
		}
		c.insertWrapped(cs, node, costs{}, pr)

	case KindSha256, KindHash256, KindRipemd160, KindHash160:
		node, err := miniscript.HashLock(c.ctx, hashKinds[p.kind], p.hash)
		if err != nil {
			return err
		}
		c.insertWrapped(cs, node, costs{
			sat: 33, dissat: 33, canDissat: true,
		}, pr)
	}
	return nil
}

// binary returns the first sub and the and/or of the remaining subs, so that
// n-ary conjunctions and disjunctions compile as nested binary ones.
func binary(p *Policy) (*Policy, *Policy, float64, float64) {
	left := p.subs[0]
	if len(p.subs) == 2 {
		right := p.subs[1]
		if p.kind != KindOr {
			return left, right, 1, 1
		}
		total := float64(p.weights[0]) + float64(p.weights[1])
		return left, right, float64(p.weights[0]) / total,
			float64(p.weights[1]) / total
	}

	right := &Policy{kind: p.kind, subs: p.subs[1:]}
	if p.kind != KindOr {
		return left, right, 1, 1
	}
	right.weights = p.weights[1:]

	var rest float64
	for _, w := range right.weights {
		rest += float64(w)
	}
	total := float64(p.weights[0]) + rest
	return left, right, float64(p.weights[0]) / total, rest / total
}

type combinator func(x, y *miniscript.AST) (*miniscript.AST, error)

// compileBinary inserts comb(l, r) for every pair of candidates.
func (c *compiler) compileBinary(cs *candidates, left, right candidates,
	comb combinator, combCosts func(l, r costs) (costs, bool), pr probs) {

	for _, l := range left {
		for _, r := range right {
			node, err := comb(l.node, r.node)
			if err != nil {
				continue
			}
			nodeCosts, ok := combCosts(l.costs, r.costs)
			if !ok {
				continue
			}
			c.insertWrapped(cs, node, nodeCosts, pr)
		}
	}
}

// compileAndOr inserts andor(a, b, x) for every triple of candidates. pa and
// px are the probabilities of taking the a and b branch, and the x branch.
func (c *compiler) compileAndOr(cs *candidates, as, bs, xs candidates,
	pa, px float64, pr probs) {

	for _, a := range as {
		if !a.costs.canDissat {
			continue
		}
		for _, b := range bs {
			for _, x := range xs {
				node, err := miniscript.AndOr(a.node, b.node, x.node)
				if err != nil {
					continue
				}
				nodeCosts := costs{
					sat: weighted(pa, a.costs.sat+b.costs.sat) +
						weighted(px, a.costs.dissat+x.costs.sat),
				}
				if x.costs.canDissat {
					nodeCosts.dissat = a.costs.dissat +
						x.costs.dissat
					nodeCosts.canDissat = true
				}
				c.insertWrapped(cs, node, nodeCosts, pr)
			}
		}
	}
}

func andCosts(l, r costs) (costs, bool) {
	return costs{
		sat:       l.sat + r.sat,
		dissat:    l.dissat + r.dissat,
		canDissat: l.canDissat && r.canDissat,
	}, true
}

func andVCosts(l, r costs) (costs, bool) {
	return costs{sat: l.sat + r.sat}, true
}

func (c *compiler) compileAnd(cs *candidates, p *Policy, pr probs) error {
	x, y, _, _ := binary(p)

	left, err := c.compile(x, pr)
	if err != nil {
		return err
	}
	right, err := c.compile(y, pr)
	if err != nil {
		return err
	}
	c.compileBinary(cs, left, right, miniscript.AndB, andCosts, pr)
	c.compileBinary(cs, right, left, miniscript.AndB, andCosts, pr)
	c.compileBinary(cs, left, right, miniscript.AndV, andVCosts, pr)
	c.compileBinary(cs, right, left, miniscript.AndV, andVCosts, pr)

	// and_n(X,Y) = andor(X,Y,0), where Y is never dissatisfied.
	zero := candidates{{
		node:  miniscript.False(c.ctx),
		costs: costs{sat: impossible, canDissat: true},
	}}
	satOnly := probs{sat: pr.sat}
	rightSat, err := c.compile(y, satOnly)
	if err != nil {
		return err
	}
	leftSat, err := c.compile(x, satOnly)
	if err != nil {
		return err
	}
	c.compileAndOr(cs, left, rightSat, zero, 1, 0, pr)
	c.compileAndOr(cs, right, leftSat, zero, 1, 0, pr)
	return nil
}

// orCosts returns the costs of a disjunction encoding given the
// probabilities lw and rw of taking each branch.
func orCosts(frag miniscript.Fragment, lw, rw float64) func(l,
	r costs) (costs, bool) {

	return func(l, r costs) (costs, bool) {
		switch frag {
		case miniscript.FragOrB:
			if !l.canDissat || !r.canDissat {
				return costs{}, false
			}
			return costs{
				sat: weighted(lw, l.sat+r.dissat) +
					weighted(rw, r.sat+l.dissat),
				dissat:    l.dissat + r.dissat,
				canDissat: true,
			}, true

		case miniscript.FragOrD, miniscript.FragOrC:
			if !l.canDissat {
				return costs{}, false
			}
			out := costs{
				sat: weighted(lw, l.sat) +
					weighted(rw, r.sat+l.dissat),
			}
			if frag == miniscript.FragOrD && r.canDissat {
				out.dissat = l.dissat + r.dissat
				out.canDissat = true
			}
			return out, true

		default:
			out := costs{
				sat: weighted(lw, 2+l.sat) + weighted(rw, 1+r.sat),
			}
			switch {
			case l.canDissat && r.canDissat:
				out.dissat = (2 + l.dissat + 1 + r.dissat) / 2
				out.canDissat = true

			case l.canDissat:
				out.dissat = 2 + l.dissat
				out.canDissat = true

			case r.canDissat:
				out.dissat = 1 + r.dissat
				out.canDissat = true
			}
			return out, true
		}
	}
}

func (c *compiler) compileOr(cs *candidates, p *Policy, pr probs) error {
	x, y, lw, rw := binary(p)

	// andor(a,b,z) when one side is a conjunction.
	andOr := func(and, other *Policy, andW, otherW float64) error {
		a, b, _, _ := binary(and)
		andPr := withDissat(andW*pr.sat, pr.dissat+otherW*pr.sat)
		andSat := probs{sat: andW * pr.sat}

		a1, err := c.compile(a, andPr)
		if err != nil {
			return err
		}
		a2, err := c.compile(a, andSat)
		if err != nil {
			return err
		}
		b1, err := c.compile(b, andPr)
		if err != nil {
			return err
		}
		b2, err := c.compile(b, andSat)
		if err != nil {
			return err
		}
		z, err := c.compile(other, probs{
			sat: otherW * pr.sat, dissat: pr.dissat,
			canDissat: pr.canDissat,
		})
		if err != nil {
			return err
		}
		c.compileAndOr(cs, a1, b2, z, andW, otherW, pr)
		c.compileAndOr(cs, b1, a2, z, andW, otherW, pr)
		return nil
	}
	if x.kind == KindAnd {
		if err := andOr(x, y, lw, rw); err != nil {
			return err
		}
	}
	if y.kind == KindAnd {
		if err := andOr(y, x, rw, lw); err != nil {
			return err
		}
	}

	// Each branch is compiled for the four ways it can be used: never
	// dissatisfied, dissatisfied when the other branch is taken,
	// dissatisfied when the whole or is, or both.
	variants := func(sub *Policy, w, otherW float64) ([4]candidates,
		error) {

		var out [4]candidates
		prs := [4]probs{
			{sat: w * pr.sat},
			withDissat(w*pr.sat, otherW*pr.sat),
			{sat: w * pr.sat, dissat: pr.dissat,
				canDissat: pr.canDissat},
			withDissat(w*pr.sat, pr.dissat+otherW*pr.sat),
		}
		for i, subPr := range prs {
			cands, err := c.compile(sub, subPr)
			if err != nil {
				return out, err
			}
			out[i] = cands
		}
		return out, nil
	}
	l, err := variants(x, lw, rw)
	if err != nil {
		return err
	}
	r, err := variants(y, rw, lw)
	if err != nil {
		return err
	}

	c.compileBinary(cs, l[3], r[3], miniscript.OrB,
		orCosts(miniscript.FragOrB, lw, rw), pr)
	c.compileBinary(cs, r[3], l[3], miniscript.OrB,
		orCosts(miniscript.FragOrB, rw, lw), pr)
	c.compileBinary(cs, l[3], r[2], miniscript.OrD,
		orCosts(miniscript.FragOrD, lw, rw), pr)
	c.compileBinary(cs, r[3], l[2], miniscript.OrD,
		orCosts(miniscript.FragOrD, rw, lw), pr)
	c.compileBinary(cs, l[1], r[0], miniscript.OrC,
		orCosts(miniscript.FragOrC, lw, rw), pr)
	c.compileBinary(cs, r[1], l[0], miniscript.OrC,
		orCosts(miniscript.FragOrC, rw, lw), pr)
	c.compileBinary(cs, l[2], r[2], miniscript.OrI,
		orCosts(miniscript.FragOrI, lw, rw), pr)
	c.compileBinary(cs, r[2], l[2], miniscript.OrI,
		orCosts(miniscript.FragOrI, rw, lw), pr)
	return nil
}

func (c *compiler) compileThresh(cs *candidates, p *Policy, pr probs) error {
	k := int(p.value)
	n := len(p.subs)

	if k == n || k == 1 {
		if n == 1 {
			sub, err := c.compile(p.subs[0], pr)
			if err != nil {
				return err
			}
			for _, cand := range sub {
				c.insert(cs, cand, pr)
			}
			return nil
		}

		// thresh(n,...) is an and, thresh(1,...) an or of equally
		// likely branches.
		var folded *Policy
		if k == n {
			folded = &Policy{kind: KindAnd, subs: p.subs}
		} else {
			weights := make([]uint32, n)
			for i := range weights {
				weights[i] = 1
			}
			folded = &Policy{
				kind: KindOr, subs: p.subs, weights: weights,
			}
		}
		fold, err := c.compile(folded, pr)
		if err != nil {
			return err
		}
		for _, cand := range fold {
			c.insert(cs, cand, pr)
		}
	}

	if err := c.compileThreshFragment(cs, p, pr); err != nil {
		return err
	}

	keys := make([]miniscript.Key, 0, n)
	for _, sub := range p.subs {
		if sub.kind == KindKey {
			keys = append(keys, sub.key)
		}
	}
	if len(keys) != n {
		return nil
	}
	if c.ctx.IsTapscript() {
		node, err := miniscript.MultiA(c.ctx, uint32(k), keys...)
		if err == nil {
			c.insertWrapped(cs, node, costs{
				sat:       schnorrSigCost*float64(k) + float64(n-k),
				dissat:    float64(n),
				canDissat: true,
			}, pr)
		}
		return nil
	}
	node, err := miniscript.Multi(c.ctx, uint32(k), keys...)
	if err == nil {
		c.insertWrapped(cs, node, costs{
			sat:       1 + ecdsaSigCost*float64(k),
			dissat:    1 + float64(k),
			canDissat: true,
		}, pr)
	}
	return nil
}

// compileThreshFragment inserts a thresh fragment whose first argument is
// the sub with the smallest extra cost of being a B instead of a W
// expression.
func (c *compiler) compileThreshFragment(cs *candidates, p *Policy,
	pr probs) error {

	k := float64(p.value)
	n := float64(len(p.subs))
	subPr := withDissat(pr.sat*k/n, pr.dissat+(1-k/n)*pr.sat)
	du := &miniscript.Properties{D: true, U: true}

	var (
		es      = make([]*candidate, len(p.subs))
		ws      = make([]*candidate, len(p.subs))
		first   = -1
		minDiff = math.Inf(1)
	)
	for i, sub := range p.subs {
		e, err := c.best(sub, subPr, miniscript.TypeB, du)
		if err != nil {
			if isSearchExhausted(err) {
				return err
			}
			return nil
		}
		w, err := c.best(sub, subPr, miniscript.TypeW, du)
		if err != nil {
			if isSearchExhausted(err) {
				return err
			}
			return nil
		}
		es[i], ws[i] = e, w
		// Subs that can never be satisfied cost the same either
		// way.
		eCost, wCost := e.cost(subPr), w.cost(subPr)
		diff := 0.0
		if !math.IsInf(eCost, 1) || !math.IsInf(wCost, 1) {
			diff = eCost - wCost
		}
		if first < 0 || diff < minDiff {
			first, minDiff = i, diff
		}
	}
	if first < 0 {
		return nil
	}

	args := []*candidate{es[first]}
	for i := range p.subs {
		if i != first {
			args = append(args, ws[i])
		}
	}
	nodes := make([]*miniscript.AST, len(args))
	var satSum, dissatSum float64
	for i, arg := range args {
		nodes[i] = arg.node
		satSum += arg.costs.sat
		dissatSum += arg.costs.dissat
	}
	node, err := miniscript.Thresh(p.value, nodes...)
	if err != nil {
		return nil
	}
	c.insertWrapped(cs, node, costs{
		sat:       weighted(k/n, satSum) + weighted((n-k)/n, dissatSum),
		dissat:    dissatSum,
		canDissat: true,
	}, pr)
	return nil
}

func isSearchExhausted(err error) bool {
	e, ok := err.(miniscript.Error)
	return ok && e.ErrorCode == miniscript.ErrSearchExhausted
}
