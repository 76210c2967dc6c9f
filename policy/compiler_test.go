package policy

import (
	"math"
	"testing"

	"github.com/btcsuite/miniscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// TestCompile tests the encodings chosen for some well known policies.
func TestCompile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy   string
		ctx      miniscript.ScriptContext
		expected string
	}{
		{
			policy:   "pk(A)",
			ctx:      miniscript.SegwitV0,
			expected: "pk(A)",
		},
		{
			policy:   "thresh(2,pk(A),pk(B),pk(C))",
			ctx:      miniscript.SegwitV0,
			expected: "multi(2,A,B,C)",
		},
		{
			policy:   "thresh(2,pk(A),pk(B),pk(C))",
			ctx:      miniscript.Taproot,
			expected: "multi_a(2,A,B,C)",
		},
		{
			policy:   "or(99@pk(A),1@and(pk(B),older(144)))",
			ctx:      miniscript.SegwitV0,
			expected: "or_d(pk(A),and_v(v:pk(B),older(144)))",
		},
	}

	for _, tc := range testCases {
		ring := newTestKeyring()
		p := ring.parse(t, tc.policy, tc.ctx)
		node, err := Compile(p, tc.ctx)
		require.NoError(t, err, tc.policy)
		require.Equal(t, tc.expected, node.String(), tc.policy)
		require.NoError(t, node.IsSane(), tc.policy)
	}
}

// TestCompileWeights tests that the likely branch of an or gets the cheaper
// witness.
func TestCompileWeights(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	p := ring.parse(
		t, "or(99@pk(A),1@and(pk(B),older(144)))", miniscript.SegwitV0,
	)
	node, err := Compile(p, miniscript.SegwitV0)
	require.NoError(t, err)

	viaA, err := node.Satisfy(ring.signer("A"))
	require.NoError(t, err)
	viaB, err := node.Satisfy(ring.signer("B"))
	require.NoError(t, err)
	require.Less(t, viaA.Weight, viaB.Weight, "%v: %v vs %v", node,
		spew.Sdump(viaA.Witness), spew.Sdump(viaB.Witness))

	// Flipping the weights flips the preference.
	p = ring.parse(
		t, "or(1@pk(A),99@and(pk(B),older(144)))", miniscript.SegwitV0,
	)
	node, err = Compile(p, miniscript.SegwitV0)
	require.NoError(t, err)

	viaA, err = node.Satisfy(ring.signer("A"))
	require.NoError(t, err)
	viaB, err = node.Satisfy(ring.signer("B"))
	require.NoError(t, err)
	require.LessOrEqual(t, viaB.Weight, viaA.Weight, node.String())
}

// TestCompileMultisig tests that a compiled 2-of-3 is satisfied by exactly
// two signatures.
func TestCompileMultisig(t *testing.T) {
	t.Parallel()

	for _, ctx := range []miniscript.ScriptContext{
		miniscript.SegwitV0, miniscript.Taproot, miniscript.Legacy,
	} {
		ring := newTestKeyring()
		p := ring.parse(t, "thresh(2,pk(A),pk(B),pk(C))", ctx)
		node, err := Compile(p, ctx)
		require.NoError(t, err, ctx)

		sat, err := node.Satisfy(ring.signer("AC"))
		require.NoError(t, err, ctx)
		require.True(t, sat.NonMalleable)

		var sigs [][]byte
		for _, elem := range sat.Witness {
			if len(elem) > 0 {
				sigs = append(sigs, elem)
			}
		}
		require.Len(t, sigs, 2, spew.Sdump(sat.Witness))

		// Signatures appear in key order, with the first key on
		// the top of the stack for multi_a.
		first, second := byte('A'), byte('C')
		if ctx == miniscript.Taproot {
			first, second = second, first
		}
		require.Equal(t, first, sigs[0][0], ctx)
		require.Equal(t, second, sigs[1][0], ctx)

		_, err = node.Satisfy(ring.signer("B"))
		requireCode(t, err, miniscript.ErrImpossible, ctx)
	}
}

// TestCompileLegacy tests that fragments which are malleable under legacy
// rules are never produced.
func TestCompileLegacy(t *testing.T) {
	t.Parallel()

	policies := []string{
		"or(pk(A),pk(B))",
		"or(9@pk(A),and(pk(B),older(10)))",
		"thresh(2,pk(A),pk(B),older(10))",
		"and(pk(A),or(pk(B),after(100)))",
	}
	for _, policy := range policies {
		ring := newTestKeyring()
		p := ring.parse(t, policy, miniscript.Legacy)
		node, err := Compile(p, miniscript.Legacy)
		if err != nil {
			requireCode(t, err, miniscript.ErrCompile, policy)
			continue
		}
		require.NoError(t, node.IsSane(), policy)
		node.Walk(func(n *miniscript.AST) {
			require.True(t, miniscript.Legacy.CompilerAllows(
				n.Fragment(),
			), "%v uses %v", node, n.Fragment())
		})
	}
}

// TestCompileErrors tests the failures of the compiler.
func TestCompileErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy string
		cfg    CompilerConfig
		code   miniscript.ErrorCode
	}{
		{
			// No unit can satisfy both locks.
			policy: "and(pk(A),and(after(100),after(500000001)))",
			cfg:    DefaultCompilerConfig(),
			code:   miniscript.ErrTypeCheck,
		},
		{
			policy: "and(pk(A),pk(A))",
			cfg:    DefaultCompilerConfig(),
			code:   miniscript.ErrTypeCheck,
		},
		{
			// Anyone can spend once the lock expires.
			policy: "older(144)",
			cfg:    DefaultCompilerConfig(),
			code:   miniscript.ErrCompile,
		},
		{
			policy: "or(pk(A),older(144))",
			cfg:    DefaultCompilerConfig(),
			code:   miniscript.ErrCompile,
		},
		{
			policy: "and(pk(A),pk(B))",
			cfg:    CompilerConfig{MaxMemoEntries: 1},
			code:   miniscript.ErrSearchExhausted,
		},
	}

	for _, tc := range testCases {
		ring := newTestKeyring()
		p := ring.parse(t, tc.policy, miniscript.SegwitV0)
		_, err := CompileWithConfig(p, miniscript.SegwitV0, tc.cfg)
		requireCode(t, err, tc.code, tc.policy)
	}
}

// TestCompileDeterministic tests that compiling twice gives the same result.
func TestCompileDeterministic(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	p := ring.parse(
		t, "thresh(3,pk(A),or(pk(B),older(10)),and(pk(C),after(10)),"+
			"pk(D))", miniscript.SegwitV0,
	)
	first, firstErr := Compile(p, miniscript.SegwitV0)
	for i := 0; i < 5; i++ {
		node, err := Compile(p, miniscript.SegwitV0)
		if firstErr != nil {
			require.EqualError(t, err, firstErr.Error())
			continue
		}
		require.NoError(t, err)
		require.Equal(t, first.String(), node.String())
	}
}

// TestUnsatisfiableCosts tests that branches which can never be satisfied
// keep a well defined cost.
func TestUnsatisfiableCosts(t *testing.T) {
	t.Parallel()

	zero := &candidate{
		node:  miniscript.False(miniscript.SegwitV0),
		costs: costs{sat: impossible, canDissat: true},
	}
	require.Equal(t, 1.0, zero.cost(withDissat(0, 1)))
	require.True(t, math.IsInf(zero.cost(withDissat(0.5, 0.5)), 1))

	sat, ok := orCosts(miniscript.FragOrI, 0, 1)(zero.costs, costs{
		sat: 73, dissat: 1, canDissat: true,
	})
	require.True(t, ok)
	require.Equal(t, 74.0, sat.sat)

	for _, policy := range []string{
		"or(pk(A),and(pk(B),UNSATISFIABLE))",
		"and(pk(A),or(UNSATISFIABLE,pk(B)))",
		"thresh(2,pk(A),pk(B),UNSATISFIABLE)",
		"or(and(UNSATISFIABLE,UNSATISFIABLE),pk(A))",
	} {
		ring := newTestKeyring()
		p := ring.parse(t, policy, miniscript.SegwitV0)
		node, err := Compile(p, miniscript.SegwitV0)
		require.NoError(t, err, policy)
		require.NoError(t, node.IsSane(), policy)

		lifted, err := Lift(node)
		require.NoError(t, err, policy)
		require.Equal(t, p.Normalized().String(),
			lifted.Normalized().String(), "%v: %v", policy, node)
	}
}
