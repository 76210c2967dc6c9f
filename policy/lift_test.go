package policy

import (
	"testing"

	"github.com/btcsuite/miniscript"
	"github.com/stretchr/testify/require"
)

// TestLift tests the policies of some miniscripts.
func TestLift(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		miniscript string
		ctx        miniscript.ScriptContext
		lifted     string
		normalized string
	}{
		{
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(144)))",
			ctx:        miniscript.SegwitV0,
			lifted:     "or(pk(A),and(pk(B),older(144)))",
			normalized: "thresh(1,pk(A),thresh(2,older(144),pk(B)))",
		},
		{
			miniscript: "multi(2,C,A,B)",
			ctx:        miniscript.SegwitV0,
			lifted:     "thresh(2,pk(C),pk(A),pk(B))",
			normalized: "thresh(2,pk(A),pk(B),pk(C))",
		},
		{
			miniscript: "multi_a(1,A,B)",
			ctx:        miniscript.Taproot,
			lifted:     "thresh(1,pk(A),pk(B))",
			normalized: "thresh(1,pk(A),pk(B))",
		},
		{
			miniscript: "andor(pk(A),older(10),pk(B))",
			ctx:        miniscript.SegwitV0,
			lifted:     "or(and(pk(A),older(10)),pk(B))",
			normalized: "thresh(1,pk(B),thresh(2,older(10),pk(A)))",
		},
		{
			miniscript: "t:or_c(pk(A),v:pk(B))",
			ctx:        miniscript.SegwitV0,
			lifted:     "and(or(pk(A),pk(B)),TRIVIAL)",
			normalized: "thresh(1,pk(A),pk(B))",
		},
		{
			miniscript: "and_n(pk(A),l:after(10))",
			ctx:        miniscript.SegwitV0,
			lifted:     "or(and(pk(A),or(UNSATISFIABLE,after(10))),UNSATISFIABLE)",
			normalized: "thresh(2,after(10),pk(A))",
		},
		{
			miniscript: "thresh(2,pk(A),s:pk(B),sln:older(10))",
			ctx:        miniscript.SegwitV0,
			lifted:     "thresh(2,pk(A),pk(B),or(UNSATISFIABLE,older(10)))",
			normalized: "thresh(2,older(10),pk(A),pk(B))",
		},
	}

	for _, tc := range testCases {
		ring := newTestKeyring()
		node, err := miniscript.ParseWithKeyParser(
			tc.miniscript, tc.ctx, ring.parseKey,
		)
		require.NoError(t, err, tc.miniscript)

		p, err := Lift(node)
		require.NoError(t, err, tc.miniscript)
		require.Equal(t, tc.lifted, p.String(), tc.miniscript)
		require.Equal(t, tc.normalized, p.Normalized().String(),
			tc.miniscript)
	}
}

// TestLiftErrors tests miniscripts that have no policy.
func TestLiftErrors(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	node, err := miniscript.ParseWithKeyParser(
		"thresh(2,pk(A),sln:after(100),sln:after(500000001))",
		miniscript.SegwitV0, ring.parseKey,
	)
	require.NoError(t, err)
	_, err = Lift(node)
	requireCode(t, err, miniscript.ErrTypeCheck)

	node, err = miniscript.ParseWithKeyParser(
		"c:expr_raw_pkh(1111111111111111111111111111111111111111)",
		miniscript.SegwitV0, ring.parseKey,
	)
	require.NoError(t, err)
	_, err = Lift(node)
	requireCode(t, err, miniscript.ErrCompile)
}

// TestNormalized tests the canonical form of policies.
func TestNormalized(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		policy     string
		normalized string
	}{
		{
			policy:     "and(pk(A),and(pk(B),pk(C)))",
			normalized: "thresh(3,pk(A),pk(B),pk(C))",
		},
		{
			policy:     "or(pk(B),or(pk(A),TRIVIAL))",
			normalized: "TRIVIAL",
		},
		{
			policy:     "and(pk(A),UNSATISFIABLE)",
			normalized: "UNSATISFIABLE",
		},
		{
			policy:     "or(pk(A),UNSATISFIABLE)",
			normalized: "pk(A)",
		},
		{
			policy:     "thresh(2,pk(C),pk(A),or(pk(B),pk(D)))",
			normalized: "thresh(2,pk(A),pk(C),thresh(1,pk(B),pk(D)))",
		},
		{
			policy:     "or(3@pk(B),and(pk(A),TRIVIAL))",
			normalized: "thresh(1,pk(A),pk(B))",
		},
		{
			policy:     "thresh(2,pk(A),TRIVIAL,pk(B))",
			normalized: "thresh(1,pk(A),pk(B))",
		},
		{
			policy:     "after(10)",
			normalized: "after(10)",
		},
	}

	for _, tc := range testCases {
		ring := newTestKeyring()
		p := ring.parse(t, tc.policy, miniscript.SegwitV0)
		require.Equal(t, tc.normalized, p.Normalized().String(),
			tc.policy)
	}
}
