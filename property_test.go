package miniscript

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	propertyKeys  = []string{"A", "B", "C", "D", "E"}
	propertyHash  = hex.EncodeToString(computeHash(HashSha256, testPreimage))
	propertyHash2 = hex.EncodeToString(computeHash(HashHash160, testPreimage))
)

// drawTerminal draws a random terminal fragment of type B.
func drawTerminal(t *rapid.T, ring *testKeyring, ctx ScriptContext) *AST {
	key := func() Key {
		return ring.key(rapid.SampledFrom(propertyKeys).Draw(t, "key"), ctx)
	}

	var (
		node *AST
		err  error
	)
	switch rapid.IntRange(0, 7).Draw(t, "terminal") {
	case 0:
		node, err = Pk(ctx, key())
	case 1:
		node, err = Pkh(ctx, key())
	case 2:
		node, err = Older(
			ctx, rapid.Uint32Range(1, 1<<23).Draw(t, "older"),
		)
	case 3:
		node, err = After(
			ctx, rapid.Uint32Range(1, 1<<31-1).Draw(t, "after"),
		)
	case 4:
		node, err = ParseWithKeyParser(
			"sha256("+propertyHash+")", ctx, ring.parseKey,
		)
	case 5:
		node, err = ParseWithKeyParser(
			"hash160("+propertyHash2+")", ctx, ring.parseKey,
		)
	case 6:
		keys := make([]Key, rapid.IntRange(1, 3).Draw(t, "n"))
		for i := range keys {
			keys[i] = ring.key(propertyKeys[i], ctx)
		}
		k := rapid.IntRange(1, len(keys)).Draw(t, "k")
		if ctx == Taproot {
			node, err = MultiA(ctx, uint32(k), keys...)
		} else {
			node, err = Multi(ctx, uint32(k), keys...)
		}
	default:
		node = True(ctx)
	}
	require.NoError(t, err)
	return node
}

// drawNode draws a random expression of type B. Compositions that do not
// type check fall back to their first argument.
func drawNode(t *rapid.T, ring *testKeyring, ctx ScriptContext,
	depth int) *AST {

	if depth == 0 {
		return drawTerminal(t, ring, ctx)
	}

	x := drawNode(t, ring, ctx, depth-1)
	y := drawNode(t, ring, ctx, depth-1)

	var (
		node *AST
		err  error
	)
	switch rapid.IntRange(0, 7).Draw(t, "combinator") {
	case 0:
		var v *AST
		if v, err = Verify(x); err == nil {
			node, err = AndV(v, y)
		}
	case 1:
		var w *AST
		if w, err = Alt(y); err == nil {
			node, err = AndB(x, w)
		}
	case 2:
		var w *AST
		if w, err = Swap(y); err == nil {
			node, err = OrB(x, w)
		}
	case 3:
		node, err = OrD(x, y)
	case 4:
		node, err = OrI(x, y)
	case 5:
		node, err = AndOr(x, y, drawTerminal(t, ring, ctx))
	case 6:
		var w *AST
		if w, err = Swap(y); err == nil {
			node, err = Thresh(
				uint32(rapid.IntRange(1, 2).Draw(t, "k")), x,
				w,
			)
		}
	default:
		node, err = NonZero(x)
	}
	if err != nil || node.IsValidTopLevel() != nil {
		return x
	}
	return node
}

// TestRoundTripProperty tests that the text form and the script of random
// miniscripts decode back to the same tree and script.
func TestRoundTripProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ctx := rapid.SampledFrom(
			[]ScriptContext{SegwitV0, Taproot},
		).Draw(t, "ctx")
		ring := newTestKeyring()
		node := drawNode(t, ring, ctx, rapid.IntRange(0, 3).Draw(t, "depth"))

		parsed, err := ParseWithKeyParser(node.String(), ctx, ring.parseKey)
		require.NoError(t, err, node.String())
		require.Equal(t, node.String(), parsed.String())
		require.Equal(t, node.Type(), parsed.Type())

		script, err := node.Script()
		require.NoError(t, err)
		require.Len(t, script, node.ScriptLen())

		decoded, err := ParseScript(script, ctx, ring)
		require.NoError(t, err, node.String())

		again, err := decoded.Script()
		require.NoError(t, err)
		require.Equal(t, script, again, node.String())
	})
}

// spendable evaluates the spending condition of a miniscript. has reports
// whether a leaf can be satisfied, for key leaves and multisigs per key.
func spendable(node *AST, has func(leaf *AST, key Key) bool) bool {
	args := node.Args()
	switch node.Fragment() {
	case FragFalse:
		return false

	case FragTrue:
		return true

	case FragPkK, FragPkH:
		return has(node, node.Keys()[0])

	case FragRawPkH, FragOlder, FragAfter, FragSha256, FragHash256,
		FragRipemd160, FragHash160:

		return has(node, nil)

	case FragAndV, FragAndB:
		return spendable(args[0], has) && spendable(args[1], has)

	case FragAndOr:
		return spendable(args[0], has) && spendable(args[1], has) ||
			spendable(args[2], has)

	case FragOrB, FragOrC, FragOrD, FragOrI:
		return spendable(args[0], has) || spendable(args[1], has)

	case FragThresh:
		n := 0
		for _, arg := range args {
			if spendable(arg, has) {
				n++
			}
		}
		return n >= int(node.K())

	case FragMulti, FragMultiA:
		n := 0
		for _, key := range node.Keys() {
			if has(node, key) {
				n++
			}
		}
		return n >= int(node.K())
	}

	// Wrappers.
	return spendable(args[0], has)
}

// assetOf names what satisfying a leaf takes: the signature of a key, the
// test preimage or a matured timelock.
func assetOf(ring *testKeyring, leaf *AST, key Key) string {
	if key != nil {
		return "sig " + ring.names[hex.EncodeToString(key.Serialize())]
	}
	if lock, ok := leaf.Timelock(); ok {
		return lock.String()
	}
	return "preimage"
}

// TestSatisfyProperty tests that random miniscripts have a satisfaction
// exactly when the available signatures, preimages and timelocks meet their
// spending condition, for every subset of those assets.
func TestSatisfyProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ctx := rapid.SampledFrom(
			[]ScriptContext{SegwitV0, Taproot},
		).Draw(t, "ctx")
		ring := newTestKeyring()
		node := drawNode(t, ring, ctx, rapid.IntRange(0, 2).Draw(t, "depth"))

		assets := make(map[string]uint)
		addAsset := func(leaf *AST, key Key) {
			name := assetOf(ring, leaf, key)
			if _, ok := assets[name]; !ok {
				assets[name] = uint(len(assets))
			}
		}
		node.Walk(func(n *AST) {
			switch n.Fragment() {
			case FragPkK, FragPkH, FragMulti, FragMultiA:
				for _, key := range n.Keys() {
					addAsset(n, key)
				}

			case FragOlder, FragAfter, FragSha256, FragHash256,
				FragRipemd160, FragHash160:

				addAsset(n, nil)
			}
		})

		for mask := uint64(0); mask < 1<<len(assets); mask++ {
			available := func(name string) bool {
				bit, ok := assets[name]
				return ok && mask&(1<<bit) != 0
			}
			has := func(leaf *AST, key Key) bool {
				return available(assetOf(ring, leaf, key))
			}
			satisfier := &FuncSatisfier{
				SignFunc: func(key Key) ([]byte, bool) {
					if !has(nil, key) {
						return nil, false
					}
					name := ring.names[hex.EncodeToString(
						key.Serialize(),
					)]
					return []byte(strings.Repeat(name, 72)), true
				},
				PreimageFunc: func(HashFunc, []byte) ([]byte, bool) {
					return testPreimage, available("preimage")
				},
				MaturedFunc: func(lock Timelock) (bool, error) {
					return available(lock.String()), nil
				},
			}

			sat, err := node.Satisfy(satisfier)
			if !spendable(node, has) {
				require.ErrorIs(t, err, ErrImpossible,
					"%v with assets %b", node, mask)
				continue
			}
			require.NoError(t, err, "%v with assets %b", node, mask)

			maxElems, ok := node.MaxSatisfactionElements()
			require.True(t, ok)
			require.LessOrEqual(t, len(sat.Witness), maxElems)
		}
	})
}

// TestSpendProperty tests that the script engine accepts the satisfactions
// of random miniscripts and that a satisfaction is found whenever the
// transaction meets the spending condition.
func TestSpendProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ctx := rapid.SampledFrom(
			[]ScriptContext{SegwitV0, Taproot},
		).Draw(t, "ctx")
		ring := newTestKeyring()
		node := drawNode(t, ring, ctx, rapid.IntRange(0, 3).Draw(t, "depth"))

		var signers string
		for _, name := range propertyKeys {
			if rapid.Bool().Draw(t, "sign "+name) {
				signers += name
			}
		}
		tc := spendTestCase{
			miniscript: node.String(),
			ctx:        ctx,
			signers:    signers,
			preimage:   rapid.Bool().Draw(t, "preimage"),
			sequence: rapid.SampledFrom([]uint32{
				0, 10, 144, 65535, 1<<22 | 10,
				wire.MaxTxInSequenceNum - 1,
				wire.MaxTxInSequenceNum,
			}).Draw(t, "sequence"),
			lockTime: rapid.SampledFrom([]uint32{
				0, 100, 1000000, 500000001, 1<<31 - 1,
			}).Draw(t, "lockTime"),
		}

		timelocks := TxTimelocks{
			Version:  2,
			LockTime: tc.lockTime,
			Sequence: tc.sequence,
		}
		expected := spendable(node, func(leaf *AST, key Key) bool {
			if key != nil {
				name := ring.names[hex.EncodeToString(key.Serialize())]
				return strings.Contains(signers, name)
			}
			if lock, ok := leaf.Timelock(); ok {
				matured, err := timelocks.Matured(lock)
				require.NoError(t, err)
				return matured
			}
			return leaf.Fragment() != FragRawPkH && tc.preimage
		})

		err := testSpend(t, tc)
		if !expected {
			require.ErrorIs(t, err, ErrImpossible, node.String())
			return
		}
		require.NoError(t, err, node.String())
	})
}
