package miniscript

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testPreimage is the preimage of the $sha256, $hash256, $ripemd160 and
// $hash160 placeholders.
var testPreimage = bytes.Repeat([]byte{0x42}, 32)

// expandHashes replaces the hash placeholders with the hashes of
// testPreimage.
func expandHashes(miniscript string) string {
	for _, fn := range []HashFunc{
		HashSha256, HashHash256, HashRipemd160, HashHash160,
	} {
		miniscript = strings.ReplaceAll(
			miniscript, "$"+fn.String(),
			hex.EncodeToString(computeHash(fn, testPreimage)),
		)
	}
	return miniscript
}

// fakeSigner signs with a fixed size fake signature for every key it knows.
type fakeSigner struct {
	ring    *testKeyring
	signers string
}

func (f *fakeSigner) sign(key Key) ([]byte, bool) {
	name, ok := f.ring.names[hex.EncodeToString(key.Serialize())]
	if !ok || !strings.Contains(f.signers, name) {
		return nil, false
	}
	return bytes.Repeat([]byte(name), 72), true
}

func (f *fakeSigner) satisfier(preimage bool) *FuncSatisfier {
	return &FuncSatisfier{
		SignFunc: f.sign,
		PreimageFunc: func(fn HashFunc, hash []byte) ([]byte, bool) {
			return testPreimage, preimage
		},
	}
}

// TestSatisfyTieBreak tests that equally expensive satisfactions prefer the
// lowest indices.
func TestSatisfyTieBreak(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	signer := &fakeSigner{ring: ring, signers: "ABC"}
	sig := func(name string) []byte {
		return bytes.Repeat([]byte(name), 72)
	}

	node := ring.parse(t, "thresh(2,pk(A),s:pk(B),s:pk(C))", SegwitV0)
	sat, err := node.Satisfy(signer.satisfier(false))
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sig("B"), sig("A")}, sat.Witness)
	require.True(t, sat.NonMalleable)
	require.True(t, sat.HasSig)

	node = ring.parse(t, "multi(2,A,B,C)", SegwitV0)
	sat, err = node.Satisfy(signer.satisfier(false))
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sig("A"), sig("B")}, sat.Witness)

	node = ring.parse(t, "multi_a(2,A,B,C)", Taproot)
	sat, err = node.Satisfy(signer.satisfier(false))
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sig("B"), sig("A")}, sat.Witness)

	// With A unavailable, B and C are used.
	signer.signers = "BC"
	sat, err = node.Satisfy(signer.satisfier(false))
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{sig("C"), sig("B"), {}}, sat.Witness)
}

// TestSatisfyCheapest tests that the cheapest branch is picked.
func TestSatisfyCheapest(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	signer := &fakeSigner{ring: ring, signers: "ABC"}

	node := ring.parse(
		t, "or_i(and_v(v:pk(A),pk(B)),pk(C))", SegwitV0,
	)
	sat, err := node.Satisfy(signer.satisfier(false))
	require.NoError(t, err)
	require.Equal(
		t, wire.TxWitness{bytes.Repeat([]byte("C"), 72), {}},
		sat.Witness,
	)
	require.Equal(t, sat.Witness.SerializeSize(), sat.Weight)

	// A branch without a signature is preferred, which leaves the result
	// malleable.
	node = ring.parse(
		t, expandHashes("or_d(pk(A),sha256($sha256))"), SegwitV0,
	)
	sat, err = node.Satisfy(signer.satisfier(true))
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{testPreimage, {}}, sat.Witness)
	require.False(t, sat.HasSig)
	require.False(t, sat.NonMalleable)
}

// TestSatisfyPreimages tests that only valid preimages are used.
func TestSatisfyPreimages(t *testing.T) {
	t.Parallel()

	ring := newTestKeyring()
	signer := &fakeSigner{ring: ring, signers: "A"}

	for _, fn := range []string{"sha256", "hash256", "ripemd160", "hash160"} {
		ms := expandHashes("and_v(v:pk(A)," + fn + "($" + fn + "))")
		node := ring.parse(t, ms, SegwitV0)

		sat, err := node.Satisfy(signer.satisfier(true))
		require.NoError(t, err, ms)
		require.Equal(t, testPreimage, sat.Witness[0], ms)

		_, err = node.Satisfy(signer.satisfier(false))
		requireCode(t, err, ErrImpossible, ms)

		wrong := &FuncSatisfier{
			SignFunc: signer.sign,
			PreimageFunc: func(HashFunc, []byte) ([]byte, bool) {
				return bytes.Repeat([]byte{0x43}, 32), true
			},
		}
		_, err = node.Satisfy(wrong)
		requireCode(t, err, ErrImpossible, ms)
	}
}

// TestSatisfyTimelocks tests the timelock checks.
func TestSatisfyTimelocks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		lock    Timelock
		tx      TxTimelocks
		matured bool
	}{
		{
			lock:    Timelock{Kind: RelativeLock, Value: 10},
			tx:      TxTimelocks{Version: 2, Sequence: 10},
			matured: true,
		},
		{
			lock:    Timelock{Kind: RelativeLock, Value: 10},
			tx:      TxTimelocks{Version: 1, Sequence: 10},
			matured: false,
		},
		{
			lock:    Timelock{Kind: RelativeLock, Value: 10},
			tx:      TxTimelocks{Version: 2, Sequence: 9},
			matured: false,
		},
		{
			lock: Timelock{Kind: RelativeLock, Value: 10},
			tx: TxTimelocks{
				Version:  2,
				Sequence: wire.SequenceLockTimeIsSeconds | 10,
			},
			matured: false,
		},
		{
			lock: Timelock{Kind: RelativeLock, Value: 10},
			tx: TxTimelocks{
				Version:  2,
				Sequence: wire.SequenceLockTimeDisabled | 10,
			},
			matured: false,
		},
		{
			lock:    Timelock{Kind: AbsoluteLock, Value: 100},
			tx:      TxTimelocks{LockTime: 100},
			matured: true,
		},
		{
			lock:    Timelock{Kind: AbsoluteLock, Value: 100},
			tx:      TxTimelocks{LockTime: 99},
			matured: false,
		},
		{
			lock:    Timelock{Kind: AbsoluteLock, Value: 100},
			tx:      TxTimelocks{LockTime: 500000001},
			matured: false,
		},
		{
			lock: Timelock{Kind: AbsoluteLock, Value: 100},
			tx: TxTimelocks{
				LockTime: 100,
				Sequence: wire.MaxTxInSequenceNum,
			},
			matured: false,
		},
	}

	for i, tc := range testCases {
		matured, err := tc.tx.Matured(tc.lock)
		require.NoError(t, err)
		require.Equal(t, tc.matured, matured, "case %d: %v", i, tc.lock)
	}

	require.True(t, Timelock{Kind: AbsoluteLock, Value: 500000001}.
		IsTimeBased())
	require.False(t, Timelock{Kind: RelativeLock, Value: 144}.
		IsTimeBased())
	require.Equal(t, "older(144)",
		Timelock{Kind: RelativeLock, Value: 144}.String())
}

// spendTestCase is a spend of a miniscript output, checked by the script
// engine.
type spendTestCase struct {
	miniscript string
	ctx        ScriptContext

	// signers are the names of the keys that can sign.
	signers  string
	preimage bool
	sequence uint32
	lockTime uint32

	// valid is false if no satisfaction is expected to exist.
	valid bool
}

// spendT is the part of testing.T and rapid.T used by testSpend.
type spendT interface {
	require.TestingT
	Logf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// testSpend creates an output paying to the miniscript in the case's context,
// satisfies it and executes the spend with the script engine.
func testSpend(t spendT, tc spendTestCase) error {
	ring := newTestKeyring()
	node, err := ParseWithKeyParser(
		expandHashes(tc.miniscript), tc.ctx, ring.parseKey,
	)
	if err != nil {
		return err
	}
	t.Logf("Tree for miniscript %v: %v", tc.miniscript, node.DrawTree())
	t.Logf("Script: %v", node.ScriptString())

	script, err := node.Script()
	if err != nil {
		return err
	}

	var (
		utxoAmount = int64(999799)
		pkScript   []byte
		tapLeaf    txscript.TapLeaf
		ctrlBlock  []byte
	)
	switch tc.ctx {
	case SegwitV0:
		addr, err := btcutil.NewAddressWitnessScriptHash(
			chainhash.HashB(script), &chaincfg.TestNet3Params,
		)
		require.NoError(t, err)
		pkScript, err = txscript.PayToAddrScript(addr)
		require.NoError(t, err)

	case Legacy:
		addr, err := btcutil.NewAddressScriptHash(
			script, &chaincfg.TestNet3Params,
		)
		require.NoError(t, err)
		pkScript, err = txscript.PayToAddrScript(addr)
		require.NoError(t, err)

	case Taproot:
		internalKey := ring.priv("internal").PubKey()
		tapLeaf = txscript.NewBaseTapLeaf(script)
		tree := txscript.AssembleTaprootScriptTree(tapLeaf)
		rootHash := tree.RootNode.TapHash()
		outputKey := txscript.ComputeTaprootOutputKey(
			internalKey, rootHash[:],
		)
		pkScript, err = txscript.PayToTaprootScript(outputKey)
		require.NoError(t, err)

		ctrl := tree.LeafMerkleProofs[0].ToControlBlock(internalKey)
		ctrlBlock, err = ctrl.ToBytes()
		require.NoError(t, err)

	default:
		t.Fatalf("unsupported context %v", tc.ctx)
	}

	burnPkScript, err := txscript.NullDataScript(nil)
	require.NoError(t, err)

	txIn := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	txIn.Sequence = tc.sequence
	tx := &wire.MsgTx{
		Version: 2,
		TxIn:    []*wire.TxIn{txIn},
		TxOut: []*wire.TxOut{{
			Value:    utxoAmount - 200,
			PkScript: burnPkScript,
		}},
		LockTime: tc.lockTime,
	}

	prevOuts := txscript.NewCannedPrevOutputFetcher(pkScript, utxoAmount)
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	sign := func(key Key) ([]byte, bool) {
		name, ok := ring.names[hex.EncodeToString(key.Serialize())]
		if !ok || !strings.Contains(tc.signers, name) {
			return nil, false
		}
		priv := ring.priv(name)

		switch tc.ctx {
		case SegwitV0:
			hash, err := txscript.CalcWitnessSigHash(
				script, sigHashes, txscript.SigHashAll, tx, 0,
				utxoAmount,
			)
			require.NoError(t, err)
			sig := ecdsa.Sign(priv, hash).Serialize()
			return append(sig, byte(txscript.SigHashAll)), true

		case Legacy:
			sig, err := txscript.RawTxInSignature(
				tx, 0, script, txscript.SigHashAll, priv,
			)
			require.NoError(t, err)
			return sig, true

		default:
			hash, err := txscript.CalcTapscriptSignaturehash(
				sigHashes, txscript.SigHashDefault, tx, 0,
				prevOuts, tapLeaf,
			)
			require.NoError(t, err)
			sig, err := schnorr.Sign(priv, hash)
			require.NoError(t, err)
			return sig.Serialize(), true
		}
	}

	timelocks := TxTimelocks{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Sequence: tc.sequence,
	}
	sat, err := node.Satisfy(&FuncSatisfier{
		SignFunc: sign,
		PreimageFunc: func(HashFunc, []byte) ([]byte, bool) {
			return testPreimage, tc.preimage
		},
		MaturedFunc: timelocks.Matured,
	})
	if err != nil {
		return err
	}
	t.Logf("Witness: %v", witnessHex(sat.Witness))

	// The witness fits in the bounds computed for the script.
	maxElems, ok := node.MaxSatisfactionElements()
	require.True(t, ok)
	require.LessOrEqual(t, len(sat.Witness), maxElems)
	maxSize, ok := node.MaxSatisfactionSize()
	require.True(t, ok)
	size := 0
	for _, e := range sat.Witness {
		size += wire.VarIntSerializeSize(uint64(len(e))) + len(e)
	}
	require.LessOrEqual(t, size, maxSize)

	switch tc.ctx {
	case SegwitV0:
		tx.TxIn[0].Witness = append(sat.Witness, script)

	case Taproot:
		tx.TxIn[0].Witness = append(sat.Witness, script, ctrlBlock)

	case Legacy:
		scriptSig, err := sat.ScriptSig()
		require.NoError(t, err)
		require.Equal(t, 4*len(scriptSig), sat.Weight)

		tx.TxIn[0].SignatureScript, err = txscript.NewScriptBuilder().
			AddOps(scriptSig).AddData(script).Script()
		require.NoError(t, err)
	}

	engine, err := txscript.NewEngine(
		pkScript, tx, 0, txscript.StandardVerifyFlags, nil, sigHashes,
		utxoAmount, prevOuts,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}

// TestSpend tests that the witnesses produced by the satisfier are accepted
// by the script engine.
func TestSpend(t *testing.T) {
	t.Parallel()

	testCases := []spendTestCase{
		{
			miniscript: "pk(A)",
			ctx:        SegwitV0,
			signers:    "A",
			valid:      true,
		},
		{
			miniscript: "pk(A)",
			ctx:        SegwitV0,
			signers:    "B",
			valid:      false,
		},
		{
			miniscript: "pkh(A)",
			ctx:        SegwitV0,
			signers:    "A",
			valid:      true,
		},
		{
			miniscript: "and_v(v:pk(A),pk(B))",
			ctx:        SegwitV0,
			signers:    "AB",
			valid:      true,
		},
		{
			miniscript: "and_v(v:pk(A),pk(B))",
			ctx:        SegwitV0,
			signers:    "A",
			valid:      false,
		},
		{
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			ctx:        SegwitV0,
			signers:    "A",
			valid:      true,
		},
		{
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			ctx:        SegwitV0,
			signers:    "B",
			sequence:   10,
			valid:      true,
		},
		{
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			ctx:        SegwitV0,
			signers:    "B",
			sequence:   5,
			valid:      false,
		},
		{
			miniscript: "multi(2,A,B,C)",
			ctx:        SegwitV0,
			signers:    "AC",
			valid:      true,
		},
		{
			miniscript: "multi(2,A,B,C)",
			ctx:        SegwitV0,
			signers:    "C",
			valid:      false,
		},
		{
			miniscript: "thresh(2,pk(A),s:pk(B),s:pk(C))",
			ctx:        SegwitV0,
			signers:    "BC",
			valid:      true,
		},
		{
			miniscript: "thresh(2,pk(A),s:pk(B),sln:older(10))",
			ctx:        SegwitV0,
			signers:    "A",
			sequence:   10,
			valid:      true,
		},
		{
			miniscript: "andor(pk(A),sha256($sha256),pk(B))",
			ctx:        SegwitV0,
			signers:    "A",
			preimage:   true,
			valid:      true,
		},
		{
			miniscript: "andor(pk(A),sha256($sha256),pk(B))",
			ctx:        SegwitV0,
			signers:    "B",
			valid:      true,
		},
		{
			miniscript: "andor(pk(A),sha256($sha256),pk(B))",
			ctx:        SegwitV0,
			signers:    "A",
			valid:      false,
		},
		{
			miniscript: "or_i(pk(A),pk(B))",
			ctx:        SegwitV0,
			signers:    "B",
			valid:      true,
		},
		{
			miniscript: "and_v(v:pk(A),after(100))",
			ctx:        SegwitV0,
			signers:    "A",
			lockTime:   100,
			valid:      true,
		},
		{
			miniscript: "and_v(v:pk(A),after(100))",
			ctx:        SegwitV0,
			signers:    "A",
			lockTime:   99,
			valid:      false,
		},
		{
			miniscript: "t:or_c(pk(A),v:pkh(B))",
			ctx:        SegwitV0,
			signers:    "B",
			valid:      true,
		},
		{
			miniscript: "and_b(pk(A),a:hash160($hash160))",
			ctx:        SegwitV0,
			signers:    "A",
			preimage:   true,
			valid:      true,
		},
		{
			miniscript: "or_b(pk(A),s:pk(B))",
			ctx:        SegwitV0,
			signers:    "B",
			valid:      true,
		},
		{
			miniscript: "and_v(v:hash256($hash256),pk(A))",
			ctx:        SegwitV0,
			signers:    "A",
			preimage:   true,
			valid:      true,
		},
		{
			miniscript: "and_v(v:ripemd160($ripemd160),pk(A))",
			ctx:        SegwitV0,
			signers:    "A",
			preimage:   true,
			valid:      true,
		},
		{
			miniscript: "and_v(v:pk(A),or_d(pk(B),dv:older(10)))",
			ctx:        SegwitV0,
			signers:    "A",
			sequence:   10,
			valid:      true,
		},
		{
			miniscript: "multi_a(2,A,B,C)",
			ctx:        Taproot,
			signers:    "AC",
			valid:      true,
		},
		{
			miniscript: "multi_a(2,A,B,C)",
			ctx:        Taproot,
			signers:    "A",
			valid:      false,
		},
		{
			miniscript: "and_v(v:pk(A),pk(B))",
			ctx:        Taproot,
			signers:    "AB",
			valid:      true,
		},
		{
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			ctx:        Taproot,
			signers:    "B",
			sequence:   10,
			valid:      true,
		},
		{
			miniscript: "pk(A)",
			ctx:        Legacy,
			signers:    "A",
			valid:      true,
		},
		{
			miniscript: "multi(2,A,B,C)",
			ctx:        Legacy,
			signers:    "AB",
			valid:      true,
		},
		{
			miniscript: "or_b(pk(A),s:pk(B))",
			ctx:        Legacy,
			signers:    "B",
			valid:      true,
		},
	}

	for _, tc := range testCases {
		err := testSpend(t, tc)
		if !tc.valid {
			requireCode(
				t, err, ErrImpossible, "%v: %s", tc.ctx,
				tc.miniscript,
			)
			continue
		}
		require.NoError(t, err, "%v: %s", tc.ctx, tc.miniscript)
	}
}
