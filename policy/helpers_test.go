package policy

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/miniscript"
	"github.com/stretchr/testify/require"
)

// testKey is a key that prints as its name.
type testKey struct {
	name string
	*miniscript.PubKey
}

func (k testKey) String() string {
	return k.name
}

// testKeyring turns key names like A or B into real keys.
type testKeyring struct {
	names map[string]string
}

func newTestKeyring() *testKeyring {
	return &testKeyring{names: make(map[string]string)}
}

func (r *testKeyring) key(name string,
	ctx miniscript.ScriptContext) testKey {

	priv, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(name)))
	key := testKey{name: name, PubKey: miniscript.NewPubKey(priv.PubKey())}
	if ctx == miniscript.Taproot {
		key.PubKey = miniscript.NewXOnlyPubKey(priv.PubKey())
	}
	r.names[hex.EncodeToString(key.Serialize())] = name
	return key
}

func (r *testKeyring) parseKey(s string,
	ctx miniscript.ScriptContext) (miniscript.Key, error) {

	return r.key(s, ctx), nil
}

func (r *testKeyring) parse(t *testing.T, policy string,
	ctx miniscript.ScriptContext) *Policy {

	t.Helper()

	p, err := ParseWithKeyParser(policy, ctx, r.parseKey)
	require.NoError(t, err, policy)
	return p
}

// signer returns a satisfier that signs with a fake signature for the named
// keys, knows the preimage of testHash and treats every lock as matured.
func (r *testKeyring) signer(names string) *miniscript.FuncSatisfier {
	return &miniscript.FuncSatisfier{
		SignFunc: func(key miniscript.Key) ([]byte, bool) {
			name, ok := r.names[hex.EncodeToString(key.Serialize())]
			if !ok || !bytes.Contains([]byte(names), []byte(name)) {
				return nil, false
			}
			return bytes.Repeat([]byte{name[0]}, 72), true
		},
		PreimageFunc: func(fn miniscript.HashFunc,
			hash []byte) ([]byte, bool) {

			return testPreimage, fn == miniscript.HashSha256 &&
				bytes.Equal(hash, testHash)
		},
		MaturedFunc: func(miniscript.Timelock) (bool, error) {
			return true, nil
		},
	}
}

var (
	testPreimage = bytes.Repeat([]byte{0x42}, 32)
	testHash     = chainhash.HashB(testPreimage)
)

// requireCode asserts err carries the given error code.
func requireCode(t *testing.T, err error, code miniscript.ErrorCode,
	msgAndArgs ...interface{}) {

	t.Helper()

	require.Error(t, err, msgAndArgs...)
	require.ErrorIs(t, err, code, msgAndArgs...)
}
