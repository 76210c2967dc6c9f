package miniscript

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// testKey is a key that prints as its name.
type testKey struct {
	name string
	*PubKey
}

func (k testKey) String() string {
	return k.name
}

// testKeyring derives a private key for every key name it sees, so that
// miniscripts in tests can use names like A, B or key1.
type testKeyring struct {
	privs map[string]*btcec.PrivateKey
	names map[string]string
}

func newTestKeyring() *testKeyring {
	return &testKeyring{
		privs: make(map[string]*btcec.PrivateKey),
		names: make(map[string]string),
	}
}

func (r *testKeyring) priv(name string) *btcec.PrivateKey {
	if priv, ok := r.privs[name]; ok {
		return priv
	}
	priv, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(name)))
	r.privs[name] = priv
	return priv
}

func (r *testKeyring) key(name string, ctx ScriptContext) testKey {
	pub := r.priv(name).PubKey()
	key := testKey{name: name, PubKey: NewPubKey(pub)}
	if ctx == Taproot {
		key.PubKey = NewXOnlyPubKey(pub)
	}
	r.names[hex.EncodeToString(key.Serialize())] = name
	return key
}

// parseKey is a KeyParser for named keys.
func (r *testKeyring) parseKey(s string, ctx ScriptContext) (Key, error) {
	return r.key(s, ctx), nil
}

// privFor returns the private key behind a serialized public key.
func (r *testKeyring) privFor(key Key) (*btcec.PrivateKey, bool) {
	name, ok := r.names[hex.EncodeToString(key.Serialize())]
	if !ok {
		return nil, false
	}
	return r.priv(name), true
}

// KeyByHash implements KeyHashResolver.
func (r *testKeyring) KeyByHash(hash []byte) (Key, bool) {
	for s := range r.names {
		b, _ := hex.DecodeString(s)
		key, err := ParsePubKey(b)
		if err != nil {
			continue
		}
		if bytes.Equal(keyHash(key), hash) {
			return key, true
		}
	}
	return nil, false
}

// named replaces hex encoded keys in s by their names.
func (r *testKeyring) named(s string) string {
	for h, name := range r.names {
		s = strings.ReplaceAll(s, h, name)
	}
	return s
}

func (r *testKeyring) parse(t *testing.T, ms string,
	ctx ScriptContext) *AST {

	t.Helper()

	node, err := ParseWithKeyParser(ms, ctx, r.parseKey)
	require.NoError(t, err, ms)
	return node
}

// requireCode asserts err is an Error with the given code.
func requireCode(t *testing.T, err error, code ErrorCode,
	msgAndArgs ...interface{}) {

	t.Helper()

	require.Error(t, err, msgAndArgs...)
	require.ErrorIs(t, err, code, msgAndArgs...)
}
