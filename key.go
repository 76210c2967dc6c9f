package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// compressedKeyLen is the length of a compressed public key.
	compressedKeyLen = btcec.PubKeyBytesLenCompressed

	// uncompressedKeyLen is the length of an uncompressed public key.
	uncompressedKeyLen = 65

	// xOnlyKeyLen is the length of a BIP340 x-only public key.
	xOnlyKeyLen = schnorr.PubKeyBytesLen
)

// Key is a public key as it appears in a miniscript. Implementations only need
// a text form and the exact bytes pushed by the script, which allows callers to
// plug in descriptor keys or named placeholders. Two keys are the same key if
// their serializations are equal.
type Key interface {
	// String returns the text form of the key.
	String() string

	// Serialize returns the key as pushed onto the stack by the script:
	// 33 or 65 bytes for ECDSA keys, 32 bytes for x-only keys.
	Serialize() []byte
}

// KeyParser converts the text form of a key into a Key for the given context.
type KeyParser func(s string, ctx ScriptContext) (Key, error)

// keyEqual returns true if both keys serialize to the same bytes.
func keyEqual(a, b Key) bool {
	return bytes.Equal(a.Serialize(), b.Serialize())
}

// keyHash returns the HASH160 of the serialized key, as committed to by pk_h.
func keyHash(k Key) []byte {
	return btcutil.Hash160(k.Serialize())
}

type keyFormat uint8

const (
	formatCompressed keyFormat = iota
	formatUncompressed
	formatXOnly
)

// PubKey is the default Key implementation backed by a secp256k1 public key.
type PubKey struct {
	key    *btcec.PublicKey
	format keyFormat
}

// NewPubKey returns a compressed key for ECDSA contexts.
func NewPubKey(key *btcec.PublicKey) *PubKey {
	return &PubKey{key: key, format: formatCompressed}
}

// NewXOnlyPubKey returns an x-only key for tapscript.
func NewXOnlyPubKey(key *btcec.PublicKey) *PubKey {
	return &PubKey{key: key, format: formatXOnly}
}

// ParsePubKey parses a serialized public key. 32 byte keys are parsed as
// BIP340 x-only keys, 33 and 65 byte keys as compressed and uncompressed
// ECDSA keys.
func ParsePubKey(b []byte) (*PubKey, error) {
	switch len(b) {
	case xOnlyKeyLen:
		key, err := schnorr.ParsePubKey(b)
		if err != nil {
			return nil, err
		}
		return &PubKey{key: key, format: formatXOnly}, nil

	case compressedKeyLen, uncompressedKeyLen:
		key, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, err
		}
		format := formatCompressed
		if len(b) == uncompressedKeyLen {
			format = formatUncompressed
		}
		return &PubKey{key: key, format: format}, nil
	}
	return nil, fmt.Errorf("invalid public key length %d", len(b))
}

// PublicKey returns the underlying secp256k1 key.
func (k *PubKey) PublicKey() *btcec.PublicKey {
	return k.key
}

// Serialize returns the key in its script encoding.
func (k *PubKey) Serialize() []byte {
	switch k.format {
	case formatXOnly:
		return schnorr.SerializePubKey(k.key)
	case formatUncompressed:
		return k.key.SerializeUncompressed()
	default:
		return k.key.SerializeCompressed()
	}
}

// String returns the hex encoding of the serialized key.
func (k *PubKey) String() string {
	return hex.EncodeToString(k.Serialize())
}

// ParseHexKey is the default KeyParser. It accepts hex encoded keys in the
// encoding required by the context.
func ParseHexKey(s string, ctx ScriptContext) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key %q is not hex encoded: %w", s, err)
	}
	key, err := ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", s, err)
	}
	return key, nil
}
