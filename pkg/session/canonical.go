// Copyright 2025 Settlenet
//
// Canonical signed-intent serialisation (spec.md §4.1, §6). The encoding
// must be byte-identical to what clients sign, so it uses a fixed,
// length-prefixed binary layout rather than JSON — eliminating whitespace
// and field-order ambiguity, exactly as spec.md §6 recommends.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/settlenet/engine/pkg/domain"
)

// domainTag scopes the signature to this protocol and version, preventing
// a signature produced for one protocol version from verifying against
// another.
const domainTag = "SETTLENET_INTENT_V1"

func putString(buf *[]byte, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, s...)
}

func putBytes(buf *[]byte, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, b...)
}

// CanonicalPayload builds the exact byte sequence that clients sign:
// {id, sessionPubkey, ownerPubkey, itemId, from, to, amountLamports,
// nonce, intentType}. created_at and the signature itself are excluded,
// per spec.md §4.1.
func CanonicalPayload(t *domain.TradeIntent) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, domainTag...)
	putString(&buf, t.ID)
	putBytes(&buf, t.Session)
	putBytes(&buf, t.Owner)
	putString(&buf, t.Item)
	putString(&buf, t.From)
	putString(&buf, t.To)
	putString(&buf, t.Amount.String())
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], uint64(t.Nonce))
	buf = append(buf, nonceBuf[:]...)
	putString(&buf, string(t.EffectiveAction()))
	return buf
}

// DecodeSignature accepts base64 (primary) and hex (fallback), per
// spec.md §4.1 step 1. A 128-character hex signature is also valid
// base64 (decoding to 96 bytes), so a string of exactly that length is
// tried as hex first.
func DecodeSignature(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(ed25519.SignatureSize) {
		if sig, err := hex.DecodeString(s); err == nil {
			return sig, nil
		}
	}
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	if sig, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	if sig, err := hex.DecodeString(s); err == nil {
		return sig, nil
	}
	return nil, fmt.Errorf("signature is neither valid base64 nor hex")
}
