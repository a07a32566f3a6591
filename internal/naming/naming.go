// Package naming maps (URL, storage class) pairs onto deterministic,
// filesystem-safe identifiers. Identifiers are pure derivations with no I/O:
// the same input always yields the same 64-character hex string, and distinct
// inputs collide only with cryptographically negligible probability. Every
// other layer (lock table, store, pipeline) keys its state on these
// identifiers, so determinism here is what makes request deduplication and
// cross-restart cache reuse possible.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identifier 将 (url, classTag) 映射为固定长度 64 位十六进制标识符。
// classTag 参与散列，保证同一 URL 在不同存储层级下互不冲突。
func Identifier(url, classTag string) string {
	h := sha256.New()
	h.Write([]byte(classTag))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))
}
