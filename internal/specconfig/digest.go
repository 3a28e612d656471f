package specconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalDigest computes the SHA-256 digest of raw re-encoded through
// encoding/json's generic decode/encode round trip. encoding/json has
// marshaled map[string]interface{} keys in sorted order since Go 1.12 and
// never emits insignificant whitespace, so decoding arbitrary JSON into
// interface{} and re-marshaling it is sufficient to make the digest
// invariant under key reordering of the input document — no third-party
// canonical-JSON library in the example pack offers this narrow transform,
// so it is hand-rolled here (see DESIGN.md).
func CanonicalDigest(raw []byte) (string, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
