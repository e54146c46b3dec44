package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint computes the content-addressed cache key for a chat request.
//
// Canonicalisation relies on encoding/json marshalling maps with sorted
// keys, so params that differ only in key order produce the same key, while
// any semantic difference in model, messages or params changes it.
func Fingerprint(model string, messages any, params map[string]any) string {
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		msgJSON = []byte("[]")
	}
	paramJSON, err := json.Marshal(params)
	if err != nil {
		paramJSON = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(model))
	h.Write(msgJSON)
	h.Write(paramJSON)
	return hex.EncodeToString(h.Sum(nil))
}
