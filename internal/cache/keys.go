package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RetrievalKey derives a stable cache key for a vector-search lookup. The
// query text is hashed so arbitrarily large log excerpts produce bounded keys.
func RetrievalKey(collection, query string, topK int) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("aegis:retrieval:%s:%d:%s", collection, topK, hex.EncodeToString(sum[:16]))
}

// NotifyKey derives the dedup key used to suppress repeat urgent notifications
// for the same report.
func NotifyKey(reportID string) string {
	return "aegis:notify:" + reportID
}
