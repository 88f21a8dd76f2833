package vectorstore

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// PointID derives the deterministic vector-store point id for a chunk id:
// an MD5 name-based UUID with the RFC-4122 version-3 and variant bits set.
// The byte layout is a public contract shared with the ingestion path and
// the gateway's fast payload lookup, and must match
// java.util.UUID.nameUUIDFromBytes for the same input.
func PointID(chunkID string) string {
	sum := md5.Sum([]byte(chunkID))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	id, _ := uuid.FromBytes(sum[:])
	return id.String()
}
