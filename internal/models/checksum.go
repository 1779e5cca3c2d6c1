package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ComputeChecksum hashes the canonical projection of a record: object keys
// sorted, values string-coerced, nested structures canonicalized recursively.
// The projection must stay stable across versions or client and server
// checksums stop being comparable.
func ComputeChecksum(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		buf.WriteString(strconv.Quote(val))
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case json.Number:
		buf.WriteString(val.String())
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			writeCanonical(buf, val[k])
		}
		buf.WriteByte('}')
	default:
		buf.WriteString(fmt.Sprintf("%v", val))
	}
}

// EntityChecksum pairs a record with its canonical hash. LastModified is the
// record's updatedAt as unix seconds; it is compared, never persisted.
type EntityChecksum struct {
	EntityID     string `json:"entityId"`
	Checksum     string `json:"checksum"`
	LastModified int64  `json:"lastModified"`
}

// AggregateChecksum folds per-entity checksums into one hash per entity type,
// ordered by entity id so the result is independent of listing order.
func AggregateChecksum(checksums []EntityChecksum) string {
	ordered := make([]EntityChecksum, len(checksums))
	copy(ordered, checksums)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EntityID < ordered[j].EntityID })

	h := sha256.New()
	for _, ec := range ordered {
		fmt.Fprintf(h, "%s:%s\n", ec.EntityID, ec.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type EntityRef struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
}

// ChecksumConflict carries both sides of a detected mismatch so the caller
// can predict which side a last-write comparison would keep.
type ChecksumConflict struct {
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	ClientChecksum string     `json:"clientChecksum"`
	ServerChecksum string     `json:"serverChecksum"`
	ClientModified int64      `json:"clientModified"`
	ServerModified int64      `json:"serverModified"`
}

type ChecksumDiff struct {
	Conflicts  []ChecksumConflict `json:"conflicts"`
	LocalOnly  []EntityRef        `json:"localOnly"`
	ServerOnly []EntityRef        `json:"serverOnly"`
}

type DataStatusResponse struct {
	TenantID        string                          `json:"tenantId"`
	EntityChecksums map[EntityType][]EntityChecksum `json:"entityChecksums"`
	LastSyncTime    *time.Time                      `json:"lastSyncTime,omitempty"`
	ServerTime      time.Time                       `json:"serverTime"`
}
