// Package checksum detects unchanged task state so a sync can skip network calls.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"unicode/utf16"

	"github.com/harrisonrobin/wurk2do/pkg/model"
)

// Strong returns the hex SHA-256 digest of a serialized payload.
func Strong(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Collection returns the strong digest of the canonical serialization of c.
func Collection(c *model.WeeklyTaskCollection) (string, error) {
	payload, err := model.Marshal(c)
	if err != nil {
		return "", err
	}
	return Strong(payload), nil
}

// Quick returns a cheap rolling checksum of the canonical serialization of c.
// It folds UTF-16 code units into a wrapping 32-bit hash (h = h*31 + unit) and
// renders it in base 36, matching checksums written by the web client.
// A nil collection, or one that fails to serialize, yields "".
func Quick(c *model.WeeklyTaskCollection) string {
	if c == nil {
		return ""
	}
	payload, err := model.Marshal(c)
	if err != nil {
		return ""
	}
	return QuickBytes(payload)
}

// QuickBytes is Quick over an already serialized payload.
func QuickBytes(payload []byte) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(string(payload))) {
		h = (h << 5) - h + int32(unit)
	}
	return strconv.FormatInt(int64(h), 36)
}
