package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Canonicalize renders v as JSON with recursively sorted object keys and no
// insignificant whitespace. Numbers keep their literal form. A nil value or a
// JSON null renders as the empty string.
func Canonicalize(v interface{}) (string, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return "", nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode audit payload: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to decode audit payload: %w", err)
	}
	if generic == nil {
		return "", nil
	}

	// encoding/json writes map keys in sorted order at every depth
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ComputeHash returns the lowercase hex SHA-256 of the concatenated fields.
// before and after must already be canonical.
func ComputeHash(action, entityType, entityID, before, after, prevHash string) string {
	h := sha256.New()
	for _, s := range []string{action, entityType, entityID, before, after, prevHash} {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashEntry recomputes the hash of a stored entry
func HashEntry(e *Entry) string {
	return ComputeHash(e.Action, e.EntityType, deref(e.EntityID), string(e.Before), string(e.After), deref(e.PrevHash))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
