package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

const fingerprintDomain = "orderboard/fingerprint/v1"

// cycleMarker replaces a container that is already open on the current path.
const cycleMarker = `"\u0000cycle"`

// Canonical serializes value with object keys sorted at every level, so two
// structurally equal payloads produce identical bytes regardless of key order.
// Self-references are replaced by a fixed marker instead of recursing.
func Canonical(value any) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, value, identitySet{})
	return buf.Bytes()
}

// Fingerprint returns a hex SHA-256 over the canonical form of value.
func Fingerprint(value any) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	h.Write(Canonical(value))
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(buf *bytes.Buffer, value any, open identitySet) {
	if value == nil {
		buf.WriteString("null")
		return
	}
	if m := AsMap(value); m != nil {
		if !open.add(m) {
			buf.WriteString(cycleMarker)
			return
		}
		keys := make([]string, 0, len(m))
		for key := range m {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeScalar(buf, key)
			buf.WriteByte(':')
			writeCanonical(buf, m[key], open)
		}
		buf.WriteByte('}')
		open.remove(m)
		return
	}
	if list := AsSlice(value); list != nil {
		if !open.add(value) {
			buf.WriteString(cycleMarker)
			return
		}
		buf.WriteByte('[')
		for i, elem := range list {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, elem, open)
		}
		buf.WriteByte(']')
		open.remove(value)
		return
	}
	writeScalar(buf, value)
}

func writeScalar(buf *bytes.Buffer, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		buf.WriteString(`"\u0000unsupported"`)
		return
	}
	buf.Write(encoded)
}

func (s identitySet) remove(value any) {
	if id, ok := identityOf(value); ok {
		delete(s, id)
	}
}
