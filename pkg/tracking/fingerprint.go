package tracking

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// keySeparator delimits key column values inside the hash input.  Without a
// separator the composite keys ("ab","c") and ("a","bc") would collide.
const keySeparator = 0x1f

// Fingerprint is a fixed-width (16 hex character) xxhash64 digest of a key
// value, used in place of the raw key when staging.
type Fingerprint string

// FingerprintKey hashes the given key values, which must already be in key
// ordinal order.  The digest covers the ordered concatenation of all values,
// so a change in any key column position changes the fingerprint.
func FingerprintKey(values []string) Fingerprint {
	d := xxhash.New()
	for _, v := range values {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{keySeparator})
	}
	return sum(d.Sum64())
}

func sum(ui uint64) Fingerprint {
	s := strconv.FormatUint(ui, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return Fingerprint(s)
}
