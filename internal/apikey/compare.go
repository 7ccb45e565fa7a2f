package apikey

import "crypto/subtle"

// ConstantTimeEquals compares two non-hashed secrets, such as revocation
// tokens. Unequal lengths return false immediately; for equal lengths the
// running time does not depend on where the first difference is.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
