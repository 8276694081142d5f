package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// Size is the length of a hex encoded signature
const Size = sha256.Size * 2

func message(uid string, zone int) string {
	return uid + ":" + strconv.Itoa(zone)
}

// HMAC returns lowercase hex HMAC-SHA256 of data
func HMAC(secret []byte, data string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces the link signature for the (uid, zone) pair
func Sign(uid string, zone int, secret []byte) string {
	return HMAC(secret, message(uid, zone))
}

// Verify checks provided against the expected signature. Length mismatch fails
// immediately, content is compared in constant time.
func Verify(uid string, zone int, provided string, secret []byte) bool {
	if len(provided) != Size {
		return false
	}

	expected := Sign(uid, zone, secret)

	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
