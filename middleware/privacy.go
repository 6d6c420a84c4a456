package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// MaskEmail keeps the first character of the local part and the domain:
// "peppy@osu.ppy.sh" becomes "p***@osu.ppy.sh".
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

// HashEmail returns a short stable digest of email for log correlation.
func HashEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])[:8]
}

// MaskMemberID hashes a member id the same way.
func MaskMemberID(id int64) string {
	return HashEmail("member:" + strconv.FormatInt(id, 10))
}
