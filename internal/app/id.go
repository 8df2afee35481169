package app

import (
	"crypto/rand"
	"strings"
)

// referenceAlphabet avoids lowercase and ambiguous characters so the
// reference survives being read aloud or typed from an invoice.
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// generateReference produces a human-readable batch reference: a short
// code derived from the tenant ID plus a random suffix. The random
// component keeps concurrent creates by the same tenant collision-
// resistant without coordinating through the database.
func generateReference(tenantID string) (string, error) {
	code := tenantCode(tenantID)

	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	suffix := make([]byte, len(b))
	for i, v := range b {
		suffix[i] = referenceAlphabet[int(v)%len(referenceAlphabet)]
	}

	return code + "-" + string(suffix), nil
}

// tenantCode takes the first four alphanumeric characters of the tenant
// ID, uppercased. Tenants with opaque IDs still get a stable prefix.
func tenantCode(tenantID string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(tenantID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			if sb.Len() == 4 {
				break
			}
		}
	}
	if sb.Len() == 0 {
		return "BATCH"
	}
	return sb.String()
}
