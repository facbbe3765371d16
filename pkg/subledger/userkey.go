package subledger

import "strings"

// UserKey derives the ledger document ID from a user email.
//
// The derivation is a pure function: lowercase, trim, then map every rune
// outside [a-z0-9._-] to '-'. Two deliveries for the same email always
// resolve to the same record, even when one payload carried fields the
// other lacked. The key is never derived from provider-side IDs, which can
// differ between event types for the same user.
func UserKey(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrMissingIdentity
	}

	var b strings.Builder
	b.Grow(len(email))
	for _, r := range email {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String(), nil
}

// NormalizeEmail applies the same normalization UserKey starts from,
// without collapsing to a document ID. Used when storing the email on the
// record for display and audit.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
