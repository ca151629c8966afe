package auth

import "golang.org/x/crypto/bcrypt"

// placeholderPassword backs the digest compared against when a login has no
// real digest to check.
const placeholderPassword = "stustapay-placeholder"

// PasswordHasher hashes and verifies user passwords with bcrypt.
// It is immutable after construction and safe for concurrent use.
type PasswordHasher struct {
	cost        int
	placeholder []byte
}

// NewPasswordHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is outside bcrypt's accepted range. It precomputes a placeholder
// digest at that cost so Verify spends the same work on every call.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	placeholder, err := bcrypt.GenerateFromPassword([]byte(placeholderPassword), cost)
	if err != nil {
		// unreachable: the cost is in range and the password is short
		panic(err)
	}
	return &PasswordHasher{cost: cost, placeholder: placeholder}
}

// Hash returns a salted digest. Hashing the same password twice yields
// different digests.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether password matches digest. An empty or malformed
// digest never matches, but is still compared against the placeholder so
// that the call costs one full bcrypt comparison. Callers without a user
// pass an empty digest.
func (h *PasswordHasher) Verify(password, digest string) bool {
	if digest == "" || !wellFormed(digest) {
		_ = bcrypt.CompareHashAndPassword(h.placeholder, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func wellFormed(digest string) bool {
	_, err := bcrypt.Cost([]byte(digest))
	return err == nil
}
