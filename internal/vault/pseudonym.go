package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Pseudonym derives the stable display label substituting for a real
// identity in cross-role views, e.g. "Instructor-3fa9c1". It is bound to the
// immutable account id, never to mutable display data, so renaming a user
// does not change their pseudonym. The digest is one-way; a caller without
// identity-resolution capability cannot reverse it.
func Pseudonym(id, roleLabel string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s-%s", roleLabel, hex.EncodeToString(sum[:3]))
}
