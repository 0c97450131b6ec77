package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// SlugHookFunc defines the signature for the NewSlug test hook.
// It returns a slug and a boolean indicating whether to override the default generation.
type SlugHookFunc func() (slug string, override bool)

// NewSlugHook is a package-level variable that tests can set to override NewSlug behavior.
var NewSlugHook SlugHookFunc

// Crockford Base32 alphabet, lowercased. Skips the easily-confused i/l/o/u.
const slugAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// SlugLength is the length of generated listing slugs.
const SlugLength = 10

var slugPattern = regexp.MustCompile(`^[0-9a-z]{4,32}$`)

// NewSlug generates a random URL-safe listing slug. Collisions are possible in
// principle; callers insert under a unique index and retry on duplicate key.
func NewSlug() string {
	if NewSlugHook != nil {
		if slug, override := NewSlugHook(); override {
			return slug
		}
	}

	buf := make([]byte, SlugLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is not recoverable here; a zeroed slug would
		// collide forever under the unique index.
		panic(fmt.Sprintf("slug generation: %v", err))
	}
	for i, b := range buf {
		buf[i] = slugAlphabet[int(b)%len(slugAlphabet)]
	}
	return string(buf)
}

// ValidateSlug reports whether s is a well-formed listing slug.
func ValidateSlug(s string) bool {
	return slugPattern.MatchString(s)
}
