// Package position computes order keys for board lists and tasks. Keys are
// variable-length base-36 strings compared lexicographically; a fresh key can
// always be computed strictly between two existing keys by extending
// precision, so siblings never need renumbering on insert. Key length grows
// under repeated insertion at the same midpoint, which periodic compaction
// (Spread) undoes.
package position

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

// CompactThreshold is the key length beyond which the owning list or board
// should be renumbered with evenly spaced keys.
const CompactThreshold = 64

// Validate reports whether k is a well-formed order key. Keys must be
// non-empty base-36 strings and must not end with the smallest digit, so that
// a key strictly below any existing key always exists.
func Validate(k string) error {
	if k == "" {
		return errors.New("empty order key")
	}
	for i := 0; i < len(k); i++ {
		if !strings.ContainsRune(alphabet, rune(k[i])) {
			return fmt.Errorf("order key %q: invalid digit %q", k, k[i])
		}
	}
	if k[len(k)-1] == alphabet[0] {
		return fmt.Errorf("order key %q: trailing zero digit", k)
	}
	return nil
}

// Allocate returns a key that sorts strictly between before and after. An
// empty before means the head of the sibling order, an empty after means the
// tail; both empty yields the default midpoint key for an empty container.
// When before >= after the caller raced a concurrent writer and must re-fetch
// current neighbor keys: Allocate reports domain.ErrOrderingConflict.
func Allocate(before, after string) (string, error) {
	if before != "" {
		if err := Validate(before); err != nil {
			return "", err
		}
	}
	if after != "" {
		if err := Validate(after); err != nil {
			return "", err
		}
	}
	if before != "" && after != "" && before >= after {
		return "", fmt.Errorf("%w: before=%q after=%q", domain.ErrOrderingConflict, before, after)
	}
	return midpoint(before, after)
}

// midpoint computes a key strictly between a and b, where empty a is zero and
// empty b is positive infinity.
func midpoint(a, b string) (string, error) {
	if b != "" {
		n := 0
		for n < len(b) {
			ca := alphabet[0]
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n == len(b) {
			// b is a zero-padded prefix of a, meaning a >= b.
			return "", fmt.Errorf("%w: before=%q after=%q", domain.ErrOrderingConflict, a, b)
		}
		if n > 0 {
			rest := ""
			if n < len(a) {
				rest = a[n:]
			}
			m, err := midpoint(rest, b[n:])
			if err != nil {
				return "", err
			}
			return b[:n] + m, nil
		}
	}

	da := 0
	if a != "" {
		da = strings.IndexByte(alphabet, a[0])
	}
	db := base
	if b != "" {
		db = strings.IndexByte(alphabet, b[0])
	}
	if db-da > 1 {
		return string(alphabet[(da+db)/2]), nil
	}

	// Consecutive leading digits: keep a's digit and bisect the remainder
	// against infinity.
	rest := ""
	if a != "" {
		rest = a[1:]
	}
	m, err := midpoint(rest, "")
	if err != nil {
		return "", err
	}
	return string(alphabet[da]) + m, nil
}

// Spread returns n evenly spaced keys in ascending order, using the shortest
// digit width that keeps them distinct. Compaction rewrites all siblings of a
// container with these keys inside one transaction.
func Spread(n int) []string {
	if n <= 0 {
		return nil
	}
	width := 1
	span := base
	for span <= n+1 {
		span *= base
		width++
	}
	step := span / (n + 1)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = trimTrailingZeros(encode((i+1)*step, width))
	}
	return keys
}

// Overlong reports whether a key has grown past the compaction threshold.
func Overlong(key string) bool {
	return len(key) > CompactThreshold
}

func encode(v, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = alphabet[v%base]
		v /= base
	}
	return string(buf)
}

func trimTrailingZeros(s string) string {
	return strings.TrimRight(s, string(alphabet[0]))
}
