package blacklist

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // legacy blacklist compatibility only
	"crypto/subtle"
	"fmt"
	"slices"

	"golang.org/x/crypto/blake2b"
)

const (
	saltSize         = 32
	digestSize       = blake2b.Size256
	legacyDigestSize = sha1.Size
)

// Entry is one hashed prefix. Length is the byte length of the normalised
// prefix, which tells the matcher how much of a candidate to hash.
type Entry struct {
	Digest []byte
	Length int
}

// Legacy reports whether the entry uses the unsalted SHA-1 scheme of
// version 0 files.
func (e Entry) Legacy() bool {
	return len(e.Digest) == legacyDigestSize
}

func (e Entry) key() string {
	return fmt.Sprintf("%x/%d", e.Digest, e.Length)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("blacklist: generate salt: %w", err)
	}
	return salt, nil
}

// hashPrefix is the single place digests are computed: keyed BLAKE2b-256.
func hashPrefix(salt []byte, prefix string) []byte {
	h, err := blake2b.New256(salt)
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(fmt.Sprintf("blacklist: blake2b key: %v", err))
	}
	h.Write([]byte(prefix))
	return h.Sum(nil)
}

func hashLegacy(prefix string) []byte {
	sum := sha1.Sum([]byte(prefix)) //nolint:gosec // legacy blacklist compatibility only
	return sum[:]
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if a.Length != b.Length {
			return a.Length - b.Length
		}
		return bytes.Compare(a.Digest, b.Digest)
	})
}

func digestEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
