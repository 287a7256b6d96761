package file

import (
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hasher creates the digest used by GenContentHash.
type Hasher func() (hash.Hash, error)

// SHA256 is the default content hasher.
func SHA256() (hash.Hash, error) {
	return sha256.New(), nil
}

// Blake2b256 is a faster alternative to SHA256 for large files.
func Blake2b256() (hash.Hash, error) {
	return blake2b.New256(nil)
}

// HasherByName maps "sha256" and "blake2b" to a Hasher. Unknown names
// report ok=false.
func HasherByName(name string) (Hasher, bool) {
	switch name {
	case "", "sha256":
		return SHA256, true
	case "blake2b":
		return Blake2b256, true
	}
	return nil, false
}
