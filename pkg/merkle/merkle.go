// Package merkle builds the binary hash tree Eco-Chain uses to summarise a
// set of hex-encoded hashes into a single root.
//
// Each parent is SHA-256 over the concatenation of its two children's hex
// strings (not their decoded bytes). A level with an odd number of nodes has
// its last node duplicated before pairing. These rules fix the root value and
// must not change: published roots are compared across independent
// computations.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// EmptyMarker is hashed to give the root of an empty set.
const EmptyMarker = "empty"

// ErrIndexOutOfRange is returned by Proof when the leaf index is invalid.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

// Side tells which side of the running hash a sibling sits on.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Step is one sibling on the path from a leaf up to the root.
type Step struct {
	Hash string `json:"hash"`
	Side Side   `json:"side"`
}

// HashPair returns the parent of left and right.
func HashPair(left, right string) string {
	return sum(left + right)
}

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() string {
	return sum(EmptyMarker)
}

// Root computes the Merkle root of hashes. A single hash is its own root.
func Root(hashes []string) string {
	if len(hashes) == 0 {
		return EmptyRoot()
	}
	level := append([]string(nil), hashes...)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// Proof returns the authentication path for hashes[index], ordered from the
// leaf's sibling up to the child of the root. A one-leaf tree has an empty
// path.
func Proof(hashes []string, index int) ([]Step, error) {
	if index < 0 || index >= len(hashes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(hashes))
	}

	var path []Step
	level := append([]string(nil), hashes...)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		if index%2 == 0 {
			path = append(path, Step{Hash: level[index+1], Side: Right})
		} else {
			path = append(path, Step{Hash: level[index-1], Side: Left})
		}
		level = nextLevel(level)
		index /= 2
	}
	return path, nil
}

// Verify folds leaf through path and reports whether the result is root.
func Verify(leaf string, path []Step, root string) bool {
	h := leaf
	for _, s := range path {
		switch s.Side {
		case Left:
			h = HashPair(s.Hash, h)
		case Right:
			h = HashPair(h, s.Hash)
		default:
			return false
		}
	}
	return h == root
}

func nextLevel(level []string) []string {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}
	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, HashPair(level[i], level[i+1]))
	}
	return next
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
