// Package ledger implements the append-only hash-linked chain that Eco-Chain
// records issued tokens in.
//
// Block 0 is the genesis block. Every later block stores the hash of its
// predecessor, so changing any stored block breaks either its own hash or the
// link from its successor, and IsValid reports false.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for tests, the CLI and single-process servers.
//   - PostgresLedger: durable, shared by every server replica.
//   - BadgerLedger: durable, embedded, for single-node deployments.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a block index or hash does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the append-only block chain. Errors report storage failures only;
// an inconsistent chain is a false from IsValid, not an error.
type Ledger interface {
	// Append seals payload into a new block chained to the current tip.
	// Concurrent appends are serialised.
	Append(ctx context.Context, payload any) (*Block, error)

	// Get returns the block at the given zero-based index.
	Get(ctx context.Context, index int) (*Block, error)

	// Len returns the number of blocks, genesis included.
	Len(ctx context.Context) (int, error)

	// Latest returns the chain tip.
	Latest(ctx context.Context) (*Block, error)

	// Blocks returns a snapshot of the whole chain in index order.
	Blocks(ctx context.Context) ([]*Block, error)

	// IsValid recomputes every block hash after genesis and checks the links.
	IsValid(ctx context.Context) (bool, error)

	// FindByHash returns the block whose own hash is blockHash.
	FindByHash(ctx context.Context, blockHash string) (*Block, error)

	// FindTokenByHash reports whether a token with the given content hash has
	// been recorded.
	FindTokenByHash(ctx context.Context, tokenHash string) (bool, error)

	// FindTokenBlock returns the first block recording tokenHash, through the
	// token index. It returns ErrNotFound for an unknown token.
	FindTokenBlock(ctx context.Context, tokenHash string) (*Block, error)

	// MerkleRoot is the Merkle root over all block hashes.
	MerkleRoot(ctx context.Context) (string, error)

	// ProofOfInclusion locates the block recording tokenHash. A missing token
	// yields a proof with Verified false, not an error.
	ProofOfInclusion(ctx context.Context, tokenHash string) (*InclusionProof, error)
}

// TimestampLayout is the layout of block timestamps.
const TimestampLayout = time.RFC3339Nano

type config struct {
	now func() time.Time
}

// Option configures a ledger backend.
type Option func(*config)

// WithClock overrides the clock used to stamp new blocks.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func newConfig(opts []Option) config {
	c := config{now: time.Now}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c config) timestamp() string {
	return c.now().UTC().Format(TimestampLayout)
}
