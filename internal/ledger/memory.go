package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ecochain/ecochain/pkg/merkle"
)

// MemoryLedger is an in-memory, thread-safe Ledger. Lookups by block hash and
// token hash go through indexes maintained on append.
type MemoryLedger struct {
	mu      sync.RWMutex
	cfg     config
	blocks  []*Block
	byHash  map[string]int
	byToken map[string]int
}

// New creates a MemoryLedger holding only the genesis block.
func New(opts ...Option) (*MemoryLedger, error) {
	l := &MemoryLedger{
		cfg:     newConfig(opts),
		byHash:  make(map[string]int),
		byToken: make(map[string]int),
	}
	genesis, err := Genesis(l.cfg.timestamp())
	if err != nil {
		return nil, err
	}
	l.push(genesis)
	return l, nil
}

// push appends b and indexes it. The first block recording a token wins.
func (l *MemoryLedger) push(b *Block) {
	idx := len(l.blocks)
	l.blocks = append(l.blocks, b)
	if _, dup := l.byHash[b.Hash]; !dup {
		l.byHash[b.Hash] = idx
	}
	if th, ok := b.TokenHash(); ok && idx > 0 {
		if _, dup := l.byToken[th]; !dup {
			l.byToken[th] = idx
		}
	}
}

// Append implements Ledger. The block is fully built before it is published.
func (l *MemoryLedger) Append(_ context.Context, payload any) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.blocks[len(l.blocks)-1]
	b, err := newBlock(len(l.blocks), l.cfg.timestamp(), payload, prev.Hash)
	if err != nil {
		return nil, err
	}
	l.push(b)
	return b.clone(), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.blocks) {
		return nil, fmt.Errorf("block %d: %w", index, ErrNotFound)
	}
	return l.blocks[index].clone(), nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks), nil
}

// Latest implements Ledger.
func (l *MemoryLedger) Latest(_ context.Context) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].clone(), nil
}

// Blocks implements Ledger.
func (l *MemoryLedger) Blocks(_ context.Context) ([]*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot(), nil
}

func (l *MemoryLedger) snapshot() []*Block {
	out := make([]*Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = b.clone()
	}
	return out
}

// IsValid implements Ledger.
func (l *MemoryLedger) IsValid(_ context.Context) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return validChain(l.blocks), nil
}

// FindByHash implements Ledger.
func (l *MemoryLedger) FindByHash(_ context.Context, blockHash string) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byHash[blockHash]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", blockHash, ErrNotFound)
	}
	return l.blocks[idx].clone(), nil
}

// FindTokenByHash implements Ledger.
func (l *MemoryLedger) FindTokenByHash(_ context.Context, tokenHash string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byToken[tokenHash]
	return ok, nil
}

// FindTokenBlock implements Ledger.
func (l *MemoryLedger) FindTokenBlock(_ context.Context, tokenHash string) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byToken[tokenHash]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenHash, ErrNotFound)
	}
	return l.blocks[idx].clone(), nil
}

// MerkleRoot implements Ledger.
func (l *MemoryLedger) MerkleRoot(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return merkle.Root(blockHashes(l.blocks)), nil
}

// ProofOfInclusion implements Ledger.
func (l *MemoryLedger) ProofOfInclusion(_ context.Context, tokenHash string) (*InclusionProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byToken[tokenHash]
	if !ok {
		return NotIncluded(), nil
	}
	return buildProof(l.blocks, idx, tokenHash)
}
