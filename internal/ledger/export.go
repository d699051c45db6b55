package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Export writes the chain as an indented JSON array of blocks.
func Export(ctx context.Context, l Ledger) ([]byte, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode chain: %w", err)
	}
	return out, nil
}

// Import parses an exported chain. It does not check the chain; use
// NewFromBlocks and IsValid for that.
func Import(data []byte) ([]*Block, error) {
	var blocks []*Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("decode chain: block %d is null", i)
		}
	}
	return blocks, nil
}

// NewFromBlocks rebuilds a MemoryLedger from previously exported blocks. The
// stored hashes are kept as they are, so an altered export loads but fails
// IsValid.
func NewFromBlocks(blocks []*Block, opts ...Option) (*MemoryLedger, error) {
	if len(blocks) == 0 {
		return nil, errors.New("chain has no blocks")
	}
	l := &MemoryLedger{
		cfg:     newConfig(opts),
		byHash:  make(map[string]int, len(blocks)),
		byToken: make(map[string]int, len(blocks)),
	}
	for _, b := range blocks {
		l.push(b.clone())
	}
	return l, nil
}
