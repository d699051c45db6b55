package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecochain/ecochain/pkg/merkle"
)

// validChain reports whether blocks form an intact chain. Every block must sit
// at the position its index names; every block after genesis must re-hash to
// its stored hash and point at its predecessor's stored hash.
func validChain(blocks []*Block) bool {
	if len(blocks) == 0 {
		return false
	}
	for i, curr := range blocks {
		if curr.Index != i {
			return false
		}
		if i == 0 {
			continue
		}
		h, err := curr.ComputeHash()
		if err != nil || h != curr.Hash {
			return false
		}
		if curr.PreviousHash != blocks[i-1].Hash {
			return false
		}
	}
	return true
}

func blockHashes(blocks []*Block) []string {
	hashes := make([]string, len(blocks))
	for i, b := range blocks {
		hashes[i] = b.Hash
	}
	return hashes
}

// InclusionProof answers whether a token was recorded and, if so, where.
type InclusionProof struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
	*Inclusion
}

// Inclusion locates a recorded token. MerklePath authenticates BlockHash
// against MerkleRoot without the rest of the chain.
type Inclusion struct {
	TokenHash    string        `json:"token_hash"`
	BlockIndex   int           `json:"block_index"`
	BlockHash    string        `json:"block_hash"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    string        `json:"timestamp"`
	MerkleRoot   string        `json:"merkle_root"`
	ChainValid   bool          `json:"chain_valid"`
	MerklePath   []merkle.Step `json:"merkle_path"`
}

// NotIncluded is the proof returned for an unknown token.
func NotIncluded() *InclusionProof {
	return &InclusionProof{Verified: false, Message: "Token not found in blockchain"}
}

// VerifyPath checks the proof's Merkle path.
func (p *InclusionProof) VerifyPath() bool {
	if p == nil || !p.Verified || p.Inclusion == nil {
		return false
	}
	return merkle.Verify(p.BlockHash, p.MerklePath, p.MerkleRoot)
}

func buildProof(blocks []*Block, index int, tokenHash string) (*InclusionProof, error) {
	hashes := blockHashes(blocks)
	path, err := merkle.Proof(hashes, index)
	if err != nil {
		return nil, fmt.Errorf("merkle proof for block %d: %w", index, err)
	}
	b := blocks[index]
	return &InclusionProof{
		Verified: true,
		Inclusion: &Inclusion{
			TokenHash:    tokenHash,
			BlockIndex:   b.Index,
			BlockHash:    b.Hash,
			PreviousHash: b.PreviousHash,
			Timestamp:    b.Timestamp,
			MerkleRoot:   merkle.Root(hashes),
			ChainValid:   validChain(blocks),
			MerklePath:   path,
		},
	}, nil
}

// findToken returns the position of the first block after genesis recording
// tokenHash.
func findToken(blocks []*Block, tokenHash string) (int, bool) {
	for i, b := range blocks {
		if i == 0 {
			continue
		}
		if h, ok := b.TokenHash(); ok && h == tokenHash {
			return i, true
		}
	}
	return 0, false
}

// Summary describes the state of a chain.
type Summary struct {
	TotalBlocks      int    `json:"total_blocks"`
	GenesisTimestamp string `json:"genesis_timestamp,omitempty"`
	LatestTimestamp  string `json:"latest_timestamp,omitempty"`
	IsValid          bool   `json:"is_valid"`
	TotalTokens      int    `json:"total_tokens"`
	MerkleRoot       string `json:"merkle_root"`
}

// Summarize reads l once and describes it.
func Summarize(ctx context.Context, l Ledger) (*Summary, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		TotalBlocks: len(blocks),
		IsValid:     validChain(blocks),
		TotalTokens: len(tokensOf(blocks)),
		MerkleRoot:  merkle.Root(blockHashes(blocks)),
	}
	if len(blocks) > 0 {
		s.GenesisTimestamp = blocks[0].Timestamp
		s.LatestTimestamp = blocks[len(blocks)-1].Timestamp
	}
	return s, nil
}

// Tokens returns the token payloads recorded in l in chain order. Genesis and
// any non-token blocks are skipped.
func Tokens(ctx context.Context, l Ledger) ([]json.RawMessage, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	return tokensOf(blocks), nil
}

func tokensOf(blocks []*Block) []json.RawMessage {
	var out []json.RawMessage
	for i, b := range blocks {
		if i == 0 || !b.IsToken() {
			continue
		}
		out = append(out, b.Data)
	}
	return out
}
