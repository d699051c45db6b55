package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ecochain/ecochain/pkg/canonical"
)

const (
	// GenesisPreviousHash is the previous_hash of block 0.
	GenesisPreviousHash = "0"
	// GenesisMessage is the message recorded in block 0.
	GenesisMessage = "Genesis Block - Eco-Chain Initialized"
)

// Block is one link of the chain. Data holds the canonical JSON of the
// payload, so a block decoded from an export re-hashes to the same value.
type Block struct {
	Index        int             `json:"index"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
}

// ComputeHash returns SHA-256 over the canonical JSON of the block's index,
// timestamp, data and previous hash.
func (b *Block) ComputeHash() (string, error) {
	data := b.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	enc, err := canonical.Marshal(map[string]any{
		"data":          data,
		"index":         b.Index,
		"previous_hash": b.PreviousHash,
		"timestamp":     b.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize block %d: %w", b.Index, err)
	}
	h := sha256.Sum256(enc)
	return hex.EncodeToString(h[:]), nil
}

// TokenHash returns the "hash" member of a block whose data is an object
// carrying one.
func (b *Block) TokenHash() (string, bool) {
	var probe struct {
		Hash *string `json:"hash"`
	}
	if !isObject(b.Data) || json.Unmarshal(b.Data, &probe) != nil || probe.Hash == nil {
		return "", false
	}
	return *probe.Hash, true
}

// IsToken reports whether the block data is a token record.
func (b *Block) IsToken() bool {
	var probe struct {
		TokenID *string `json:"token_id"`
	}
	if !isObject(b.Data) || json.Unmarshal(b.Data, &probe) != nil {
		return false
	}
	return probe.TokenID != nil
}

func (b *Block) clone() *Block {
	c := *b
	c.Data = append(json.RawMessage(nil), b.Data...)
	return &c
}

func isObject(data json.RawMessage) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// newBlock seals payload as the block following prev.
func newBlock(index int, timestamp string, payload any, previousHash string) (*Block, error) {
	data, err := canonical.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	b := &Block{
		Index:        index,
		Timestamp:    timestamp,
		Data:         data,
		PreviousHash: previousHash,
	}
	if b.Hash, err = b.ComputeHash(); err != nil {
		return nil, err
	}
	return b, nil
}

// Genesis returns block 0 stamped with timestamp.
func Genesis(timestamp string) (*Block, error) {
	return newBlock(0, timestamp, map[string]any{"message": GenesisMessage}, GenesisPreviousHash)
}
