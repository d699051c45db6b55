package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/pkg/merkle"
)

// Key prefixes. Blocks are keyed by big-endian index so iteration is in
// chain order; the hash indexes map to the same 8-byte index.
var (
	prefixBlock     = []byte("b/")
	prefixBlockHash = []byte("h/")
	prefixTokenHash = []byte("t/")
)

// BadgerLedger persists the chain in an embedded Badger database.
type BadgerLedger struct {
	mu     sync.Mutex // serialises Append
	db     *badger.DB
	logger *zap.Logger
	cfg    config
}

// storedBlock keeps Data as a string so the canonical bytes are stored as-is.
type storedBlock struct {
	Index        int    `json:"index"`
	Timestamp    string `json:"timestamp"`
	Data         string `json:"data"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// OpenBadgerLedger opens or creates a ledger at path and writes the genesis
// block if the database is empty. An empty path keeps everything in memory.
func OpenBadgerLedger(path string, logger *zap.Logger, opts ...Option) (*BadgerLedger, error) {
	bopts := badger.DefaultOptions(path)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("ledger at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open ledger at %s: %w", path, err)
	}

	l := &BadgerLedger{db: db, logger: logger, cfg: newConfig(opts)}
	if err := l.init(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

func (l *BadgerLedger) init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.tail()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	genesis, err := Genesis(l.cfg.timestamp())
	if err != nil {
		return err
	}
	if err := l.db.Update(func(txn *badger.Txn) error { return putBlock(txn, genesis) }); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	l.logger.Info("ledger genesis block created", zap.String("hash", genesis.Hash))
	return nil
}

func indexKey(prefix []byte, index int) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(index))
	return k
}

func hashKey(prefix []byte, hash string) []byte {
	return append(append([]byte(nil), prefix...), hash...)
}

func putBlock(txn *badger.Txn, b *Block) error {
	val, err := json.Marshal(storedBlock{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Data:         string(b.Data),
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
	})
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	idx := indexKey(nil, b.Index)
	if err := txn.Set(indexKey(prefixBlock, b.Index), val); err != nil {
		return err
	}
	if err := setIfAbsent(txn, hashKey(prefixBlockHash, b.Hash), idx); err != nil {
		return err
	}
	if th, ok := b.TokenHash(); ok && b.Index > 0 {
		if err := setIfAbsent(txn, hashKey(prefixTokenHash, th), idx); err != nil {
			return err
		}
	}
	return nil
}

func setIfAbsent(txn *badger.Txn, key, val []byte) error {
	_, err := txn.Get(key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(key, val)
}

func decodeBlock(val []byte) (*Block, error) {
	var s storedBlock
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &Block{
		Index:        s.Index,
		Timestamp:    s.Timestamp,
		Data:         json.RawMessage(s.Data),
		PreviousHash: s.PreviousHash,
		Hash:         s.Hash,
	}, nil
}

func getBlock(txn *badger.Txn, key []byte) (*Block, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeBlock(val)
}

// lookupIndex resolves a hash index entry to the block it points at.
func lookupIndex(txn *badger.Txn, key []byte) (*Block, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	idx, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return getBlock(txn, append(append([]byte(nil), prefixBlock...), idx...))
}

// tail returns the block with the highest index.
func (l *BadgerLedger) tail() (*Block, error) {
	var b *Block
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixBlock
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), prefixBlock...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(prefixBlock) {
			return ErrNotFound
		}
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		b, err = decodeBlock(val)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("latest block: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return b, nil
}

// Append implements Ledger.
func (l *BadgerLedger) Append(_ context.Context, payload any) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.tail()
	if err != nil {
		return nil, err
	}
	b, err := newBlock(prev.Index+1, l.cfg.timestamp(), payload, prev.Hash)
	if err != nil {
		return nil, err
	}
	if err := l.db.Update(func(txn *badger.Txn) error { return putBlock(txn, b) }); err != nil {
		return nil, fmt.Errorf("write block %d: %w", b.Index, err)
	}

	l.logger.Debug("ledger block appended",
		zap.Int("idx", b.Index),
		zap.String("hash", b.Hash),
	)
	return b, nil
}

// Get implements Ledger.
func (l *BadgerLedger) Get(_ context.Context, index int) (*Block, error) {
	if index < 0 {
		return nil, fmt.Errorf("block %d: %w", index, ErrNotFound)
	}
	var b *Block
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = getBlock(txn, indexKey(prefixBlock, index))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	return b, nil
}

// Len implements Ledger.
func (l *BadgerLedger) Len(_ context.Context) (int, error) {
	b, err := l.tail()
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Index + 1, nil
}

// Latest implements Ledger.
func (l *BadgerLedger) Latest(_ context.Context) (*Block, error) {
	return l.tail()
}

// Blocks implements Ledger.
func (l *BadgerLedger) Blocks(_ context.Context) ([]*Block, error) {
	var blocks []*Block
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixBlock
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixBlock); it.ValidForPrefix(prefixBlock); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				b, err := decodeBlock(val)
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read blocks: %w", err)
	}
	return blocks, nil
}

// IsValid implements Ledger.
func (l *BadgerLedger) IsValid(ctx context.Context) (bool, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return false, err
	}
	return validChain(blocks), nil
}

// FindByHash implements Ledger.
func (l *BadgerLedger) FindByHash(_ context.Context, blockHash string) (*Block, error) {
	var b *Block
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = lookupIndex(txn, hashKey(prefixBlockHash, blockHash))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", blockHash, err)
	}
	return b, nil
}

// FindTokenByHash implements Ledger.
func (l *BadgerLedger) FindTokenByHash(_ context.Context, tokenHash string) (bool, error) {
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(hashKey(prefixTokenHash, tokenHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("find token %s: %w", tokenHash, err)
	}
	return found, nil
}

// FindTokenBlock implements Ledger.
func (l *BadgerLedger) FindTokenBlock(_ context.Context, tokenHash string) (*Block, error) {
	var b *Block
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = lookupIndex(txn, hashKey(prefixTokenHash, tokenHash))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", tokenHash, err)
	}
	return b, nil
}

// MerkleRoot implements Ledger.
func (l *BadgerLedger) MerkleRoot(ctx context.Context) (string, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return "", err
	}
	return merkle.Root(blockHashes(blocks)), nil
}

// ProofOfInclusion implements Ledger.
func (l *BadgerLedger) ProofOfInclusion(ctx context.Context, tokenHash string) (*InclusionProof, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	pos, ok := findToken(blocks, tokenHash)
	if !ok {
		return NotIncluded(), nil
	}
	return buildProof(blocks, pos, tokenHash)
}
