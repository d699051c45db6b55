package ledger

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ecochain/ecochain/pkg/merkle"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey serialises appends across every process sharing the
// database. The value is arbitrary but must not change.
const advisoryLockKey = int64(0x45434f43)

const blockColumns = "idx, timestamp, data, previous_hash, hash"

// PostgresLedger persists the chain to PostgreSQL. Block data is stored as
// TEXT so the canonical bytes survive unchanged.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cfg    config
}

// NewPostgresLedger creates a PostgresLedger backed by pool. Call Init before
// first use.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger, cfg: newConfig(opts)}
}

func newMigrator(pool *pgxpool.Pool) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(pool), &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies the embedded schema migrations. It is idempotent.
func Migrate(pool *pgxpool.Pool) error {
	m, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back every embedded migration. The chain is dropped.
func MigrateDown(pool *pgxpool.Pool) error {
	m, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version. A fresh database
// reports version 0.
func SchemaVersion(pool *pgxpool.Pool) (version uint, dirty bool, err error) {
	m, err := newMigrator(pool)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Init writes the genesis block if the table is empty.
func (l *PostgresLedger) Init(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	var n int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return fmt.Errorf("count blocks: %w", err)
	}
	if n > 0 {
		return nil
	}

	genesis, err := Genesis(l.cfg.timestamp())
	if err != nil {
		return err
	}
	if err := insertBlock(ctx, tx, genesis); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	l.logger.Info("ledger genesis block created", zap.String("hash", genesis.Hash))
	return nil
}

func insertBlock(ctx context.Context, tx pgx.Tx, b *Block) error {
	var tokenHash *string
	if th, ok := b.TokenHash(); ok && b.Index > 0 {
		tokenHash = &th
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_blocks (idx, timestamp, data, previous_hash, hash, token_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.Index, b.Timestamp, string(b.Data), b.PreviousHash, b.Hash, tokenHash,
	); err != nil {
		return fmt.Errorf("insert block %d: %w", b.Index, err)
	}
	return nil
}

// Append implements Ledger. The tail is read and the new block inserted under
// a transaction-scoped advisory lock, so readers never see a partial block.
func (l *PostgresLedger) Append(ctx context.Context, payload any) (*Block, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_blocks ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("ledger has no genesis block; call Init first")
		}
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	b, err := newBlock(prevIdx+1, l.cfg.timestamp(), payload, prevHash)
	if err != nil {
		return nil, err
	}
	if err := insertBlock(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger block appended",
		zap.Int("idx", b.Index),
		zap.String("hash", b.Hash),
	)
	return b, nil
}

func scanBlock(row pgx.Row) (*Block, error) {
	var (
		b    Block
		data string
	)
	if err := row.Scan(&b.Index, &b.Timestamp, &data, &b.PreviousHash, &b.Hash); err != nil {
		return nil, err
	}
	b.Data = json.RawMessage(data)
	return &b, nil
}

func (l *PostgresLedger) queryOne(ctx context.Context, what, query string, args ...any) (*Block, error) {
	b, err := scanBlock(l.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return b, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Block, error) {
	return l.queryOne(ctx, fmt.Sprintf("block %d", index),
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE idx = $1", index)
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return n, nil
}

// Latest implements Ledger.
func (l *PostgresLedger) Latest(ctx context.Context) (*Block, error) {
	return l.queryOne(ctx, "latest block",
		"SELECT "+blockColumns+" FROM ledger_blocks ORDER BY idx DESC LIMIT 1")
}

// Blocks implements Ledger.
func (l *PostgresLedger) Blocks(ctx context.Context) ([]*Block, error) {
	rows, err := l.pool.Query(ctx, "SELECT "+blockColumns+" FROM ledger_blocks ORDER BY idx ASC")
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block row: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

// IsValid implements Ledger. It reads the whole chain; O(n) in its length.
func (l *PostgresLedger) IsValid(ctx context.Context) (bool, error) {
	blocks, err := l.Blocks(ctx)
	if err != nil {
		return false, err
	}
	return validChain(blocks), nil
}

// FindByHash implements Ledger.
func (l *PostgresLedger) FindByHash(ctx context.Context, blockHash string) (*Block, error) {
	return l.queryOne(ctx, "block "+blockHash,
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE hash = $1 ORDER BY idx LIMIT 1", blockHash)
}

// FindTokenByHash implements Ledger.
func (l *PostgresLedger) FindTokenByHash(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM ledger_blocks WHERE token_hash = $1)", tokenHash,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("find token %s: %w", tokenHash, err)
	}
	return exists, nil
}

// FindTokenBlock implements Ledger.
func (l *PostgresLedger) FindTokenBlock(ctx context.Context, tokenHash string) (*Block, error) {
	return l.queryOne(ctx, "token "+tokenHash,
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE token_hash = $1 ORDER BY idx LIMIT 1", tokenHash)
}

// MerkleRoot implements Ledger.
func (l *PostgresLedger) MerkleRoot(ctx context.Context) (string, error) {
	rows, err := l.pool.Query(ctx, "SELECT hash FROM ledger_blocks ORDER BY idx ASC")
	if err != nil {
		return "", fmt.Errorf("query block hashes: %w", err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("collect block hashes: %w", err)
	}
	return merkle.Root(hashes), nil
}

// ProofOfInclusion implements Ledger.
func (l *PostgresLedger) ProofOfInclusion(ctx context.Context, tokenHash string) (*InclusionProof, error) {
	var idx int
	err := l.pool.QueryRow(ctx,
		"SELECT idx FROM ledger_blocks WHERE token_hash = $1 ORDER BY idx LIMIT 1", tokenHash,
	).Scan(&idx)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotIncluded(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find token %s: %w", tokenHash, err)
	}

	blocks, err := l.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	for pos, b := range blocks {
		if b.Index == idx {
			return buildProof(blocks, pos, tokenHash)
		}
	}
	return nil, fmt.Errorf("token %s: block %d vanished", tokenHash, idx)
}
