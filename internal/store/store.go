// Package store implements C10: durable checkpointing of swap state across
// restarts. It follows internal/storage's CRUD pattern (as in message_queue.go)
// and stores a generic engine.State checkpoint in its own swap_checkpoints
// table: the state machine's State[AL,BL,AA,BA] is generic per
// swap, so instead of per-field columns the table carries a type-erased
// envelope (Kind plus a JSON blob) that the caller — which knows the concrete
// ledger/asset types for that swap's Metadata — decodes back into the right
// State variant.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/storage"
	"github.com/comit-node/rfc003/internal/swapid"
)

var (
	ErrNotFound = errors.New("store: swap not found")
	ErrExists   = errors.New("store: swap already exists")
)

// Record is one swap's durable checkpoint. StateData is the JSON encoding of
// whatever concrete engine.State[AL,BL,AA,BA] the swap is currently in; Kind
// names which one, so a reader can dispatch to the right concrete type before
// unmarshalling.
type Record struct {
	ID        swapid.ID
	Metadata  engine.Metadata
	Kind      engine.Kind
	StateData json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists swap checkpoints to the node's shared SQLite database. It
// reuses internal/storage's connection rather than opening a second handle:
// storage.Storage already configures the single writer connection (SQLite only
// supports one) that every table in the database shares.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New attaches a checkpoint store to an already-open Storage, creating its
// table if this is the first run.
func New(s *storage.Storage) (*Store, error) {
	st := &Store{db: s.DB()}
	if err := st.initSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return st, nil
}

func (st *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS swap_checkpoints (
		swap_id      TEXT PRIMARY KEY,
		role         TEXT NOT NULL,
		alpha_ledger TEXT NOT NULL,
		beta_ledger  TEXT NOT NULL,
		alpha_asset  TEXT NOT NULL,
		beta_asset   TEXT NOT NULL,
		kind         TEXT NOT NULL,
		state_data   BLOB NOT NULL,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swap_checkpoints_kind ON swap_checkpoints(kind);
	CREATE INDEX IF NOT EXISTS idx_swap_checkpoints_updated ON swap_checkpoints(updated_at);
	`
	_, err := st.db.Exec(schema)
	return err
}

// Insert creates a swap's first checkpoint. Returns ErrExists if the id is
// already known, since every id is assigned once at swap creation and never
// reused (swapid.New's contract).
func (st *Store) Insert(id swapid.ID, metadata engine.Metadata, kind engine.Kind, stateData json.RawMessage) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().Unix()
	_, err := st.db.Exec(`
		INSERT INTO swap_checkpoints (
			swap_id, role, alpha_ledger, beta_ledger, alpha_asset, beta_asset,
			kind, state_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		string(metadata.Role),
		string(metadata.AlphaLedgerKind),
		string(metadata.BetaLedgerKind),
		metadata.AlphaAssetKind,
		metadata.BetaAssetKind,
		kind.String(),
		[]byte(stateData),
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

// Update overwrites a swap's checkpoint with its new state. This is the
// engine's transition hook: every state change is checkpointed here before the
// engine awaits the next event, so a restart resumes from the last durable
// state rather than replaying from Start.
func (st *Store) Update(id swapid.ID, kind engine.Kind, stateData json.RawMessage) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.db.Exec(`
		UPDATE swap_checkpoints SET kind = ?, state_data = ?, updated_at = ?
		WHERE swap_id = ?
	`, kind.String(), []byte(stateData), time.Now().Unix(), id.String())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves one swap's checkpoint.
func (st *Store) Get(id swapid.ID) (*Record, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	row := st.db.QueryRow(`
		SELECT swap_id, role, alpha_ledger, beta_ledger, alpha_asset, beta_asset,
			kind, state_data, created_at, updated_at
		FROM swap_checkpoints WHERE swap_id = ?
	`, id.String())
	return scanRecord(row)
}

// All returns every checkpointed swap, most recently updated first.
func (st *Store) All() ([]*Record, error) {
	return st.query(`
		SELECT swap_id, role, alpha_ledger, beta_ledger, alpha_asset, beta_asset,
			kind, state_data, created_at, updated_at
		FROM swap_checkpoints ORDER BY updated_at DESC
	`)
}

// Active returns every swap not yet in its Final state — the set a node must
// resume watchers for on restart.
func (st *Store) Active() ([]*Record, error) {
	return st.query(`
		SELECT swap_id, role, alpha_ledger, beta_ledger, alpha_asset, beta_asset,
			kind, state_data, created_at, updated_at
		FROM swap_checkpoints WHERE kind != ? ORDER BY created_at ASC
	`, engine.KindFinal.String())
}

func (st *Store) query(query string, args ...any) ([]*Record, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rows, err := st.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func scanRecordRows(rows *sql.Rows) (*Record, error) {
	return scan(rows)
}

func scan(s rowScanner) (*Record, error) {
	var rec Record
	var idStr, roleStr, alphaLedger, betaLedger, kindStr string
	var stateData []byte
	var createdAt, updatedAt int64

	if err := s.Scan(
		&idStr, &roleStr, &alphaLedger, &betaLedger,
		&rec.Metadata.AlphaAssetKind, &rec.Metadata.BetaAssetKind,
		&kindStr, &stateData, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := swapid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt swap id %q: %w", idStr, err)
	}
	rec.ID = id
	rec.Metadata.ID = id
	rec.Metadata.Role = roleOf(roleStr)
	rec.Metadata.AlphaLedgerKind = ledgerKindOf(alphaLedger)
	rec.Metadata.BetaLedgerKind = ledgerKindOf(betaLedger)
	rec.Kind = kindOf(kindStr)
	rec.StateData = json.RawMessage(stateData)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}
