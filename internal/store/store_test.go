package store

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/storage"
	"github.com/comit-node/rfc003/internal/swapid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "rfc003-store-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	st, err := New(s)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return st
}

func testMetadata(id swapid.ID) engine.Metadata {
	return engine.Metadata{
		ID:              id,
		Role:            role.Alice,
		AlphaLedgerKind: ledger.Bitcoin,
		BetaLedgerKind:  ledger.Ethereum,
		AlphaAssetKind:  "bitcoin",
		BetaAssetKind:   "ether",
	}
}

func TestInsertGet(t *testing.T) {
	st := newTestStore(t)
	id := swapid.New()

	state, err := json.Marshal(map[string]string{"placeholder": "start"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := st.Insert(id, testMetadata(id), engine.KindStart, state); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	rec, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Kind != engine.KindStart {
		t.Errorf("Kind = %v, want %v", rec.Kind, engine.KindStart)
	}
	if rec.Metadata.Role != role.Alice {
		t.Errorf("Role = %v, want %v", rec.Metadata.Role, role.Alice)
	}
	if rec.Metadata.AlphaLedgerKind != ledger.Bitcoin {
		t.Errorf("AlphaLedgerKind = %v, want %v", rec.Metadata.AlphaLedgerKind, ledger.Bitcoin)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	st := newTestStore(t)
	id := swapid.New()
	state, _ := json.Marshal(map[string]string{"placeholder": "start"})

	if err := st.Insert(id, testMetadata(id), engine.KindStart, state); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := st.Insert(id, testMetadata(id), engine.KindStart, state); err != ErrExists {
		t.Fatalf("second Insert() error = %v, want ErrExists", err)
	}
}

func TestUpdateUnknownRejected(t *testing.T) {
	st := newTestStore(t)
	state, _ := json.Marshal(map[string]string{"placeholder": "start"})

	if err := st.Update(swapid.New(), engine.KindAccepted, state); err != ErrNotFound {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateAdvancesKind(t *testing.T) {
	st := newTestStore(t)
	id := swapid.New()
	start, _ := json.Marshal(map[string]string{"placeholder": "start"})
	accepted, _ := json.Marshal(map[string]string{"placeholder": "accepted"})

	if err := st.Insert(id, testMetadata(id), engine.KindStart, start); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := st.Update(id, engine.KindAccepted, accepted); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	rec, err := st.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Kind != engine.KindAccepted {
		t.Errorf("Kind = %v, want %v", rec.Kind, engine.KindAccepted)
	}
	if string(rec.StateData) != string(accepted) {
		t.Errorf("StateData = %s, want %s", rec.StateData, accepted)
	}
}

func TestActiveExcludesFinal(t *testing.T) {
	st := newTestStore(t)
	live := swapid.New()
	done := swapid.New()
	state, _ := json.Marshal(map[string]string{"placeholder": "x"})

	if err := st.Insert(live, testMetadata(live), engine.KindBothFunded, state); err != nil {
		t.Fatalf("Insert(live) error = %v", err)
	}
	if err := st.Insert(done, testMetadata(done), engine.KindFinal, state); err != nil {
		t.Fatalf("Insert(done) error = %v", err)
	}

	active, err := st.Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != live {
		t.Fatalf("Active() = %v, want exactly [%v]", active, live)
	}

	all, err := st.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("All() returned %d records, want 2", len(all))
	}
}
