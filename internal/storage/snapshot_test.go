package storage

import (
	"os"
	"testing"
	"time"

	"shadow_exchange/internal/domain"
)

func TestSnapshot_SaveAndLoad(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir())

	coins := []domain.Coin{
		{ID: "bitcoin", Symbol: "btc", CurrentPrice: 64000, MarketCapRank: 1},
		{ID: "ethereum", Symbol: "eth", CurrentPrice: 3000, MarketCapRank: 2},
	}
	snap := NewMarketSnapshot(100, coins)
	coins[0].CurrentPrice = 1 // snapshot must not alias the caller's slice

	if err := sm.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if loaded.Seq != 100 {
		t.Errorf("Expected seq 100, got %d", loaded.Seq)
	}
	if len(loaded.Coins) != 2 || loaded.Coins[0].CurrentPrice != 64000 {
		t.Errorf("Coin list mismatch: %+v", loaded.Coins)
	}
	if age := loaded.Age(time.Now()); age < 0 || age > time.Minute {
		t.Errorf("unexpected age %v", age)
	}
}

func TestSnapshot_LoadLatest_MultipleSnapshots(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir())

	for _, seq := range []uint64{10, 50, 30} {
		snap := &MarketSnapshot{Seq: seq, TsUnix: int64(seq)}
		if err := sm.Save(snap); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if loaded.Seq != 50 {
		t.Errorf("Expected latest seq 50, got %d", loaded.Seq)
	}
}

func TestSnapshot_LoadLatest_NoSnapshots(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir() + "/missing")

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil for empty dir, got %v", loaded)
	}
}

func TestSnapshot_Cleanup(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)

	for seq := uint64(1); seq <= 5; seq++ {
		if err := sm.Save(&MarketSnapshot{Seq: seq, TsUnix: int64(seq)}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if err := sm.Cleanup(2); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("Expected 2 snapshots after cleanup, got %d", len(entries))
	}

	loaded, _ := sm.LoadLatest()
	if loaded.Seq != 5 {
		t.Errorf("Expected seq 5 to remain, got %d", loaded.Seq)
	}
}

func TestSnapshot_LoadLatest_AfterRestart(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir())

	// seq 40 from a previous run, seq 1 from the current one
	if err := sm.Save(&MarketSnapshot{Seq: 40, TsUnix: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := sm.Save(&MarketSnapshot{Seq: 1, TsUnix: 2000}); err != nil {
		t.Fatal(err)
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Seq != 1 {
		t.Errorf("Expected the newer snapshot (seq 1), got seq %d", loaded.Seq)
	}
}
