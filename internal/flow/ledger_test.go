package flow

import (
	"testing"

	"github.com/haven-labs/mindhaven/internal/store"
)

func TestTryConsumeDailyQuotaCountsThenCompares(t *testing.T) {
	st := store.NewInMemoryStore()
	cfg := DefaultConfig()
	cfg.DailyChatCap = 3
	ledger := NewLedger(st, cfg)

	sess, err := st.GetOrCreateSession("user1")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		allowed, err := ledger.TryConsumeDailyQuota(sess)
		if err != nil {
			t.Fatalf("TryConsumeDailyQuota failed: %v", err)
		}
		if !allowed {
			t.Errorf("call %d should be allowed", i)
		}
	}

	// The cap+1-th call is denied but still counted.
	allowed, err := ledger.TryConsumeDailyQuota(sess)
	if err != nil {
		t.Fatalf("TryConsumeDailyQuota failed: %v", err)
	}
	if allowed {
		t.Error("call beyond cap should be denied")
	}
	if sess.DailyCount != 4 {
		t.Errorf("expected dailyCount 4 (blocked attempt still counts), got %d", sess.DailyCount)
	}

	// After the daily reset the counter behaves as freshly created.
	if err := st.ResetAllDailyCounts(); err != nil {
		t.Fatalf("ResetAllDailyCounts failed: %v", err)
	}
	allowed, err = ledger.TryConsumeDailyQuota(sess)
	if err != nil {
		t.Fatalf("TryConsumeDailyQuota failed: %v", err)
	}
	if !allowed {
		t.Error("first call after reset should be allowed")
	}
	if sess.DailyCount != 1 {
		t.Errorf("expected dailyCount 1 after reset, got %d", sess.DailyCount)
	}
}

func TestRecordWarningBansAtNormalThreshold(t *testing.T) {
	st := store.NewInMemoryStore()
	ledger := NewLedger(st, DefaultConfig())

	sess, _ := st.GetOrCreateSession("user1")

	for i := 1; i <= 2; i++ {
		count, banned, err := ledger.RecordWarning(sess)
		if err != nil {
			t.Fatalf("RecordWarning failed: %v", err)
		}
		if banned {
			t.Errorf("should not be banned at %d warnings", count)
		}
	}

	count, banned, err := ledger.RecordWarning(sess)
	if err != nil {
		t.Fatalf("RecordWarning failed: %v", err)
	}
	if count != 3 || !banned {
		t.Errorf("expected ban exactly at 3 warnings, got count=%d banned=%v", count, banned)
	}

	// The ban is persisted, not only in-memory.
	stored, _ := st.GetSession("user1")
	if stored == nil || !stored.Banned {
		t.Error("ban was not persisted")
	}
}

func TestRecordWarningCrisisThresholdIsHigher(t *testing.T) {
	st := store.NewInMemoryStore()
	ledger := NewLedger(st, DefaultConfig())

	sess, _ := st.GetOrCreateSession("user1")
	sess.InCrisis = true
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	for i := 1; i <= 4; i++ {
		_, banned, err := ledger.RecordWarning(sess)
		if err != nil {
			t.Fatalf("RecordWarning failed: %v", err)
		}
		if banned {
			t.Fatalf("crisis-mode user banned at %d warnings, threshold is 5", i)
		}
	}

	count, banned, err := ledger.RecordWarning(sess)
	if err != nil {
		t.Fatalf("RecordWarning failed: %v", err)
	}
	if count != 5 || !banned {
		t.Errorf("expected ban exactly at 5 warnings in crisis mode, got count=%d banned=%v", count, banned)
	}
}

func TestBanThresholdSelection(t *testing.T) {
	ledger := NewLedger(store.NewInMemoryStore(), DefaultConfig())

	sess, _ := ledger.store.GetOrCreateSession("user1")
	if got := ledger.BanThreshold(sess); got != DefaultBanThresholdNormal {
		t.Errorf("expected normal threshold %d, got %d", DefaultBanThresholdNormal, got)
	}
	sess.InCrisis = true
	if got := ledger.BanThreshold(sess); got != DefaultBanThresholdCrisis {
		t.Errorf("expected crisis threshold %d, got %d", DefaultBanThresholdCrisis, got)
	}
}
