package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func TestStatusFromStringRoundTrip(t *testing.T) {
	for _, status := range []types.Status{
		types.StatusSuccess, types.StatusFallback, types.StatusSearchFail,
		types.StatusRejectShort, types.StatusRejectLong, types.StatusRejectSilence,
		types.StatusRejectPower, types.StatusRejectGMM,
	} {
		got := statusFromString(status.String())
		if got != status {
			t.Errorf("statusFromString(%q) = %v, want %v", status.String(), got, status)
		}
	}
}

func TestStatusFromStringUnknown(t *testing.T) {
	if got := statusFromString("NOT_A_STATUS"); got != types.StatusSearchFail {
		t.Errorf("statusFromString(unknown) = %v, want StatusSearchFail", got)
	}
}

// testDSN returns the integration test database DSN from the environment, or
// skips the test if LVCSR_TEST_POSTGRES_DSN is not set. WriteResult/NewStore
// themselves are exercised only here, matching the rest of the pack's
// postgres-backed stores (see internal/am/codebook/postgres).
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LVCSR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LVCSR_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration test")
	}
	return dsn
}

func TestStoreWriteAndReadResult(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	sentences := []types.Sentence{{
		TotalScore: -123.4,
		Status:     types.StatusSuccess,
		Words: []types.WordSpan{
			{Word: 1, Surface: "HELLO", BeginFrame: 0, EndFrame: 10, AMScore: -50, LMScore: -1, Confidence: 0.9},
			{Word: 2, Surface: "WORLD", BeginFrame: 11, EndFrame: 20, AMScore: -60, LMScore: -2, Confidence: 0.8},
		},
	}}

	if err := store.WriteResult(ctx, "session-1", types.StatusSuccess, sentences); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	recent, err := store.RecentSentences(ctx, "session-1", 5)
	if err != nil {
		t.Fatalf("RecentSentences: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("RecentSentences returned %d entries, want 1", len(recent))
	}
	if recent[0].Status != types.StatusSuccess {
		t.Errorf("recent[0].Status = %v, want StatusSuccess", recent[0].Status)
	}
}
