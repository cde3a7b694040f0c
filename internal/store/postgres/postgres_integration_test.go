package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/onboard/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"import_errors", "import_records", "profiles", "identities"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
	return s
}

func testPair(phone string, line int) core.ProvisionedPair {
	row := core.NormalizedRow{
		LineNumber:   line,
		Name:         "Ravi Kumar",
		Phone:        phone,
		Email:        "ravi@example.com",
		City:         "Chennai",
		Region:       "Tamil Nadu",
		Organization: "Northwind",
	}
	return core.BuildPair(core.RoleInvestor, row, uuid.NewString(), time.Now().UTC())
}

func TestStoreWriteAndRetractIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	out, err := s.WritePairs(ctx, []core.ProvisionedPair{
		testPair("9000000001", 2),
		testPair("9000000002", 3),
		testPair("9000000001", 4),
	})
	if err != nil {
		t.Fatalf("WritePairs: %v", err)
	}
	if out.Written != 2 || len(out.Conflicts) != 1 || out.Conflicts[0].LineNumber != 4 {
		t.Fatalf("outcome = %+v, want 2 written and line 4 conflicting", out)
	}

	phones, err := s.ExistingPhones(ctx)
	if err != nil {
		t.Fatalf("ExistingPhones: %v", err)
	}
	if len(phones) != 2 {
		t.Fatalf("phones = %v, want 2", phones)
	}

	if _, err := s.pool.Exec(ctx, `
INSERT INTO identities (id, name, phone, email, role, is_bulk_created, has_completed_basic_details)
VALUES ('self-registered', 'Self', '7000000001', 'self@example.com', 'investor', FALSE, TRUE)`); err != nil {
		t.Fatalf("seed self-registered identity: %v", err)
	}

	ids, err := s.BulkCreatedIDs(ctx)
	if err != nil {
		t.Fatalf("BulkCreatedIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("bulk ids = %v, want 2", ids)
	}

	deleted, err := s.DeletePairs(ctx, append(ids, "self-registered"))
	if err != nil {
		t.Fatalf("DeletePairs: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	var profiles int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM profiles").Scan(&profiles); err != nil {
		t.Fatalf("count profiles: %v", err)
	}
	if profiles != 0 {
		t.Fatalf("profiles = %d, want 0", profiles)
	}
}

func TestStoreImportRecordsIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := core.ImportRecord{
		ID:                  uuid.NewString(),
		Role:                core.RoleStartup,
		Status:              core.StatusCompletedWithErrors,
		Strategy:            core.StrategyBatch,
		FilePath:            core.LocalImportPath,
		TotalRows:           3,
		SuccessCount:        2,
		FailureCount:        1,
		CreatedByOperatorID: "op-1",
		CreatedAt:           start,
		CompletedAt:         start.Add(time.Second),
		Errors: []core.ImportError{
			{RowNumber: 3, Message: core.MsgMissingEmail, RawData: "Asha,9000000003,,Pune,MH,"},
		},
	}
	if err := s.InsertImportRecord(ctx, rec); err != nil {
		t.Fatalf("InsertImportRecord: %v", err)
	}

	got, err := s.GetImportRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetImportRecord: %v", err)
	}
	if got.Status != rec.Status || got.TotalRows != 3 || len(got.Errors) != 1 || got.Errors[0].RowNumber != 3 {
		t.Fatalf("record = %+v", got)
	}

	list, err := s.ListImportRecords(ctx, 10)
	if err != nil {
		t.Fatalf("ListImportRecords: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("list = %+v", list)
	}

	if _, err := s.GetImportRecord(ctx, "missing"); err == nil {
		t.Fatal("expected not found error")
	}
}
