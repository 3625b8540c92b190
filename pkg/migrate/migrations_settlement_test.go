package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmretail/settlement-backend/pkg/migrate"
)

func TestSettlementRecordsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_settlement_records.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no settlement_records migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS settlement_records",
		"PRIMARY KEY (bill_id, detail_id)",
		"CHECK (uploaded IN ('', 'Y', 'F'))",
		"CHECK (withdrawn IN ('', 'Y', 'F'))",
		"CHECK (total_amount_cents >= 0)",
		"DROP TABLE IF EXISTS settlement_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWithdrawalRequestsMigrationContainsStatusCheck(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_withdrawal_requests.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no withdrawal_requests migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS withdrawal_requests",
		"CHECK (status IN ('006', '007'))",
		"CHECK (amount_cents > 0)",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir invalid: %v", err)
	}
}
