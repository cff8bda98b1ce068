package repository

import (
	"strings"
	"testing"
)

func TestSchemaStatementsIdempotent(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) == 0 {
		t.Fatalf("no schema statements")
	}
	for i, stmt := range stmts {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Fatalf("statement %d is not idempotent: %s", i, stmt)
		}
	}
}

// The DDL must cover every column the store's inserts reference, or the
// first write after a fresh Init fails.
func TestSchemaCoversInsertColumns(t *testing.T) {
	var varDDL, btDDL string
	for _, s := range schemaStatements() {
		if strings.Contains(s, VaRTable) {
			varDDL = s
		}
		if strings.Contains(s, BacktestTable) {
			btDDL = s
		}
	}
	if varDDL == "" {
		t.Fatalf("schema does not create %s", VaRTable)
	}
	if btDDL == "" {
		t.Fatalf("schema does not create %s", BacktestTable)
	}

	varCols := []string{"symbol", "ts", "confidence", "var", "es", "regime", "run_at"}
	for _, col := range varCols {
		if !strings.Contains(varDDL, col) {
			t.Fatalf("%s missing column %q", VaRTable, col)
		}
	}
	btCols := []string{
		"symbol", "model", "run_at", "observations", "violations", "violation_rate", "expected_rate",
		"kupiec_stat", "kupiec_p", "kupiec_decision",
		"christoffersen_stat", "christoffersen_p", "christoffersen_decision",
		"joint_stat", "joint_p", "joint_decision",
		"mean_excess", "max_excess", "max_drawdown",
	}
	for _, col := range btCols {
		if !strings.Contains(btDDL, col) {
			t.Fatalf("%s missing column %q", BacktestTable, col)
		}
	}
}
