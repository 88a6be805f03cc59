package postgres

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The repos and the shipped DDL must agree on column names; a drift here
// breaks every query at runtime.
func TestColumnsMatchMigration(t *testing.T) {
	ddl, err := os.ReadFile("../../../../migrations/postgres/001_init.sql")
	require.NoError(t, err)

	tables := tableDefs(t, string(ddl))

	for _, col := range splitColumns(sessionColumns) {
		require.Contains(t, tables["browser_session"], col, "browser_session column %s", col)
	}
	for _, col := range splitColumns(jobColumns) {
		require.Contains(t, tables["download_jobs"], col, "download_jobs column %s", col)
	}
	for _, col := range []string{
		"external_id", "name", "short_code", "active", "storage_folder",
		"created_at", "updated_at",
	} {
		require.Contains(t, tables["clients"], col, "clients column %s", col)
	}
}

func tableDefs(t *testing.T, ddl string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	blocks := strings.Split(ddl, "CREATE TABLE IF NOT EXISTS ")
	for _, b := range blocks[1:] {
		name, rest, found := strings.Cut(b, "(")
		require.True(t, found)
		out[strings.TrimSpace(name)] = rest
	}
	return out
}

func splitColumns(list string) []string {
	var out []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
