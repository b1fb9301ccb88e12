package dbsnapshot

import (
	"fmt"
	"strings"
	"time"

	"site-guardian/internal/database"
)

// DumpHeader opens every dump: comment lines then disabling foreign key checks
func DumpHeader(title, restorePointID string, createdAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Site Guardian %s\n", title)
	fmt.Fprintf(&b, "-- Restore point: %s\n", restorePointID)
	fmt.Fprintf(&b, "-- Created: %s\n", createdAt.UTC().Format(time.RFC3339))
	b.WriteString("SET FOREIGN_KEY_CHECKS=0;\n\n")
	return b.String()
}

// DumpFooter closes every dump
const DumpFooter = "SET FOREIGN_KEY_CHECKS=1;\n"

// TableSchema renders the drop and create statements for table
func TableSchema(table, ddl string) string {
	return fmt.Sprintf("-- Table: %s\nDROP TABLE IF EXISTS %s;\n%s;\n\n",
		table, database.QuoteIdentifier(table), strings.TrimSuffix(strings.TrimSpace(ddl), ";"))
}
