package database

import (
	"context"
	"fmt"
	"strings"

	apperrors "site-guardian/internal/errors"
)

// TablesMode selects which tables a snapshot covers
type TablesMode string

const (
	TablesWPCore    TablesMode = "wp_core"
	TablesAllPrefix TablesMode = "all_prefix"
	TablesCustom    TablesMode = "custom"
)

// CoreTables are the unprefixed names of the WordPress core tables
var CoreTables = []string{
	"options",
	"users",
	"usermeta",
	"posts",
	"postmeta",
	"terms",
	"term_taxonomy",
	"term_relationships",
	"termmeta",
	"comments",
	"commentmeta",
}

// SanitizeTableName strips every character outside [A-Za-z0-9_]
func SanitizeTableName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseCustomTables splits a newline separated table list, sanitising names
// and dropping blanks and duplicates
func ParseCustomTables(list string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(list, "\n") {
		name := SanitizeTableName(strings.TrimSpace(line))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// ResolveTables returns the table list for mode
func ResolveTables(ctx context.Context, db Database, mode TablesMode, prefix, custom string) ([]string, error) {
	switch mode {
	case TablesWPCore, "":
		existing, err := db.ListTablesWithPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		present := make(map[string]bool, len(existing))
		for _, name := range existing {
			present[name] = true
		}
		var tables []string
		for _, suffix := range CoreTables {
			if name := SanitizeTableName(prefix + suffix); present[name] {
				tables = append(tables, name)
			}
		}
		return tables, nil
	case TablesAllPrefix:
		existing, err := db.ListTablesWithPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		var tables []string
		for _, name := range existing {
			if clean := SanitizeTableName(name); clean != "" {
				tables = append(tables, clean)
			}
		}
		return tables, nil
	case TablesCustom:
		return ParseCustomTables(custom), nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown tables mode %q", mode), nil)
	}
}
