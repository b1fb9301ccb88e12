package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listOnlyDB struct {
	Database
	tables []string
}

func (l *listOnlyDB) ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return l.tables, nil
}

func TestSanitizeTableName(t *testing.T) {
	assert.Equal(t, "wp_posts", SanitizeTableName("wp_posts"))
	assert.Equal(t, "wp_postsDROP", SanitizeTableName("wp_posts`; DROP"))
	assert.Equal(t, "", SanitizeTableName("../.."))
}

func TestParseCustomTables(t *testing.T) {
	assert.Equal(t, []string{"wp_options", "wp_posts", "custom_log"},
		ParseCustomTables("wp_options\n\n  wp_posts \r\nwp_options\ncustom-log\n"))
	assert.Nil(t, ParseCustomTables(""))
}

func TestResolveTables(t *testing.T) {
	ctx := context.Background()
	db := &listOnlyDB{tables: []string{"wp_posts", "wp_options", "wp_users", "wp_woocommerce_orders"}}

	core, err := ResolveTables(ctx, db, TablesWPCore, "wp_", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"wp_options", "wp_users", "wp_posts"}, core)

	all, err := ResolveTables(ctx, db, TablesAllPrefix, "wp_", "")
	require.NoError(t, err)
	assert.Equal(t, db.tables, all)

	custom, err := ResolveTables(ctx, db, TablesCustom, "wp_", "a\nb")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, custom)

	_, err = ResolveTables(ctx, db, "everything", "wp_", "")
	assert.Error(t, err)
}
