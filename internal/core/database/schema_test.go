package db

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaScript(t *testing.T) {
	b, err := schemaFS.ReadFile("scripts/initdb.sql")
	require.NoError(t, err)
	script := string(b)

	t.Run("Should create every column the store uses", func(t *testing.T) {
		for table, cols := range storeColumns {
			body := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + ` \((.*?)\n\);`).FindStringSubmatch(script)
			require.Len(t, body, 2, table)
			for _, c := range cols {
				assert.Regexp(t, `(?m)^\s+`+c+`\s`, body[1], table+"."+c)
			}
		}
	})

	t.Run("Should record the current version", func(t *testing.T) {
		assert.Contains(t, script, "INSERT INTO contexta_meta (version) VALUES (1)")
		assert.Equal(t, 1, schemaVersion)
	})
}

func TestMissingColumns(t *testing.T) {
	all := make(map[string]bool)
	for table, cols := range storeColumns {
		for _, c := range cols {
			all[table+"."+c] = true
		}
	}

	t.Run("Should report nothing for a complete schema", func(t *testing.T) {
		assert.Empty(t, missingColumns(all))
	})

	t.Run("Should report every column of an absent table", func(t *testing.T) {
		assert.Len(t, missingColumns(map[string]bool{}), len(storeColumns["documents"])+len(storeColumns["document_chunks"]))
	})

	t.Run("Should flag a chunk table without span columns", func(t *testing.T) {
		legacy := make(map[string]bool)
		for k := range all {
			legacy[k] = true
		}
		delete(legacy, "document_chunks.start_offset")
		delete(legacy, "document_chunks.end_offset")
		assert.Equal(t, []string{"document_chunks.end_offset", "document_chunks.start_offset"}, missingColumns(legacy))
	})
}
