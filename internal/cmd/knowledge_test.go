package cmd

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/knowledge"
	"github.com/harrison/mender/internal/models"
)

// repairedProject runs one two-attempt repair and returns the project root.
func repairedProject(t *testing.T) string {
	t.Helper()
	root := setupProject(t)
	saveCrash(t, root)
	useOracle(t, &scriptedOracle{files: []string{"wrong.txt", "fixed.txt"}})

	_, _, err := execute(t, "repair", root)
	require.NoError(t, err)
	return root
}

func firstCrystal(t *testing.T, root string) *models.KnowledgeCrystal {
	t.Helper()
	store, err := knowledge.NewStore(filepath.Join(root, ".mender", "knowledge", "crystals.db"))
	require.NoError(t, err)
	defer store.Close()
	crystals, err := store.List(testContext(t), 1)
	require.NoError(t, err)
	require.Len(t, crystals, 1)
	return crystals[0]
}

func TestKnowledgeStats(t *testing.T) {
	root := repairedProject(t)
	c := firstCrystal(t, root)

	stdout, _, err := execute(t, "knowledge", "stats", root, "--signature", c.Signature)
	require.NoError(t, err)

	assert.Contains(t, stdout, "=== Knowledge Store ===")
	assert.Contains(t, stdout, "Schema:       v2")
	assert.Contains(t, stdout, "Crystals:     1")
	assert.Contains(t, stdout, "Successful:   1")
	assert.Contains(t, stdout, "Success rate: 100.0%")
	assert.Contains(t, stdout, "Approaches for "+c.Signature)
	assert.Contains(t, stdout, "create fixed.txt")
	assert.Contains(t, stdout, "create wrong.txt")
}

func TestKnowledgeStats_EmptyStore(t *testing.T) {
	root := setupProject(t)

	stdout, _, err := execute(t, "knowledge", "stats", root, "--signature", "deadbeef")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Crystals:     0")
	assert.NotContains(t, stdout, "Success rate")
	assert.Contains(t, stdout, "No approaches recorded")
}

func TestKnowledgeSchema(t *testing.T) {
	root := setupProject(t)

	stdout, _, err := execute(t, "knowledge", "schema", root)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "VERSION"))
	assert.True(t, strings.HasPrefix(lines[1], "1 "))
	assert.True(t, strings.HasPrefix(lines[2], "2 "))
}

func TestKnowledgeList(t *testing.T) {
	root := repairedProject(t)
	c := firstCrystal(t, root)

	stdout, _, err := execute(t, "knowledge", "list", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, c.ID)
	assert.Contains(t, stdout, "succeeded")

	stdout, _, err = execute(t, "knowledge", "list", root, "--signature", "not-a-signature")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No knowledge crystals recorded")
}

func TestKnowledgeShow(t *testing.T) {
	root := repairedProject(t)
	c := firstCrystal(t, root)

	stdout, _, err := execute(t, "knowledge", "show", c.ID, root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Crystal "+c.ID)
	assert.Contains(t, stdout, "Iterations: 2")
	assert.Contains(t, stdout, "Attempt 1: failed at validation")
	assert.Contains(t, stdout, "Attempt 2: passed")
	assert.Contains(t, stdout, "Approach:   create fixed.txt")

	stdout, _, err = execute(t, "knowledge", "show", c.ID, root, "--json")
	require.NoError(t, err)
	var decoded models.KnowledgeCrystal
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Equal(t, c.ID, decoded.ID)
	assert.Len(t, decoded.Attempts, 2)
}

func TestKnowledgeShow_UnknownID(t *testing.T) {
	root := setupProject(t)
	_, _, err := execute(t, "knowledge", "show", "nope", root)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestKnowledgeExport(t *testing.T) {
	root := repairedProject(t)

	t.Run("json", func(t *testing.T) {
		stdout, _, err := execute(t, "knowledge", "export", root)
		require.NoError(t, err)
		var crystals []models.KnowledgeCrystal
		require.NoError(t, json.Unmarshal([]byte(stdout), &crystals))
		require.Len(t, crystals, 1)
		assert.Len(t, crystals[0].Attempts, 2)
	})

	t.Run("csv to file", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "crystals.csv")
		_, _, err := execute(t, "knowledge", "export", root, "--format", "csv", "--output", out)
		require.NoError(t, err)

		f, err := os.Open(out)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "crystal_id", rows[0][0])
		assert.Equal(t, "validation", rows[1][8])
		assert.Equal(t, "", rows[2][8])
		assert.Equal(t, "create fixed.txt", rows[2][7])
	})

	t.Run("empty store", func(t *testing.T) {
		empty := setupProject(t)
		stdout, _, err := execute(t, "knowledge", "export", empty)
		require.NoError(t, err)
		assert.Equal(t, "[]", strings.TrimSpace(stdout))
	})

	t.Run("invalid format", func(t *testing.T) {
		_, _, err := execute(t, "knowledge", "export", root, "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestKnowledgeDBPathFlag(t *testing.T) {
	root := setupProject(t)
	dbPath := filepath.Join(t.TempDir(), "elsewhere.db")

	store, err := knowledge.NewStore(dbPath)
	require.NoError(t, err)
	_, err = store.Put(testContext(t), &models.KnowledgeCrystal{
		Signature: crash.Signature("boom", ""),
		CrashID:   "crash_20260101_000000",
		Status:    models.OutcomeExhausted,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	stdout, _, err := execute(t, "knowledge", "stats", root, "--db-path", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Crystals:     1")
	assert.Contains(t, stdout, "Failed:       1")
}
