package rawstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

func testRecords() []model.RawRecord {
	return []model.RawRecord{
		{SourceCode: "alpha", Data: map[string]any{"Ref": "2024/1"}},
		{SourceCode: "alpha", Data: map[string]any{"Ref": "2024/2"}},
	}
}

func TestWriteAndRead(t *testing.T) {
	archive := New(t.TempDir())
	fixed := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	archive.nowFunc = func() time.Time { return fixed }

	batchID, err := archive.Write("alpha", "run-1", testRecords())
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	batch, err := archive.Read("alpha", batchID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", batch.SourceCode)
	assert.Equal(t, "run-1", batch.RunID)
	assert.Equal(t, 2, batch.RecordCount)
	assert.Equal(t, "2024/1", batch.Records[0].Data["Ref"])
}

func TestListByDay(t *testing.T) {
	archive := New(t.TempDir())
	fixed := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	archive.nowFunc = func() time.Time { return fixed }

	id1, err := archive.Write("alpha", "run-1", testRecords())
	require.NoError(t, err)
	id2, err := archive.Write("alpha", "run-2", testRecords())
	require.NoError(t, err)

	ids, err := archive.List("alpha", fixed)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{id1, id2}, ids)

	empty, err := archive.List("alpha", fixed.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadUnknownBatch(t *testing.T) {
	archive := New(t.TempDir())
	_, err := archive.Write("alpha", "run-1", testRecords())
	require.NoError(t, err)

	_, err = archive.Read("alpha", "nope")
	assert.Error(t, err)
}
