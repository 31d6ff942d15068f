package export

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewlens/internal/domain"
)

func sampleReviews() []domain.Review {
	return []domain.Review{
		{
			ReviewerName: "Alina",
			Rating:       5,
			Content:      "great food, \"almost\" perfect",
			Date:         time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC),
			DateText:     "2 months ago",
			PhotoCount:   2,
			BusinessName: "TestCafe",
		},
		{
			ReviewerName: "Boris",
			Rating:       1,
			Content:      "bad parking",
			BusinessName: "TestCafe",
		},
	}
}

func TestWriteCSVColumnContract(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReviews()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t,
		[]string{"reviewer_name", "rating", "content", "date", "date_text", "photo_count"},
		rows[0])
	require.Equal(t,
		[]string{"Alina", "5", "great food, \"almost\" perfect", "2026-03-05", "2 months ago", "2"},
		rows[1])
	// undated review keeps an empty date cell
	require.Equal(t, []string{"Boris", "1", "bad parking", "", "", "0"}, rows[2])
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReviews()))

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	require.Equal(t, sampleReviews(), got)
}

func TestReadJSONRejectsGarbage(t *testing.T) {
	_, err := ReadJSON(strings.NewReader("{not json"))
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSaveAndLoadJSONCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "cafe.json")
	require.NoError(t, SaveJSON(path, sampleReviews()))

	got, err := LoadJSON(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Alina", got[0].ReviewerName)
}

func TestLoadJSONMissingFile(t *testing.T) {
	_, err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.Equal(t, domain.KindStorage, domain.KindOf(err))
}
