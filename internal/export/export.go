// Package export reads and writes review records as CSV and JSON files.
// CSV is the spreadsheet-facing format with a fixed column set; JSON keeps
// the full record and round-trips through the import command.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"reviewlens/internal/domain"
)

// csvHeader is the column contract. Order matters: downstream spreadsheets
// key on position as much as on name.
var csvHeader = []string{"reviewer_name", "rating", "content", "date", "date_text", "photo_count"}

const csvDateLayout = "2006-01-02"

// Record is the on-disk JSON form of a review. Dates are RFC 3339 strings,
// empty when the review never resolved to an absolute date.
type Record struct {
	ReviewerName string `json:"reviewer_name"`
	Rating       int    `json:"rating"`
	Content      string `json:"content"`
	Date         string `json:"date,omitempty"`
	DateText     string `json:"date_text,omitempty"`
	PhotoCount   int    `json:"photo_count,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

func toRecord(r domain.Review) Record {
	rec := Record{
		ReviewerName: r.ReviewerName,
		Rating:       r.Rating,
		Content:      r.Content,
		DateText:     r.DateText,
		PhotoCount:   r.PhotoCount,
		BusinessName: r.BusinessName,
	}
	if r.Dated() {
		rec.Date = r.Date.UTC().Format(time.RFC3339)
	}
	return rec
}

func (rec Record) review() domain.Review {
	r := domain.Review{
		ReviewerName: rec.ReviewerName,
		Rating:       rec.Rating,
		Content:      rec.Content,
		DateText:     rec.DateText,
		PhotoCount:   rec.PhotoCount,
		BusinessName: rec.BusinessName,
	}
	if rec.Date != "" {
		if t, err := time.Parse(time.RFC3339, rec.Date); err == nil {
			r.Date = t
		} else if t, err := time.Parse(csvDateLayout, rec.Date); err == nil {
			r.Date = t
		}
	}
	return r
}

// WriteCSV writes reviews in the fixed column order. Undated reviews get an
// empty date cell, never a zero-value timestamp.
func WriteCSV(w io.Writer, reviews []domain.Review) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range reviews {
		date := ""
		if r.Dated() {
			date = r.Date.UTC().Format(csvDateLayout)
		}
		row := []string{
			r.ReviewerName,
			strconv.Itoa(r.Rating),
			r.Content,
			date,
			r.DateText,
			strconv.Itoa(r.PhotoCount),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes reviews as an indented array of full records.
func WriteJSON(w io.Writer, reviews []domain.Review) error {
	recs := make([]Record, 0, len(reviews))
	for _, r := range reviews {
		recs = append(recs, toRecord(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// ReadJSON parses a file previously produced by WriteJSON.
func ReadJSON(r io.Reader) ([]domain.Review, error) {
	var recs []Record
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, domain.E(domain.KindValidation, "parse reviews json", err)
	}
	reviews := make([]domain.Review, 0, len(recs))
	for _, rec := range recs {
		reviews = append(reviews, rec.review())
	}
	return reviews, nil
}

// SaveCSV writes reviews to path, creating parent directories as needed.
func SaveCSV(path string, reviews []domain.Review) error {
	return save(path, func(w io.Writer) error { return WriteCSV(w, reviews) })
}

// SaveJSON writes reviews to path, creating parent directories as needed.
func SaveJSON(path string, reviews []domain.Review) error {
	return save(path, func(w io.Writer) error { return WriteJSON(w, reviews) })
}

// LoadJSON reads reviews from a JSON file.
func LoadJSON(path string) ([]domain.Review, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Ef(domain.KindStorage, "open %s: %v", path, err)
	}
	defer f.Close()
	return ReadJSON(f)
}

func save(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.Ef(domain.KindStorage, "create %s: %v", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return domain.Ef(domain.KindStorage, "create %s: %v", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return domain.E(domain.KindStorage, fmt.Sprintf("write %s", path), err)
	}
	if err := f.Close(); err != nil {
		return domain.Ef(domain.KindStorage, "close %s: %v", path, err)
	}
	return nil
}
