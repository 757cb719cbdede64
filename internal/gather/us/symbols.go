package us

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadCSVSymbols reads the first column of a CSV file with a header row and
// returns the symbols upper-cased, in file order, without duplicates.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	return MergeSymbols(firstColumn(records[1:])), nil
}

func firstColumn(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out
}

// MergeSymbols upper-cases and trims every symbol of every list and drops
// blanks and duplicates, keeping first-seen order.
func MergeSymbols(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			sym := strings.ToUpper(strings.TrimSpace(s))
			if sym == "" {
				continue
			}
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}
