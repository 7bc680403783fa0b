package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"engagement-scraper/pkg/types"
)

// CSVHeader is consumed by existing spreadsheets; column order and text
// must not change.
const CSVHeader = "Name,Company,Job Title,Profile URL"

// WriteCSV writes one row per profile. Every value is quoted with internal
// quotes doubled, and an empty value is written as "Not specified".
func WriteCSV(w io.Writer, profiles []types.EnrichedProfile) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return err
	}
	for _, p := range profiles {
		line := strings.Join([]string{
			quote(p.Name),
			quote(p.Company),
			quote(p.JobTitle),
			quote(p.ProfileURL),
		}, ",")
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quote(s string) string {
	if strings.TrimSpace(s) == "" {
		s = types.NotSpecified
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteJSON writes the whole envelope, indented.
func WriteJSON(w io.Writer, result types.ScrapeResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// Filename is the download name of an export.
func Filename(prefix, ext string, id int64) string {
	return fmt.Sprintf("%s_%d.%s", prefix, id, ext)
}
