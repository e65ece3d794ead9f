package reportqueue

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johnrirwin/avatarguard/internal/models"
)

const (
	// ReportMarker identifies a structured report line.
	ReportMarker = "REPORT:"
	// legacyReportMarker is still accepted from older upload services.
	legacyReportMarker = "REPORTE:"

	// MaxRecordBytes bounds a single queued line.
	MaxRecordBytes = 8 << 10

	accountOpen  = "-->"
	accountClose = "<--"
)

// FormatReport renders a structured report line for account.
func FormatReport(account, reason string) string {
	return fmt.Sprintf("%s account=%s%s%s reason=%s",
		ReportMarker, accountOpen, singleLine(account), accountClose, singleLine(reason))
}

// ParseRecord classifies a queued line. Structured lines whose account span is
// missing or empty are returned with Malformed set and no Account; they are
// still delivered as broadcasts.
func ParseRecord(line string) models.ReportRecord {
	line = strings.TrimSpace(line)
	record := models.ReportRecord{Line: line, Kind: models.ReportDiagnostic}

	if !strings.Contains(line, ReportMarker) && !strings.Contains(line, legacyReportMarker) {
		return record
	}
	record.Kind = models.ReportStructured

	open := strings.Index(line, accountOpen)
	if open < 0 {
		record.Malformed = true
		return record
	}
	start := open + len(accountOpen)
	end := strings.Index(line[start:], accountClose)
	if end < 0 {
		record.Malformed = true
		return record
	}

	account := strings.TrimSpace(line[start : start+end])
	if account == "" || strings.ContainsAny(account, " \t") {
		record.Malformed = true
		return record
	}

	record.Account = account
	return record
}

func singleLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(strings.TrimSpace(s))
}

// clipRecord cuts s to at most MaxRecordBytes on a rune boundary.
func clipRecord(s string) string {
	if len(s) <= MaxRecordBytes {
		return s
	}
	cut := MaxRecordBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
