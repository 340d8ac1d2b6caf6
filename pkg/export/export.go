// Package export renders a ledger snapshot for the visitor's data-access
// requests and for archival.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/glimpse/pkg/ledger"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// ParseFormat accepts a format name; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Extension is the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == "" {
		return string(FormatJSON)
	}
	return string(f)
}

// Write encodes snap to w.
func Write(w io.Writer, snap ledger.Snapshot, f Format) error {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatJSON, "":
		data, err = exportJSON(snap)
	case FormatNDJSON:
		data, err = exportNDJSON(snap)
	case FormatCSV:
		data, err = exportCSV(snap)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// exportJSON writes all four collections as one indented object. Empty
// collections are written as [] rather than null.
func exportJSON(snap ledger.Snapshot) ([]byte, error) {
	if snap.PageViews == nil {
		snap.PageViews = []ledger.PageView{}
	}
	if snap.Events == nil {
		snap.Events = []ledger.Event{}
	}
	if snap.Sessions == nil {
		snap.Sessions = []ledger.Session{}
	}
	if snap.Consents == nil {
		snap.Consents = []ledger.ConsentRecord{}
	}
	return json.MarshalIndent(snap, "", "  ")
}

type ndjsonLine struct {
	Kind   ledger.Kind `json:"kind"`
	Record interface{} `json:"record"`
}

// exportNDJSON writes one {"kind","record"} line per record.
func exportNDJSON(snap ledger.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	encode := func(kind ledger.Kind, rec interface{}) error {
		if err := encoder.Encode(ndjsonLine{Kind: kind, Record: rec}); err != nil {
			return fmt.Errorf("failed to encode %s record: %w", kind, err)
		}
		return nil
	}
	for _, r := range snap.PageViews {
		if err := encode(ledger.KindPageViews, r); err != nil {
			return nil, err
		}
	}
	for _, r := range snap.Events {
		if err := encode(ledger.KindEvents, r); err != nil {
			return nil, err
		}
	}
	for _, r := range snap.Sessions {
		if err := encode(ledger.KindSessions, r); err != nil {
			return nil, err
		}
	}
	for _, r := range snap.Consents {
		if err := encode(ledger.KindConsents, r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"Kind",
	"ID",
	"Timestamp",
	"SessionID",
	"UserID",
	"Name",
	"Path",
	"Title",
	"Referrer",
	"DeviceType",
	"Browser",
	"OS",
	"ScreenWidth",
	"ScreenHeight",
	"Country",
	"Payload",
}

// exportCSV flattens page views and events into one table.
func exportCSV(snap ledger.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, pv := range snap.PageViews {
		row := []string{
			string(ledger.KindPageViews),
			pv.ID,
			formatTime(pv.Timestamp),
			pv.SessionID,
			pv.UserID,
			"",
			pv.Path,
			pv.Title,
			pv.Referrer,
			pv.DeviceType,
			pv.Browser,
			pv.OS,
			strconv.Itoa(pv.ScreenWidth),
			strconv.Itoa(pv.ScreenHeight),
			pv.Country,
			"",
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	for _, ev := range snap.Events {
		payload := ""
		if len(ev.Payload) > 0 {
			b, err := json.Marshal(ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode payload of %s: %w", ev.ID, err)
			}
			payload = string(b)
		}
		row := []string{
			string(ledger.KindEvents),
			ev.ID,
			formatTime(ev.Timestamp),
			ev.SessionID,
			ev.UserID,
			ev.Name,
			ev.Path,
			"", "", "", "", "", "", "", "",
			payload,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
