package persistence

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/contagion/internal/blob"
	"github.com/talgya/contagion/internal/engine"
)

// Header is the first line of every replication table.
var Header = []string{"Day", "S", "E", "I", "R"}

const zstdExt = ".zst"

// TableKey names the table for a 1-based replication number.
func TableKey(number int, compressed bool) string {
	key := fmt.Sprintf("replication_%d.csv", number)
	if compressed {
		key += zstdExt
	}
	return key
}

// CSVSink writes one Day,S,E,I,R table per replication into a blob store.
type CSVSink struct {
	Store    blob.Store
	Compress bool // zstd-compress each table
}

func (s *CSVSink) Name() string { return "csv" }

// WriteReplication encodes the table fully in memory and stores it with a
// single Put, so a failed write never leaves a truncated table behind.
func (s *CSVSink) WriteReplication(ctx context.Context, res engine.ReplicationResult) error {
	var buf bytes.Buffer
	if s.Compress {
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		if err := EncodeCSV(zw, res.Days); err != nil {
			_ = zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("zstd close: %w", err)
		}
	} else if err := EncodeCSV(&buf, res.Days); err != nil {
		return err
	}

	contentType := "text/csv"
	if s.Compress {
		contentType = "application/zstd"
	}
	key := TableKey(res.Number(), s.Compress)
	_, err := s.Store.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"seed":        strconv.FormatInt(res.Seed, 10),
			"replication": strconv.Itoa(res.Number()),
		},
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// EncodeCSV writes the header and one row per day.
func EncodeCSV(w io.Writer, days []engine.DailyCount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, len(Header))
	for _, d := range days {
		row[0] = strconv.Itoa(d.Day)
		row[1] = strconv.Itoa(d.Susceptible)
		row[2] = strconv.Itoa(d.Exposed)
		row[3] = strconv.Itoa(d.Infectious)
		row[4] = strconv.Itoa(d.Recovered)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeCSV parses a table written by EncodeCSV.
func DecodeCSV(r io.Reader) ([]engine.DailyCount, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %q", strings.Join(head, ","))
	}

	var days []engine.DailyCount
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var v [5]int
		for i, f := range rec {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", len(days)+1, Header[i], err)
			}
			v[i] = n
		}
		days = append(days, engine.DailyCount{Day: v[0], Susceptible: v[1], Exposed: v[2], Infectious: v[3], Recovered: v[4]})
	}
	return days, nil
}

// ReadTable loads a stored table, decompressing .zst keys.
func ReadTable(ctx context.Context, store blob.Store, key string) ([]engine.DailyCount, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.HasSuffix(key, zstdExt) {
		zr, err := zstd.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	days, err := DecodeCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return days, nil
}
