// Package cdc implements the Change-Data-Capture Producer and Reader
// (§4.7): deterministic per-table change records derived from Table
// Operations, persisted alongside the action log and served to readers via
// version/timestamp range queries and a polling subscription. Grounded on
// the teacher's wal.go batching loop (a ticker-driven background goroutine
// draining a channel of pending entries), adapted here from a local WAL
// writer to a poll loop reading the object-store log other writers append
// to.
package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/atomic"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/storage"
)

// Operation is the single-letter CDC operation code used by consumer
// filters (§4.7 "operations⊆{c,u,d,r}").
type Operation string

const (
	OpInsert         Operation = "c"
	OpUpdatePreimage Operation = "u"
	OpUpdatePostimage Operation = "u"
	OpDelete         Operation = "d"
	OpReorg          Operation = "r"
)

// Record is one change-data-capture row.
type Record struct {
	Sequence   int64          `json:"sequence"`
	Version    int64          `json:"version"`
	Timestamp  int64          `json:"timestamp"`
	Operation  Operation      `json:"operation"`
	PrimaryKey string         `json:"primaryKey"`
	Data       map[string]any `json:"data,omitempty"`
}

func cdcPath(version int64) (string, error) {
	v, err := action.FormatVersion(version)
	if err != nil {
		return "", err
	}
	return "_delta_log/_cdc/" + v + ".json", nil
}

// Config is the `metadata.configuration` CDC block (§6 "CDC config").
type Config struct {
	Enabled      bool
	RetentionMs  int64
}

// ParseConfig reads the "cdc.enabled" flag out of a Metadata.Configuration
// map. RetentionMs is not read from the map; it is always the 7-day default.
func ParseConfig(configuration map[string]string) Config {
	cfg := Config{RetentionMs: 7 * 24 * 3600 * 1000}
	if configuration == nil {
		return cfg
	}
	cfg.Enabled = configuration["cdc.enabled"] == "true"
	return cfg
}

// Producer emits CDC records for one table's write operations, assigning
// each a sequence number that never regresses across commits (§4.7).
type Producer struct {
	backend   storage.Backend
	tablePath string
	enabled   bool
	seq       atomic.Int64
	metrics   *metrics
}

func NewProducer(backend storage.Backend, tablePath string, enabled bool) *Producer {
	p := &Producer{backend: backend, tablePath: tablePath, enabled: enabled}
	p.seq.Store(0)
	return p
}

// Seed resumes the sequence counter from the highest sequence number found
// in any existing CDC file, so a newly constructed Producer never reissues
// a sequence already observed by a reader.
func (p *Producer) Seed(ctx context.Context, upToVersion int64) error {
	if !p.enabled {
		return nil
	}
	var maxSeq int64
	for v := int64(0); v <= upToVersion; v++ {
		records, err := readVersionFile(ctx, p.backend, p.tablePath, v)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return err
		}
		for _, r := range records {
			if r.Sequence > maxSeq {
				maxSeq = r.Sequence
			}
		}
	}
	p.seq.Store(maxSeq)
	return nil
}

// Emit writes records for a just-committed version, stamping each with the
// next sequence number and the commit's nanosecond timestamp. A no-op
// returning nil when CDC is disabled for the table; with CDC enabled, an
// empty records slice returns errs.CDCEmptyWrite.
func (p *Producer) Emit(ctx context.Context, version int64, commitTimestampNanos int64, records []Record) error {
	if !p.enabled {
		return nil
	}
	if len(records) == 0 {
		return errs.CDC(errs.CDCEmptyWrite, "no records to emit")
	}

	for i := range records {
		records[i].Sequence = p.seq.Add(1)
		records[i].Version = version
		records[i].Timestamp = commitTimestampNanos
	}

	var buf strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return errs.Wrap(errs.KindCDC, err, "encode cdc record")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	p2, err := cdcPath(version)
	if err != nil {
		return err
	}
	if err := p.backend.Write(ctx, p.tablePath+"/"+p2, []byte(buf.String())); err != nil {
		return errs.CDC(errs.CDCStorageError, fmt.Sprintf("write cdc records for version %d: %v", version, err))
	}
	if p.metrics != nil {
		p.metrics.recordsEmitted.Add(float64(len(records)))
	}
	return nil
}

func readVersionFile(ctx context.Context, backend storage.Backend, tablePath string, version int64) ([]Record, error) {
	p, err := cdcPath(version)
	if err != nil {
		return nil, err
	}
	data, err := backend.Read(ctx, tablePath+"/"+p)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	out := make([]Record, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, errs.CDC(errs.CDCParseError, err.Error())
		}
		out = append(out, r)
	}
	return out, nil
}
