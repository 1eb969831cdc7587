package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"coharvest/native/bidpool"
)

// Source is the read side of the engine used by the exporter.
type Source interface {
	Round(ctx context.Context, id uint64) (*bidpool.RoundInfo, error)
	Pools(ctx context.Context, round uint64) ([]*bidpool.SlotPool, error)
	BidsByRound(ctx context.Context, round uint64, page bidpool.PageRequest) ([]uint64, error)
	Bid(ctx context.Context, id uint64) (*bidpool.Bid, error)
}

// Result describes a written export.
type Result struct {
	Round uint64 `json:"round"`
	Path  string `json:"path"`
	Rows  int    `json:"rows"`
}

// Exporter writes per-round settlement reports as parquet files.
type Exporter struct {
	source Source
	dir    string
}

// New returns an exporter writing into dir.
func New(source Source, dir string) (*Exporter, error) {
	if source == nil {
		return nil, fmt.Errorf("export: source required")
	}
	if dir == "" {
		return nil, fmt.Errorf("export: directory required")
	}
	return &Exporter{source: source, dir: dir}, nil
}

// Row is one bid in the export.
type Row struct {
	RoundID        int64  `parquet:"name=round_id, type=INT64"`
	BidID          int64  `parquet:"name=bid_id, type=INT64"`
	Slot           int32  `parquet:"name=slot, type=INT32"`
	Bidder         string `parquet:"name=bidder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp      int64  `parquet:"name=timestamp, type=INT64"`
	Amount         string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountReceived string `parquet:"name=amount_received, type=BYTE_ARRAY, convertedtype=UTF8"`
	Residue        string `parquet:"name=residue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Distributed    bool   `parquet:"name=distributed, type=BOOLEAN"`
	FillRatio      string `parquet:"name=fill_ratio, type=BYTE_ARRAY, convertedtype=UTF8"`
	PayoutRate     string `parquet:"name=payout_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExchangeRate   string `parquet:"name=exchange_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportRound writes every bid of the round, in id order, to
// <dir>/round-<id>.parquet.
func (e *Exporter) ExportRound(ctx context.Context, round uint64) (*Result, error) {
	info, err := e.source.Round(ctx, round)
	if err != nil {
		return nil, err
	}
	pools, err := e.source.Pools(ctx, round)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[uint8]*bidpool.SlotPool, len(pools))
	for _, pool := range pools {
		bySlot[pool.Slot] = pool
	}
	rate := info.Distribution.ExchangeRate.String()

	var rows []*Row
	page := bidpool.PageRequest{Limit: bidpool.MaxLimit, Order: bidpool.OrderAscending}
	for {
		ids, err := e.source.BidsByRound(ctx, round, page)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			bid, err := e.source.Bid(ctx, id)
			if err != nil {
				return nil, err
			}
			rows = append(rows, rowFor(bid, bySlot[bid.Slot], rate))
		}
		if len(ids) < bidpool.MaxLimit {
			break
		}
		page.StartAfter = ids[len(ids)-1]
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create directory: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("round-%06d.parquet", round))
	if err := writeParquet(path, rows); err != nil {
		return nil, err
	}
	return &Result{Round: round, Path: path, Rows: len(rows)}, nil
}

func rowFor(bid *bidpool.Bid, pool *bidpool.SlotPool, rate string) *Row {
	row := &Row{
		RoundID:        int64(bid.Round),
		BidID:          int64(bid.ID),
		Slot:           int32(bid.Slot),
		Bidder:         bid.Bidder.String(),
		Timestamp:      int64(bid.Timestamp),
		Amount:         bid.Amount.Dec(),
		AmountReceived: bid.AmountReceived.Dec(),
		Residue:        bid.Residue.Dec(),
		Distributed:    bid.Distributed,
		FillRatio:      "0",
		PayoutRate:     "0",
		ExchangeRate:   rate,
	}
	if pool != nil {
		row.FillRatio = pool.IndexSnapshot.String()
		row.PayoutRate = pool.ReceivedPerToken.String()
	}
	return row
}

func writeParquet(path string, rows []*Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
