package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/updownlabs/updown/internal/domain"
)

// MarketArchiveStore provides the read access the archiver needs from the
// ledger. Declared narrowly so the archiver does not depend on the full
// store interface.
type MarketArchiveStore interface {
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// marketArchive is the object written per settled market: the final ledger
// record plus every journal event that touched the market.
type marketArchive struct {
	Market marketRecord   `json:"market"`
	Events []domain.Event `json:"events"`
}

// marketRecord mirrors the ledger row with monetary values as decimal
// strings.
type marketRecord struct {
	ID                uint64 `json:"id"`
	Creator           string `json:"creator"`
	Asset             string `json:"asset"`
	ReferencePrice    uint64 `json:"reference_price"`
	Question          string `json:"question"`
	EndTime           uint64 `json:"end_time"`
	Outcome           string `json:"outcome"`
	TotalUp           string `json:"total_up"`
	TotalDown         string `json:"total_down"`
	CreatorCommission string `json:"creator_commission"`
}

// Archiver implements domain.Archiver: it exports each settled market and
// its event history as one JSON object under archive/markets/. Markets that
// already have an archive object are skipped, so runs are idempotent.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets MarketArchiveStore
	journal domain.EventJournal
	logger  *slog.Logger
}

// NewArchiver creates an Archiver over the given stores and blob backend.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, markets MarketArchiveStore, journal domain.EventJournal, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		markets: markets,
		journal: journal,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled uploads every settled, not-yet-archived market and returns
// the number of markets archived in this run.
func (a *Archiver) ArchiveSettled(ctx context.Context) (int, error) {
	events, err := a.loadJournal(ctx)
	if err != nil {
		return 0, err
	}
	byMarket := groupByMarket(events)

	archived := 0
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		page, err := a.markets.ListMarkets(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive list markets: %w", err)
		}
		if len(page) == 0 {
			return archived, nil
		}

		for _, m := range page {
			if !m.Resolved {
				continue
			}

			path := archivePath(m.ID)
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return archived, fmt.Errorf("s3blob: archive check %s: %w", path, err)
			}
			if exists {
				continue
			}

			if err := a.put(ctx, path, m, byMarket[m.ID]); err != nil {
				return archived, err
			}

			archived++
			a.logger.Info("archived settled market",
				slog.Uint64("market_id", m.ID),
				slog.String("path", path),
			)
		}
	}
}

func (a *Archiver) put(ctx context.Context, path string, m domain.Market, events []domain.Event) error {
	record := marketArchive{
		Market: marketRecord{
			ID:                m.ID,
			Creator:           m.Creator.Hex(),
			Asset:             m.Asset.String(),
			ReferencePrice:    m.ReferencePrice,
			Question:          m.Question,
			EndTime:           m.EndTime,
			Outcome:           m.Outcome.String(),
			TotalUp:           domain.BigString(m.TotalUp),
			TotalDown:         domain.BigString(m.TotalDown),
			CreatorCommission: domain.BigString(m.CreatorCommission),
		},
		Events: events,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal market %d: %w", m.ID, err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
	}
	return nil
}

// loadJournal pages through the full event journal.
func (a *Archiver) loadJournal(ctx context.Context) ([]domain.Event, error) {
	var all []domain.Event
	var afterSeq uint64
	const pageSize = 1000

	for {
		page, err := a.journal.List(ctx, afterSeq, pageSize)
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive load journal: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		afterSeq = page[len(page)-1].Seq
	}
}

// groupByMarket buckets events by the market_id in their payload. Events
// without one (platform commission withdrawals) are dropped; they belong to
// no single market's history.
func groupByMarket(events []domain.Event) map[uint64][]domain.Event {
	out := make(map[uint64][]domain.Event)
	for _, ev := range events {
		var head struct {
			MarketID *uint64 `json:"market_id"`
		}
		if err := json.Unmarshal(ev.Payload, &head); err != nil || head.MarketID == nil {
			continue
		}
		out[*head.MarketID] = append(out[*head.MarketID], ev)
	}
	return out
}

// archivePath builds the S3 key for a settled market's archive object.
//
//	archive/markets/42.json
func archivePath(id uint64) string {
	return fmt.Sprintf("archive/markets/%d.json", id)
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
