package migrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/target"
)

// WatermarkService computes the incremental lower bound for each table.
type WatermarkService struct {
	store *target.Store
	// globalFloor optionally widens every sync window backward.
	globalFloor *time.Time
	logger      *slog.Logger
}

// NewWatermarkService builds the service. A nil floor disables widening.
func NewWatermarkService(store *target.Store, globalFloor *time.Time, logger *slog.Logger) *WatermarkService {
	return &WatermarkService{store: store, globalFloor: globalFloor, logger: logger}
}

// ForTable returns the effective watermark for one table, honoring the
// per-table flags: force_reimport bypasses the watermark entirely.
func (ws *WatermarkService) ForTable(ctx context.Context, ts *schema.TableSchema) (*time.Time, error) {
	if ts.ForceReimport {
		ws.logger.Info("force reimport enabled, bypassing watermark", slog.String("table", ts.Name))
		return nil, nil
	}

	last, err := ws.store.LastWatermark(ctx, ts.Name)
	if err != nil {
		return nil, err
	}

	effective := CombineFloor(last, ws.globalFloor)
	if effective != nil && ws.globalFloor != nil && effective.Equal(*ws.globalFloor) && last != nil && !last.Equal(*ws.globalFloor) {
		ws.logger.Info("global threshold is earlier, extending sync window backward",
			slog.String("table", ts.Name), slog.Time("threshold", *ws.globalFloor))
	}
	return effective, nil
}

// CombineFloor merges a table watermark with the optional global floor by
// taking the earlier of the two. Either side may be nil.
func CombineFloor(tableDate, globalFloor *time.Time) *time.Time {
	switch {
	case globalFloor == nil:
		return tableDate
	case tableDate == nil:
		return globalFloor
	case globalFloor.Before(*tableDate):
		return globalFloor
	default:
		return tableDate
	}
}
