package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/record"
)

// Emitted is one canonical message surfaced by the orchestrator, tagged with
// the unit it came from.
type Emitted struct {
	Unit    WorkUnit
	Message *record.Message
}

// Orchestrator drives bounded-concurrency, rate-limited, paginated retrieval
// of a work list. Within one conversation, each page's records are emitted
// oldest to newest; across conversations in the same batch, no ordering is
// guaranteed.
type Orchestrator struct {
	Client     adapter.Client
	Checkpoint *checkpoint.Store
	Log        *zap.Logger

	// Optional hooks for progress reporting. Called from fetch goroutines.
	OnUnitStart func(WorkUnit)
	OnUnitDone  func(WorkUnit, error)
}

// Run fetches the work list and returns a channel of emitted records. The
// channel closes when all units have settled or ctx is cancelled. Because
// the checkpoint cursor advances per page, a caller that stops consuming
// loses at most one page of progress per in-flight unit.
//
// A single unit's failure is logged and counted; the rest of its batch
// continues and is awaited to completion independently.
func (o *Orchestrator) Run(ctx context.Context, units []WorkUnit) <-chan Emitted {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := o.Checkpoint.Config()
	out := make(chan Emitted)

	go func() {
		defer close(out)
		for start := 0; start < len(units); start += cfg.Concurrency {
			end := start + cfg.Concurrency
			if end > len(units) {
				end = len(units)
			}
			batch := units[start:end]

			var wg sync.WaitGroup
			for _, unit := range batch {
				wg.Add(1)
				go func(u WorkUnit) {
					defer wg.Done()
					if o.OnUnitStart != nil {
						o.OnUnitStart(u)
					}
					err := o.fetchUnit(ctx, u, out, log)
					if err != nil && !errors.Is(err, context.Canceled) {
						log.Warn("unit fetch failed",
							zap.String("unit", u.Key),
							zap.String("name", u.Conversation.Name),
							zap.Error(err))
						o.Checkpoint.AddErrors(1)
						o.Checkpoint.MarkDirty()
					}
					if o.OnUnitDone != nil {
						o.OnUnitDone(u, err)
					}
				}(unit)
			}
			wg.Wait()

			if ctx.Err() != nil {
				return
			}
			if end < len(units) {
				select {
				case <-time.After(time.Duration(cfg.BatchDelayMS) * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// fetchUnit pages one conversation backward from its most recent record (or
// its resume cursor) until history is exhausted, the since bound is reached,
// or the per-channel maximum is hit.
func (o *Orchestrator) fetchUnit(ctx context.Context, u WorkUnit, out chan<- Emitted, log *zap.Logger) error {
	cfg := o.Checkpoint.Config()

	before := ""
	count := 0
	if u.Cursor != nil {
		before = u.Cursor.Before
		count = u.Cursor.Count
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A resumed cursor may already sit at the bound; no page is owed then.
		if cfg.MaxPerChannel > 0 && count >= cfg.MaxPerChannel {
			break
		}
		page, err := o.Client.FetchPage(ctx, u.Conversation, before, cfg.PageSize)
		if err != nil {
			return fmt.Errorf("fetch page of %s: %w", u.Conversation.NativeID, err)
		}
		if len(page) == 0 {
			break
		}

		// Oldest-to-newest within the page keeps emission chronological
		// inside a conversation.
		done := false
		for i := len(page) - 1; i >= 0; i-- {
			raw := page[i]
			if cfg.Since != nil && raw.Timestamp.Before(*cfg.Since) {
				// Everything below the since bound is irrelevant history:
				// finish this page's in-range records, then stop paging.
				done = true
				continue
			}
			if cfg.Until != nil && raw.Timestamp.After(*cfg.Until) {
				// Newer than the window, but older history may still be in
				// range further down, so keep paging.
				o.Checkpoint.AddSkipped(1)
				continue
			}

			msg, err := o.Client.Convert(raw, u.Conversation)
			if err != nil {
				log.Warn("record conversion failed",
					zap.String("unit", u.Key),
					zap.String("native_id", raw.NativeID),
					zap.Error(err))
				o.Checkpoint.AddSkipped(1)
				continue
			}

			select {
			case out <- Emitted{Unit: u, Message: msg}:
			case <-ctx.Done():
				return ctx.Err()
			}
			count++
			o.Checkpoint.AddMessages(1)
			o.Checkpoint.WidenDateRange(msg.Timestamp)

			if cfg.MaxPerChannel > 0 && count >= cfg.MaxPerChannel {
				done = true
				break
			}
		}

		// The oldest native id just seen is the resume point if the process
		// stops here.
		before = page[len(page)-1].NativeID
		o.Checkpoint.SetCursor(u.Key, before, count)
		o.Checkpoint.MarkDirty()

		if done || len(page) < cfg.PageSize {
			break
		}
	}

	o.markUnitProcessed(u)
	o.Checkpoint.MarkDirty()
	return nil
}

func (o *Orchestrator) markUnitProcessed(u WorkUnit) {
	switch u.Conversation.Type {
	case record.ThreadTypeThread, record.ThreadTypeArchivedThread:
		o.Checkpoint.MarkThreadProcessed(u.Key)
	default:
		o.Checkpoint.MarkConversationProcessed(u.Key)
	}
}
