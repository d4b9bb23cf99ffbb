package importer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/canonical"
	"github.com/chatvault/chatvault/internal/checkpoint"
)

// WorkUnit is one fetchable conversation plus its resume cursor. Units are
// ephemeral: they exist only for the duration of a run, with their durable
// trace living in the checkpoint's completion sets and cursor map.
type WorkUnit struct {
	Conversation adapter.Conversation
	Key          string // canonical thread id, used for checkpoint bookkeeping
	Cursor       *checkpoint.Cursor
}

// Discover enumerates every fetchable conversation for the session's
// configuration, excluding anything the checkpoint already marks complete.
// Each surviving unit carries any previously stored resume cursor, so a
// conversation interrupted mid-fetch continues exactly where it stopped.
//
// A container with zero conversations yields nothing; a filter that excludes
// everything yields an empty work list. Neither is an error.
func Discover(ctx context.Context, client adapter.Client, cp *checkpoint.Store, log *zap.Logger) ([]WorkUnit, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := cp.Config()
	platform := client.Platform()

	containerFilter := toSet(cfg.Containers)
	typeFilter := toSet(cfg.Types)

	containers, err := client.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var units []WorkUnit
	for _, container := range containers {
		if len(containerFilter) > 0 && !containerFilter[container.NativeID] && !containerFilter[container.Name] {
			continue
		}
		if cp.IsContainerProcessed(container.NativeID) {
			log.Debug("skipping completed container", zap.String("container", container.NativeID))
			continue
		}

		conversations, err := client.ListConversations(ctx, container, cfg.IncludeArchived)
		if err != nil {
			return nil, fmt.Errorf("list conversations in %s: %w", container.NativeID, err)
		}
		for _, conv := range conversations {
			if unit, ok := admit(conv, platform, typeFilter, cfg.IncludeArchived, cp); ok {
				units = append(units, unit)
			}
		}
	}

	if cfg.IncludeDMs {
		directs, err := client.ListDirectConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list direct conversations: %w", err)
		}
		for _, conv := range directs {
			if unit, ok := admit(conv, platform, typeFilter, cfg.IncludeArchived, cp); ok {
				units = append(units, unit)
			}
		}
	}

	log.Info("discovery complete",
		zap.Int("containers", len(containers)),
		zap.Int("units", len(units)))
	return units, nil
}

func admit(conv adapter.Conversation, platform string, typeFilter map[string]bool, includeArchived bool, cp *checkpoint.Store) (WorkUnit, bool) {
	if conv.Archived && !includeArchived {
		return WorkUnit{}, false
	}
	if len(typeFilter) > 0 && !typeFilter[conv.Type] {
		return WorkUnit{}, false
	}
	key := canonical.ThreadID(platform, conv.Type, conv.NativeID)
	if cp.IsUnitProcessed(key) {
		return WorkUnit{}, false
	}
	unit := WorkUnit{Conversation: conv, Key: key}
	if cursor, ok := cp.Cursor(key); ok {
		unit.Cursor = &cursor
	}
	return unit, true
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
