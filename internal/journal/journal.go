// Package journal persists the agent's action and reflex history as
// compressed JSONL files with an optional sqlite index for queries.
package journal

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"voxelagent.ai/internal/agent"
	"voxelagent.ai/internal/logging"
)

const (
	PrefixActions  = "actions"
	PrefixReflexes = "reflexes"

	indexFile = "index.sqlite"
)

// ErrIndexDisabled is returned by queries when the journal runs without an
// index.
var ErrIndexDisabled = errors.New("journal index disabled")

type Options struct {
	Dir          string
	DisableIndex bool
}

// Journal implements agent.Recorder.
type Journal struct {
	dir      string
	log      *zap.Logger
	actions  *JSONLWriter
	reflexes *JSONLWriter
	index    *Index
}

func Open(opts Options, logger *zap.Logger) (*Journal, error) {
	if opts.Dir == "" {
		return nil, errors.New("journal: empty dir")
	}
	j := &Journal{
		dir:      opts.Dir,
		log:      logging.OrNop(logger).Named("journal"),
		actions:  NewJSONLWriter(opts.Dir, PrefixActions),
		reflexes: NewJSONLWriter(opts.Dir, PrefixReflexes),
	}
	if !opts.DisableIndex {
		idx, err := OpenIndex(filepath.Join(opts.Dir, indexFile))
		if err != nil {
			return nil, err
		}
		j.index = idx
	}
	return j, nil
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) RecordAction(r agent.ActionRecord) {
	if err := j.actions.Write(r); err != nil {
		j.log.Warn("write action", zap.String("id", r.ID), zap.Error(err))
	}
	j.index.WriteAction(r)
}

func (j *Journal) RecordProtocol(r agent.ProtocolReport) {
	if err := j.reflexes.Write(r); err != nil {
		j.log.Warn("write protocol run", zap.String("protocol", r.Protocol), zap.Error(err))
	}
	j.index.WriteProtocol(r)
}

func (j *Journal) RecentActions(ctx context.Context, limit int) ([]ActionRow, error) {
	if j.index == nil {
		return nil, ErrIndexDisabled
	}
	if err := j.index.Flush(ctx); err != nil {
		return nil, err
	}
	return j.index.RecentActions(ctx, limit)
}

func (j *Journal) RecentProtocols(ctx context.Context, limit int) ([]ProtocolRow, error) {
	if j.index == nil {
		return nil, ErrIndexDisabled
	}
	if err := j.index.Flush(ctx); err != nil {
		return nil, err
	}
	return j.index.RecentProtocols(ctx, limit)
}

func (j *Journal) Stats() IndexStats { return j.index.Stats() }

func (j *Journal) Close() error {
	err := errors.Join(j.actions.Close(), j.reflexes.Close())
	if j.index != nil {
		err = errors.Join(err, j.index.Close())
	}
	return err
}
