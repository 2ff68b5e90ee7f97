package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelagent.ai/internal/agent"
)

func TestJournal_RecordsAndQueries(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Options{Dir: dir}, nil)
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.RecordAction(agent.ActionRecord{ID: "a1", Op: "move_to", Source: agent.SourceOperator, Description: "moving to 1, 64, 1", StartedAt: t0, Duration: 1500 * time.Millisecond, OK: true})
	j.RecordAction(agent.ActionRecord{ID: "a2", Op: "mine_block", Source: agent.SourceReflex, StartedAt: t0.Add(time.Second), OK: false, Code: agent.CodeTargetNotFound, Error: "no block at 0, 0, 0"})
	j.RecordProtocol(agent.ProtocolReport{
		Protocol:  agent.ProtocolDanger,
		Trigger:   "damage",
		StartedAt: t0,
		Threats:   2,
		Outcome:   agent.OutcomeIncomplete,
		Steps: []agent.StepResult{
			{Step: "equip_weapon", Target: "stone_axe"},
			{Step: "attack", Target: "zombie", Err: errors.New("out of reach"), Error: "out of reach"},
		},
	})

	ctx := context.Background()
	acts, err := j.RecentActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "a2", acts[0].ID)
	assert.False(t, acts[0].OK)
	assert.Equal(t, string(agent.CodeTargetNotFound), acts[0].Code)
	assert.Equal(t, "a1", acts[1].ID)
	assert.Equal(t, int64(1500), acts[1].DurationMS)
	assert.True(t, acts[1].OK)

	runs, err := j.RecentProtocols(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, agent.ProtocolDanger, runs[0].Protocol)
	assert.Equal(t, 1, runs[0].FailedSteps)
	require.Len(t, runs[0].Steps, 2)
	assert.Equal(t, "out of reach", runs[0].Steps[1].Error)

	require.NoError(t, j.Close())

	files, err := Files(dir, PrefixActions)
	require.NoError(t, err)
	require.Len(t, files, 1)
	var ids []string
	require.NoError(t, ReadFile(files[0], func(line []byte) error {
		var r agent.ActionRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		ids = append(ids, r.ID)
		return nil
	}))
	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestJournal_IndexDisabled(t *testing.T) {
	j, err := Open(Options{Dir: t.TempDir(), DisableIndex: true}, nil)
	require.NoError(t, err)
	defer j.Close()

	j.RecordAction(agent.ActionRecord{ID: "a1", Op: "chat"})
	_, err = j.RecentActions(context.Background(), 5)
	assert.ErrorIs(t, err, ErrIndexDisabled)
	_, err = j.RecentProtocols(context.Background(), 5)
	assert.ErrorIs(t, err, ErrIndexDisabled)
	assert.Equal(t, IndexStats{}, j.Stats())
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{}, nil)
	require.Error(t, err)
}

func TestIndex_QueueDropStats(t *testing.T) {
	s := &Index{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAction}

	s.WriteAction(agent.ActionRecord{ID: "x"})
	s.WriteProtocol(agent.ProtocolReport{Protocol: agent.ProtocolHunger})

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DropActionTotal)
	assert.Equal(t, uint64(1), st.DropProtocolTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, 1000, clampLimit(5000))
}
