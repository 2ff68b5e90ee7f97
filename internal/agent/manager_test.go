package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelagent.ai/internal/world"
	"voxelagent.ai/internal/world/worldtest"
)

func TestNewManager_RequiresConnector(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err)
}

func TestLifecycle_StartConnectStop(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, Disconnected, h.m.Status().ConnectionState)
	assert.False(t, h.m.Status().SessionExists)

	require.NoError(t, h.m.Start(context.Background(), world.ConnectParams{Username: "Bob"}))
	st := h.m.Status()
	assert.Equal(t, Connecting, st.ConnectionState)
	assert.True(t, st.SessionExists)
	assert.Equal(t, "Bob", st.Username)

	h.conn.Last().Emit(world.Event{Kind: world.EventSpawn})
	require.Eventually(t, func() bool { return h.m.Status().ConnectionState == Connected }, waitFor, waitTick)

	h.m.Stop()
	st = h.m.Status()
	assert.Equal(t, Disconnected, st.ConnectionState)
	assert.False(t, st.SessionExists)
	assert.True(t, h.conn.Last().Closed())

	h.m.Stop()
	assert.Equal(t, Disconnected, h.m.Status().ConnectionState)
}

func TestLifecycle_StartAppliesDefaults(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Start(context.Background(), world.ConnectParams{Port: 25570}))
	p := h.conn.Params()[0]
	assert.Equal(t, "localhost", p.Host)
	assert.Equal(t, 25570, p.Port)
	assert.Equal(t, "AliceBot", p.Username)
	assert.Equal(t, "offline", p.Auth)
}

func TestLifecycle_AtMostOneSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.m.Start(ctx, world.ConnectParams{}))
		assert.Equal(t, 1, h.conn.Open())
		if i%2 == 1 {
			h.m.Stop()
			assert.Equal(t, 0, h.conn.Open())
		}
	}
	assert.Len(t, h.conn.Sessions(), 5)

	h.m.Stop()
	require.NoError(t, h.m.Start(ctx, world.ConnectParams{}))
	assert.Equal(t, 1, h.conn.Open())
}

func TestLifecycle_ConnectFailureRecordsError(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.FailNext(errors.New("connection refused"))

	err := h.m.Start(context.Background(), world.ConnectParams{})
	require.Error(t, err)
	st := h.m.Status()
	assert.Equal(t, Disconnected, st.ConnectionState)
	assert.Equal(t, "connection refused", st.LastError)
	assert.False(t, st.SessionExists)

	h.connect()
	assert.Empty(t, h.m.Status().LastError)
}

func TestLifecycle_ErrorEventKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	s.Emit(world.Event{Kind: world.EventError, Err: errors.New("keepalive late")})
	require.Eventually(t, func() bool { return h.m.Status().LastError == "keepalive late" }, waitFor, waitTick)
	assert.Equal(t, Connected, h.m.Status().ConnectionState)
	assert.True(t, h.m.Status().SessionExists)
}

func TestLifecycle_EndEventDetaches(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	s.Emit(world.Event{Kind: world.EventEnd, Message: "kicked"})

	require.Eventually(t, func() bool {
		st := h.m.Status()
		return st.ConnectionState == Disconnected && !st.SessionExists
	}, waitFor, waitTick)
	assert.True(t, s.Closed())

	_, err := h.m.Perceive(10, DefaultVolume())
	assert.ErrorIs(t, err, ErrNoSession)

	h.connect()
	assert.Equal(t, 1, h.conn.Open())
}

func TestLifecycle_ClosedSessionDetaches(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return !h.m.Status().SessionExists }, waitFor, waitTick)
	assert.Equal(t, Disconnected, h.m.Status().ConnectionState)
}

func TestLifecycle_StopClearsDanger(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	s.Emit(world.Event{Kind: world.EventDamage})
	h.waitProtocols(1)
	require.True(t, h.m.Status().Danger)

	h.m.Stop()
	assert.False(t, h.m.Status().Danger)
}

func TestLifecycle_EndDuringReflexLeavesNoDanger(t *testing.T) {
	h := newHarness(t, func(s *worldtest.Session) {
		s.SetPosition(at(0, 64, 0))
		s.SetInventory(inv("iron_helmet")...)
		s.SetEntities(mob("z1", "zombie", at(3, 64, 0)))
	})
	s := h.connect()
	entered, release := s.Hold(worldtest.OpEquip)
	defer release()

	s.Emit(world.Event{Kind: world.EventDamage})
	<-entered
	require.True(t, h.m.Status().Danger)

	s.Emit(world.Event{Kind: world.EventEnd, Message: "kicked"})
	reps := h.waitProtocols(1)
	assert.Equal(t, OutcomeIncomplete, reps[0].Outcome)

	require.Eventually(t, func() bool {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		return h.m.cur == nil
	}, waitFor, waitTick)
	st := h.m.Status()
	assert.Equal(t, Disconnected, st.ConnectionState)
	assert.False(t, st.SessionExists)
	assert.False(t, st.Danger)
}

func TestLifecycle_StopAbortsPendingConnect(t *testing.T) {
	h := newHarness(t, nil)
	entered, release := h.conn.HoldNext()
	defer release()

	errc := make(chan error, 1)
	go func() { errc <- h.m.Start(context.Background(), world.ConnectParams{}) }()
	<-entered
	assert.Equal(t, Connecting, h.m.Status().ConnectionState)

	stopped := make(chan struct{})
	go func() {
		h.m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("stop blocked behind the connect")
	}
	require.ErrorIs(t, <-errc, context.Canceled)

	st := h.m.Status()
	assert.Equal(t, Disconnected, st.ConnectionState)
	assert.False(t, st.SessionExists)
	assert.Empty(t, h.conn.Sessions())
}

func TestLifecycle_ChatIngestSkipsOwnLines(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	s.Emit(world.Event{Kind: world.EventChat, Speaker: "AliceBot", Message: "echo"})
	s.Emit(world.Event{Kind: world.EventChat, Speaker: "bob", Message: "hello"})
	s.Emit(world.Event{Kind: world.EventChat, Speaker: "carol", Message: "hey", At: time.Unix(100, 0)})

	require.Eventually(t, func() bool { return h.m.Chat().Len() == 2 }, waitFor, waitTick)
	all := h.m.Chat().All()
	assert.Equal(t, "bob", all[0].Speaker)
	assert.Equal(t, "hey", all[1].Message)
	assert.Equal(t, time.Unix(100, 0).UTC(), all[1].Timestamp)
	assert.Equal(t, 2, h.m.Status().ChatCount)

	require.NoError(t, h.m.Say("hi all"))
	assert.Equal(t, "chat hi all", s.Ops()[len(s.Ops())-1])
}

func TestLifecycle_SayDelegationFailure(t *testing.T) {
	h := newHarness(t, nil)
	s := h.connect()
	s.FailOn(worldtest.OpChat, errors.New("muted"))
	err := h.m.Say("x")
	assert.ErrorIs(t, err, ErrDelegationFailure)
	assert.Equal(t, "muted", err.Error())
}

func TestLifecycle_StopWhileReflexWaits(t *testing.T) {
	h := newHarness(t, func(s *worldtest.Session) {
		s.SetInventory(inv("bread")...)
	})
	s := h.connect()
	entered, release := s.Hold(worldtest.OpMove)
	defer release()
	done := make(chan error, 1)
	go func() { done <- h.m.Actions().MoveTo(context.Background(), at(1, 1, 1)) }()
	<-entered

	s.SetFood(1)
	s.Emit(world.Event{Kind: world.EventFood})
	time.Sleep(20 * time.Millisecond)

	h.m.Stop()
	assert.ErrorIs(t, <-done, ErrSessionUnavailable)
	assert.Empty(t, h.m.Status().CurrentAction)
	assert.Empty(t, s.CallsOf(worldtest.OpConsume))
}
