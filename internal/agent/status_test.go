package agent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatLog_EvictsOldestAndRecentIsTail(t *testing.T) {
	c := NewChatLog(DefaultChatCapacity)
	for i := 0; i < 60; i++ {
		c.Append(ChatEntry{Speaker: "bob", Message: fmt.Sprintf("m%d", i), Timestamp: time.Unix(int64(i), 0)})
	}

	all := c.All()
	require.Len(t, all, 50)
	for i, e := range all {
		assert.Equal(t, fmt.Sprintf("m%d", i+10), e.Message)
	}

	recent := c.Recent(DefaultRecentChat)
	require.Len(t, recent, 20)
	assert.Equal(t, "m40", recent[0].Message)
	assert.Equal(t, "m59", recent[19].Message)
	assert.Equal(t, all[30:], recent)
}

func TestChatLog_PartialFill(t *testing.T) {
	c := NewChatLog(0)
	assert.Empty(t, c.Recent(20))
	c.Append(ChatEntry{Message: "a"})
	c.Append(ChatEntry{Message: "b"})
	got := c.Recent(20)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Message)
	assert.Equal(t, 2, c.Len())
}

func TestChatLog_ConcurrentAppend(t *testing.T) {
	c := NewChatLog(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Append(ChatEntry{Message: "x"})
				_ = c.Recent(20)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
	assert.Len(t, c.All(), 50)
}

func TestStatusBoard_Defaults(t *testing.T) {
	b := newStatusBoard()
	s := b.get()
	assert.Equal(t, Disconnected, s.ConnectionState)
	assert.Empty(t, s.CurrentAction)
	assert.False(t, s.Danger)
}
