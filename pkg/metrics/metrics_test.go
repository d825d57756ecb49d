package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_IncrementsAndSnapshots(t *testing.T) {
	c := New()
	c.IncMessagesProcessed()
	c.IncMessagesProcessed()
	c.IncMessagesFailed()
	c.IncMediaObjectsSynced()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(1), snap.MediaObjectsSynced)
}

func TestCounters_ConcurrentIncrementsAreRace_Safe(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncMessagesProcessed()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), c.Snapshot().MessagesProcessed)
}
