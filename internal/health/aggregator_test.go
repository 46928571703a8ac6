package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorCounts(t *testing.T) {
	a := NewAggregator()

	a.RecordCommand()
	a.RecordCommand()
	a.RecordEvent()
	a.RecordAnnouncement()

	snap := a.Snapshot()
	assert.Equal(t, uint64(2), snap.Commands)
	assert.Equal(t, uint64(1), snap.Events)
	assert.Equal(t, uint64(1), snap.Announcements)
	assert.GreaterOrEqual(t, snap.Uptime, time.Duration(0))
}

func TestAggregatorConcurrentRecords(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RecordCommand()
			a.RecordEvent()
		}()
	}
	wg.Wait()

	snap := a.Snapshot()
	assert.Equal(t, uint64(50), snap.Commands)
	assert.Equal(t, uint64(50), snap.Events)
}
