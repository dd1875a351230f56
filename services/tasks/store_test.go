package tasks

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

func TestStore_PutGet(t *testing.T) {
	s := NewStore()
	rec := createdRecord()
	require.NoError(t, s.Put(rec))

	got, ok := s.Get(testTaskID)
	require.True(t, ok)
	assert.Equal(t, task.LedgerRecordCreated, got.LedgerStatus)

	got.Args[0] = task.NewArg("changed", "string")
	again, _ := s.Get(testTaskID)
	assert.Equal(t, testOwner, again.Args[0].Value, "reads must be copies")

	rec.GasLimit = 1
	again, _ = s.Get(testTaskID)
	assert.Equal(t, uint64(500000), again.GasLimit, "writes must be copies")

	_, ok = s.Get("0xmissing")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_RejectsRegression(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put(confirmedRecord(testTaskID)))

	err := s.Put(createdRecord())
	require.Error(t, err)
	assert.True(t, task.IsInvalidState(err))

	got, _ := s.Get(testTaskID)
	assert.Equal(t, task.LedgerConfirmed, got.LedgerStatus)

	assert.True(t, task.IsInvalidState(s.Put(nil)))
	assert.True(t, task.IsInvalidState(s.Put(&task.Record{})))
}

func TestStore_Update(t *testing.T) {
	s := NewStore()
	err := s.Update(testTaskID, func(cur *task.Record) (*task.Record, error) {
		assert.Nil(t, cur)
		return createdRecord(), nil
	})
	require.NoError(t, err)

	err = s.Update(testTaskID, func(cur *task.Record) (*task.Record, error) {
		cur.TaskID = "0xother"
		return cur, nil
	})
	assert.True(t, task.IsInvalidState(err))

	boom := fmt.Errorf("boom")
	err = s.Update(testTaskID, func(cur *task.Record) (*task.Record, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestStore_ConcurrentUpdatesOnOneKey(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put(createdRecord()))

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(testTaskID, func(cur *task.Record) (*task.Record, error) {
				cur.GasPrice++
				return cur, nil
			})
			assert.NoError(t, err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.Get(testTaskID)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	got, _ := s.Get(testTaskID)
	assert.Equal(t, uint64(writers), got.GasPrice)
}

func TestStore_ConcurrentKeys(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := createdRecord()
			rec.TaskID = fmt.Sprintf("0x%064x", i)
			assert.NoError(t, s.Put(rec))
			rec.LedgerStatus = task.LedgerConfirmed
			assert.NoError(t, s.Put(rec))
		}(i)
	}
	wg.Wait()

	list := s.List()
	require.Len(t, list, 20)
	for _, rec := range list {
		assert.Equal(t, task.LedgerConfirmed, rec.LedgerStatus)
	}
}

func TestStore_ListOrder(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"0xc", "0xa", "0xb"} {
		rec := createdRecord()
		rec.TaskID = id
		rec.SubmittedAt = base.Add(time.Duration(2-i) * time.Second)
		require.NoError(t, s.Put(rec))
	}
	var ids []string
	for _, rec := range s.List() {
		ids = append(ids, rec.TaskID)
	}
	assert.Equal(t, []string{"0xb", "0xa", "0xc"}, ids)
}

func TestStore_Prune(t *testing.T) {
	s := NewStore()
	old := time.Now().Add(-time.Hour)

	put := func(id string, mutate func(*task.Record)) {
		rec := createdRecord()
		rec.TaskID = id
		rec.UpdatedAt = old
		mutate(rec)
		require.NoError(t, s.Put(rec))
	}
	put("0xpending", func(r *task.Record) {})
	put("0xfailed", func(r *task.Record) { r.LedgerStatus = task.LedgerFailed })
	put("0xexecfail", func(r *task.Record) {
		r.LedgerStatus = task.LedgerConfirmed
		r.ExecutionStatus = task.ExecutionFailure
	})
	put("0xdone", func(r *task.Record) {
		r.LedgerStatus = task.LedgerConfirmed
		r.ExecutionStatus = task.ExecutionSuccess
		r.SealedOutput = []byte{1}
		r.PlaintextOutput = []byte{}
	})
	put("0xrecent", func(r *task.Record) {
		r.LedgerStatus = task.LedgerFailed
		r.UpdatedAt = time.Now()
	})

	removed := s.Prune(time.Now().Add(-time.Minute))
	assert.Equal(t, 3, removed)

	var ids []string
	for _, rec := range s.List() {
		ids = append(ids, rec.TaskID)
	}
	assert.ElementsMatch(t, []string{"0xpending", "0xrecent"}, ids)

	s.Delete("0xpending")
	assert.Equal(t, 1, s.Len())
}
