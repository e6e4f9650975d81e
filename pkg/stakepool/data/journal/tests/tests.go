package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/database/query"
	"github.com/code-payments/stake-pool-server/pkg/pointer"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

func RunTests(t *testing.T, s journal.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s journal.Store){
		testHappyPath,
		testValidation,
		testCycleQueries,
		testPaging,
		testCounting,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s journal.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()
		time.Sleep(time.Millisecond)

		record := &journal.Record{
			CycleId:      "cycle",
			Step:         journal.StepDelegate,
			Signature:    "signature",
			Instructions: 3,
			Status:       journal.StatusPending,
		}
		cloned := record.Clone()

		_, err := s.Get(ctx, record.Signature)
		assert.Equal(t, journal.ErrNotFound, err)
		assert.Equal(t, journal.ErrNotFound, s.Update(ctx, record))

		require.NoError(t, s.Put(ctx, record))
		assert.True(t, record.Id > 0)
		assert.Equal(t, journal.ErrAlreadyExists, s.Put(ctx, record))

		actual, err := s.Get(ctx, record.Signature)
		require.NoError(t, err)
		assert.Equal(t, record.Id, actual.Id)
		assert.True(t, actual.CreatedAt.After(start))
		assertEquivalentRecords(t, &cloned, actual)

		record.Status = journal.StatusRejected
		record.ProgramCode = pointer.To(uint32(17))
		record.Error = pointer.To("StakeListOutOfDate")
		cloned = record.Clone()
		require.NoError(t, s.Update(ctx, record))

		actual, err = s.Get(ctx, record.Signature)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		record.Status = journal.StatusConfirmed
		record.ProgramCode = nil
		record.Error = nil
		record.ConfirmedAt = pointer.To(time.Now())
		cloned = record.Clone()
		require.NoError(t, s.Update(ctx, record))

		actual, err = s.Get(ctx, record.Signature)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testValidation(t *testing.T, s journal.Store) {
	t.Run("testValidation", func(t *testing.T) {
		ctx := context.Background()

		for _, record := range []*journal.Record{
			{Step: journal.StepMerge, Signature: "sig", Instructions: 1, Status: journal.StatusPending},
			{CycleId: "cycle", Signature: "sig", Instructions: 1, Status: journal.StatusPending},
			{CycleId: "cycle", Step: journal.StepMerge, Instructions: 1, Status: journal.StatusPending},
			{CycleId: "cycle", Step: journal.StepMerge, Signature: "sig", Status: journal.StatusPending},
			{CycleId: "cycle", Step: journal.StepMerge, Signature: "sig", Instructions: 1},
			{CycleId: "cycle", Step: journal.StepMerge, Signature: "sig", Instructions: 1, Status: journal.StatusConfirmed},
			{CycleId: "cycle", Step: journal.StepMerge, Signature: "sig", Instructions: 1, Status: journal.StatusPending, ConfirmedAt: pointer.To(time.Now())},
			{CycleId: "cycle", Step: journal.StepMerge, Signature: "sig", Instructions: 1, Status: journal.StatusTimeout, ProgramCode: pointer.To(uint32(1))},
		} {
			assert.Error(t, s.Put(ctx, record))
		}

		_, err := s.Get(ctx, "sig")
		assert.Equal(t, journal.ErrNotFound, err)
	})
}

func testCycleQueries(t *testing.T, s journal.Store) {
	t.Run("testCycleQueries", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllByCycle(ctx, "cycle1")
		assert.Equal(t, journal.ErrNotFound, err)

		steps := []journal.Step{journal.StepRefresh, journal.StepMerge, journal.StepDelegate}
		for i, step := range steps {
			require.NoError(t, s.Put(ctx, &journal.Record{
				CycleId:      "cycle1",
				Step:         step,
				Signature:    fmt.Sprintf("sig%d", i),
				Instructions: 1,
				Status:       journal.StatusPending,
			}))
		}
		require.NoError(t, s.Put(ctx, &journal.Record{
			CycleId:      "cycle2",
			Step:         journal.StepRefresh,
			Signature:    "other",
			Instructions: 1,
			Status:       journal.StatusPending,
		}))

		actual, err := s.GetAllByCycle(ctx, "cycle1")
		require.NoError(t, err)
		require.Len(t, actual, len(steps))
		for i, record := range actual {
			assert.Equal(t, steps[i], record.Step)
			assert.Equal(t, fmt.Sprintf("sig%d", i), record.Signature)
		}

		actual, err = s.GetAllByCycle(ctx, "cycle2")
		require.NoError(t, err)
		require.Len(t, actual, 1)
		assert.Equal(t, "other", actual[0].Signature)
	})
}

func testPaging(t *testing.T, s journal.Store) {
	t.Run("testPaging", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAll(ctx)
		assert.Equal(t, journal.ErrNotFound, err)

		var ids []uint64
		for i := 0; i < 5; i++ {
			record := &journal.Record{
				CycleId:      "cycle",
				Step:         journal.StepUnstake,
				Signature:    fmt.Sprintf("sig%d", i),
				Instructions: 1,
				Status:       journal.StatusPending,
			}
			require.NoError(t, s.Put(ctx, record))
			ids = append(ids, record.Id)
		}

		actual, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, actual, 5)
		for i, record := range actual {
			assert.Equal(t, ids[i], record.Id)
		}

		actual, err = s.GetAll(ctx, query.WithLimit(2), query.WithCursor(query.ToCursor(ids[1])))
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assert.Equal(t, ids[2], actual[0].Id)
		assert.Equal(t, ids[3], actual[1].Id)

		actual, err = s.GetAll(ctx, query.WithDirection(query.Descending), query.WithCursor(query.ToCursor(ids[2])))
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assert.Equal(t, ids[1], actual[0].Id)
		assert.Equal(t, ids[0], actual[1].Id)

		_, err = s.GetAll(ctx, query.WithCursor(query.ToCursor(ids[4])))
		assert.Equal(t, journal.ErrNotFound, err)
	})
}

func testCounting(t *testing.T, s journal.Store) {
	t.Run("testCounting", func(t *testing.T) {
		ctx := context.Background()

		statuses := []journal.Status{
			journal.StatusPending,
			journal.StatusPending,
			journal.StatusRejected,
			journal.StatusTimeout,
			journal.StatusTimeout,
			journal.StatusTimeout,
		}
		for i, status := range statuses {
			require.NoError(t, s.Put(ctx, &journal.Record{
				CycleId:      "cycle",
				Step:         journal.StepPayCreditors,
				Signature:    fmt.Sprintf("sig%d", i),
				Instructions: 1,
				Status:       status,
			}))
		}

		for status, expected := range map[journal.Status]uint64{
			journal.StatusPending:   2,
			journal.StatusConfirmed: 0,
			journal.StatusRejected:  1,
			journal.StatusTimeout:   3,
		} {
			count, err := s.CountByStatus(ctx, status)
			require.NoError(t, err)
			assert.Equal(t, expected, count, status.String())
		}
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *journal.Record) {
	assert.Equal(t, obj1.CycleId, obj2.CycleId)
	assert.Equal(t, obj1.Step, obj2.Step)
	assert.Equal(t, obj1.Signature, obj2.Signature)
	assert.Equal(t, obj1.Instructions, obj2.Instructions)
	assert.Equal(t, obj1.Status, obj2.Status)
	assert.EqualValues(t, obj1.ProgramCode, obj2.ProgramCode)
	assert.EqualValues(t, obj1.Error, obj2.Error)
	if obj1.ConfirmedAt == nil {
		assert.Nil(t, obj2.ConfirmedAt)
	} else {
		require.NotNil(t, obj2.ConfirmedAt)
		assert.Equal(t, obj1.ConfirmedAt.Unix(), obj2.ConfirmedAt.Unix())
	}
}
