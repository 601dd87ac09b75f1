package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/varfish-org/varfish-server-sub005/models"
	inheritanceMode "github.com/varfish-org/varfish-server-sub005/models/constants/inheritance-mode"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/queries"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/repositories/resultstore"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

// blockingStore serves a fixed row slice; when gate is set it waits for
// a release signal before answering, to hold an execution in Running
type blockingStore struct {
	rows    []*indexes.VariantRow
	gate    chan struct{}
	entered chan struct{}
}

func (s *blockingStore) SearchVariantRows(ctx context.Context, plan *compiler.QueryPlan, searchAfter []interface{}, size int) ([]*indexes.VariantRow, []interface{}, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if len(searchAfter) > 0 {
		return nil, nil, nil
	}
	return s.rows, []interface{}{len(s.rows) - 1}, nil
}

func testConfig() *models.Config {
	cfg := &models.Config{}
	cfg.Api.WorkerCount = 2
	cfg.Api.QueryTimeoutSecs = 60
	cfg.Api.QueryBatchSize = 100
	cfg.Api.RepairCronTimeUtc = "04:00:00"
	return cfg
}

func newTestManager(t *testing.T, variants *blockingStore) *ResultSetManager {
	return newTestManagerWithConfig(t, testConfig(), variants)
}

func newTestManagerWithConfig(t *testing.T, cfg *models.Config, variants *blockingStore) *ResultSetManager {
	store, err := resultstore.Open(filepath.Join(t.TempDir(), "results.db"), zap.NewNop().Sugar())
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager, err := NewResultSetManager(cfg, store, variants, zap.NewNop().Sugar())
	assert.NoError(t, err)
	t.Cleanup(manager.Shutdown)
	return manager
}

func trio() *pedigree.Pedigree {
	return &pedigree.Pedigree{
		CaseId: "case-1",
		Members: []*pedigree.Member{
			{Id: "proband", FatherId: "father", MotherId: "mother",
				Sex: pedigree.SexMale, Affected: pedigree.AffectedYes, HasGenotypeData: true},
			{Id: "father", Sex: pedigree.SexMale, Affected: pedigree.AffectedNo, HasGenotypeData: true},
			{Id: "mother", Sex: pedigree.SexFemale, Affected: pedigree.AffectedNo, HasGenotypeData: true},
		},
	}
}

func deNovoRow(pos int) *indexes.VariantRow {
	return &indexes.VariantRow{
		CaseId: "case-1", Chrom: "1", Pos: pos, Ref: "A", Alt: "T",
		Genotypes: map[string]indexes.MemberGenotype{
			"proband": {Gt: "0/1", Dp: 30, Ad: 15, Gq: 99},
			"father":  {Gt: "0/0", Dp: 30, Ad: 0, Gq: 99},
			"mother":  {Gt: "0/0", Dp: 30, Ad: 0, Gq: 99},
		},
	}
}

func newExecution(caseId string) *queries.QueryExecution {
	return &queries.QueryExecution{
		Id:       uuid.New(),
		CaseId:   caseId,
		Settings: &settings.FilterSettings{Mode: inheritanceMode.DeNovo},
		Pedigree: trio(),
		State:    queries.Initial,
	}
}

func inState(manager *ResultSetManager, id uuid.UUID, state queries.State) func() bool {
	return func() bool {
		execution, err := manager.GetExecution(id)
		return err == nil && execution.State == state
	}
}

func TestSubmitRunsToDone(t *testing.T) {
	manager := newTestManager(t, &blockingStore{
		rows: []*indexes.VariantRow{deNovoRow(100), deNovoRow(200)},
	})

	execution := newExecution("case-1")
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	assert.Eventually(t, inState(manager, execution.Id, queries.Done), 5*time.Second, 10*time.Millisecond)

	finished, err := manager.GetExecution(execution.Id)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, finished.ResultSetId)

	rows, nextCursor, err := manager.ListRows(finished.ResultSetId, "", 10)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Empty(t, nextCursor)
	assert.Equal(t, 100, rows[0].Pos)
	assert.Equal(t, 200, rows[1].Pos)
}

func TestSubmitRejectsConcurrentExecutionForSameCase(t *testing.T) {
	gate := make(chan struct{})
	manager := newTestManager(t, &blockingStore{
		rows:    []*indexes.VariantRow{deNovoRow(100)},
		gate:    gate,
		entered: make(chan struct{}, 1),
	})

	first := newExecution("case-1")
	assert.NoError(t, manager.Submit(first, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	// while the first is in flight the same case is locked out
	second := newExecution("case-1")
	assert.ErrorIs(t,
		manager.Submit(second, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100),
		ErrConcurrentExecutionConflict)

	// a different case is unaffected
	other := newExecution("case-2")
	assert.NoError(t, manager.Submit(other, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	close(gate)
	assert.Eventually(t, inState(manager, first.Id, queries.Done), 5*time.Second, 10*time.Millisecond)

	// once terminal, the case accepts new work
	retry := newExecution("case-1")
	assert.NoError(t, manager.Submit(retry, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.Eventually(t, inState(manager, retry.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
}

func TestCancelRunningExecution(t *testing.T) {
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	defer close(gate)
	manager := newTestManager(t, &blockingStore{
		rows:    []*indexes.VariantRow{deNovoRow(100)},
		gate:    gate,
		entered: entered,
	})

	execution := newExecution("case-1")
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	// wait until the executor is inside the store read
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the variant store")
	}

	assert.NoError(t, manager.Cancel(execution.Id))
	assert.Eventually(t, inState(manager, execution.Id, queries.Cancelled), 5*time.Second, 10*time.Millisecond)

	// no result set was committed
	finished, err := manager.GetExecution(execution.Id)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Nil, finished.ResultSetId)

	// cancelling a terminal execution is a no-op
	assert.NoError(t, manager.Cancel(execution.Id))
	assert.Equal(t, queries.Cancelled, finished.State)
}

func TestCancelUnknownExecution(t *testing.T) {
	manager := newTestManager(t, &blockingStore{})
	assert.ErrorIs(t, manager.Cancel(uuid.New()), ErrExecutionNotFound)
}

func TestRerunSwapsResultSet(t *testing.T) {
	manager := newTestManager(t, &blockingStore{
		rows: []*indexes.VariantRow{deNovoRow(100)},
	})

	first := newExecution("case-1")
	assert.NoError(t, manager.Submit(first, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.Eventually(t, inState(manager, first.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
	firstDone, _ := manager.GetExecution(first.Id)

	second := newExecution("case-1")
	assert.NoError(t, manager.Submit(second, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.Eventually(t, inState(manager, second.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
	secondDone, _ := manager.GetExecution(second.Id)

	// both executions keep their own committed sets
	assert.NotEqual(t, firstDone.ResultSetId, secondDone.ResultSetId)
	_, _, err := manager.ListRows(firstDone.ResultSetId, "", 10)
	assert.NoError(t, err)

	executions, err := manager.ListExecutions("case-1")
	assert.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestSubmitInvalidSettingsFailsExecution(t *testing.T) {
	manager := newTestManager(t, &blockingStore{})

	execution := newExecution("case-1")
	execution.Settings = &settings.FilterSettings{Mode: "sideways"}
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	assert.Eventually(t, inState(manager, execution.Id, queries.Failed), 5*time.Second, 10*time.Millisecond)
}

func TestGetExecutionReturnsSnapshot(t *testing.T) {
	manager := newTestManager(t, &blockingStore{
		rows: []*indexes.VariantRow{deNovoRow(100)},
	})

	execution := newExecution("case-1")
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.Eventually(t, inState(manager, execution.Id, queries.Done), 5*time.Second, 10*time.Millisecond)

	// callers get a copy; scribbling on it cannot leak into the map
	first, err := manager.GetExecution(execution.Id)
	assert.NoError(t, err)
	first.State = queries.Failed
	first.Message = "scribbled"

	second, err := manager.GetExecution(execution.Id)
	assert.NoError(t, err)
	assert.Equal(t, queries.Done, second.State)
	assert.Empty(t, second.Message)
}

func TestStatusReadsDuringExecution(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	manager := newTestManager(t, &blockingStore{
		rows:    []*indexes.VariantRow{deNovoRow(100)},
		gate:    gate,
		entered: entered,
	})

	execution := newExecution("case-1")
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the variant store")
	}

	// status polling overlaps the worker's state transitions; the race
	// detector watches this interleaving
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			snapshot, err := manager.GetExecution(execution.Id)
			if err == nil && snapshot.State.IsTerminal() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	close(gate)
	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached a terminal state")
	}

	finished, err := manager.GetExecution(execution.Id)
	assert.NoError(t, err)
	assert.Equal(t, queries.Done, finished.State)
}

func TestCancelQueuedExecution(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	variants := &blockingStore{
		rows:    []*indexes.VariantRow{deNovoRow(100)},
		gate:    gate,
		entered: entered,
	}

	cfg := testConfig()
	cfg.Api.WorkerCount = 1
	manager := newTestManagerWithConfig(t, cfg, variants)

	// the single worker is busy with another case, so the next
	// submission stays queued
	blocker := newExecution("case-blocker")
	assert.NoError(t, manager.Submit(blocker, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the variant store")
	}

	queued := newExecution("case-1")
	assert.NoError(t, manager.Submit(queued, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.NoError(t, manager.Cancel(queued.Id))

	cancelled, err := manager.GetExecution(queued.Id)
	assert.NoError(t, err)
	assert.Equal(t, queries.Cancelled, cancelled.State)

	// releasing the worker must not resurrect the cancelled execution
	close(gate)
	assert.Eventually(t, inState(manager, blocker.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	final, err := manager.GetExecution(queued.Id)
	assert.NoError(t, err)
	assert.Equal(t, queries.Cancelled, final.State)
	assert.Equal(t, uuid.Nil, final.ResultSetId)

	// the store agrees and holds no result set for it
	stored, err := manager.ListExecutions("case-1")
	assert.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, queries.Cancelled, stored[0].State)
	assert.Equal(t, uuid.Nil, stored[0].ResultSetId)
}

func TestShutdownDuringExecution(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	manager := newTestManager(t, &blockingStore{
		rows:    []*indexes.VariantRow{deNovoRow(100)},
		gate:    gate,
		entered: entered,
	})

	execution := newExecution("case-1")
	assert.NoError(t, manager.Submit(execution, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the variant store")
	}

	// shutting down while the worker is mid-flight must not panic; the
	// running execution finishes and records its terminal state
	manager.Shutdown()
	close(gate)

	assert.Eventually(t, inState(manager, execution.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
}

func TestStartupFailsInterruptedExecutions(t *testing.T) {
	store, err := resultstore.Open(filepath.Join(t.TempDir(), "results.db"), zap.NewNop().Sugar())
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// a previous process died while this execution was running
	stale := newExecution("case-1")
	stale.State = queries.Running
	assert.NoError(t, store.CreateExecution(stale))

	manager, err := NewResultSetManager(testConfig(), store, &blockingStore{}, zap.NewNop().Sugar())
	assert.NoError(t, err)
	t.Cleanup(manager.Shutdown)

	recovered, err := manager.GetExecution(stale.Id)
	assert.NoError(t, err)
	assert.Equal(t, queries.Failed, recovered.State)
	assert.Equal(t, "interrupted by restart", recovered.Message)

	// the swept execution no longer blocks new work for the case
	fresh := newExecution("case-1")
	assert.NoError(t, manager.Submit(fresh, predicates.GeneSets{}, compiler.DefaultOutputOptions(), 100))
	assert.Eventually(t, inState(manager, fresh.Id, queries.Done), 5*time.Second, 10*time.Millisecond)
}
