package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stockimport"
	"github.com/odyssey-erp/backoffice/internal/store/memory"
	"github.com/odyssey-erp/backoffice/jobs"
	_ "github.com/odyssey-erp/backoffice/testing"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	store.AddItem("I1", "Rice")
	store.SeedSlot("I1", "L1", decimal.NewFromInt(50))
	store.AddCustomer("C1", decimal.Zero)
	engine := posting.NewEngine(store, nil, nil, nil, nil, posting.EngineConfig{})
	_, err := engine.Create(context.Background(), posting.Document{
		ID: "S-1", Type: posting.TypeSale, Status: posting.StatusPosted, CustomerID: "C1", LocationID: "L1",
		NetTotal: decimal.NewFromInt(120), PayMode: posting.PayCredit,
		Lines: []posting.Line{{ItemID: "I1", Quantity: decimal.NewFromInt(2)}},
	})
	require.NoError(t, err)
	return store
}

func TestIntegrityJobRepairsDrift(t *testing.T) {
	store := seededStore(t)
	store.SetCustomerBalance("C1", decimal.NewFromInt(1))

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	ledgerSvc := ledger.NewService(store, shared.NewKeyedMutex(time.Second), nil)
	job := jobs.NewIntegrityJob(reconcile.NewService(store, nil), ledgerSvc, nil, metrics)

	task, err := jobs.NewIntegrityCheckTask(time.Now(), true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.True(t, store.Customer("C1").Balance.Equal(decimal.NewFromInt(120)))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_integrity_violations_total", map[string]string{"kind": "balance"}))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_ledger_drift_corrections_total", nil))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_jobs_total", map[string]string{"job": jobs.TaskIntegrityCheck, "status": "success"}))

	report, err := reconcile.NewService(store, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestIntegrityJobWithoutRepairLeavesDrift(t *testing.T) {
	store := seededStore(t)
	store.SetCustomerBalance("C1", decimal.NewFromInt(1))
	job := jobs.NewIntegrityJob(reconcile.NewService(store, nil), nil, nil, nil)

	task, err := jobs.NewIntegrityCheckTask(time.Now(), false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, store.Customer("C1").Balance.Equal(decimal.NewFromInt(1)))
}

func TestIntegrityJobRejectsBadPayload(t *testing.T) {
	job := jobs.NewIntegrityJob(reconcile.NewService(memory.New(), nil), nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskIntegrityCheck, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerResyncJob(t *testing.T) {
	store := seededStore(t)
	store.SetCustomerBalance("C1", decimal.NewFromInt(9))
	reg := prometheus.NewRegistry()
	job := jobs.NewLedgerResyncJob(ledger.NewService(store, nil, nil), nil, jobmetrics.NewMetrics(reg))

	task, err := jobs.NewLedgerResyncTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, store.Customer("C1").Balance.Equal(decimal.NewFromInt(120)))
	require.Equal(t, 1.0, counterValue(t, reg, "backoffice_ledger_drift_corrections_total", nil))

	missing, err := jobs.NewLedgerResyncTask("nobody")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), missing), asynq.SkipRetry)
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"item_id", "location_id", "qty"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"I1", "L1", "44"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestStockImportJob(t *testing.T) {
	store := seededStore(t)
	importer := stockimport.NewService(store, nil, nil)
	job := jobs.NewStockImportJob(importer, nil, nil)

	task, err := jobs.NewStockImportTask(jobs.StockImportPayload{FileName: "count.xlsx", Content: workbook(t), ActorID: "clerk-1"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, store.Slot("I1", "L1").Qty.Equal(decimal.NewFromInt(44)))

	moves := store.Movements()
	require.Equal(t, "clerk-1", moves[len(moves)-1].ActorID)

	body, err := json.Marshal(jobs.StockImportPayload{FileName: "junk.xlsx", Content: []byte("junk")})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskStockImport, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClientEnqueuesOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := jobs.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	ctx := context.Background()

	info, err := client.EnqueueLedgerResync(ctx, "C1")
	require.NoError(t, err)
	require.Equal(t, jobs.QueueDefault, info.Queue)
	require.Equal(t, jobs.TaskLedgerResync, info.Type)

	payload := jobs.StockImportPayload{FileName: "count.xlsx", Content: []byte("same bytes")}
	first, err := client.EnqueueStockImport(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, stockimport.BatchID(payload.Content), first.ID)
	require.Equal(t, jobs.QueueImports, first.Queue)

	_, err = client.EnqueueStockImport(ctx, payload)
	require.ErrorIs(t, err, asynq.ErrTaskIDConflict)
}

type fakeInspector struct {
	pending map[string]int
	err     error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	n, ok := f.pending[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return &asynq.QueueInfo{Queue: queue, Pending: n}, nil
}

func TestHealthHandler(t *testing.T) {
	serve := func(h *jobs.Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(jobs.NewHandler(fakeInspector{pending: map[string]int{jobs.QueueDefault: 3}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queues":{
		"default":{"pending":3,"active":0,"retry":0,"archived":0},
		"imports":{"pending":0,"active":0,"retry":0,"archived":0}}}`, rr.Body.String())

	rr = serve(jobs.NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = serve(jobs.NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIsFailure(t *testing.T) {
	require.False(t, jobs.IsFailure(nil))
	require.False(t, jobs.IsFailure(asynq.SkipRetry))
	require.False(t, jobs.IsFailure(fmt.Errorf("%w: bad sheet", asynq.SkipRetry)))
	require.False(t, jobs.IsFailure(&shared.NotFoundError{Entity: "customer", ID: "C9"}))
	require.True(t, jobs.IsFailure(&shared.PersistenceError{Op: "ResyncBalance", Err: errors.New("conn reset")}))
	require.True(t, jobs.IsFailure(errors.New("boom")))
}

func TestNewWorkerRejectsUntypedHandler(t *testing.T) {
	_, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []jobs.TaskHandler{{Handler: func(context.Context, *asynq.Task) error { return nil }}},
	})
	require.Error(t, err)
}
