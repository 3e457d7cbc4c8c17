package maintenance

import (
	"archive/tar"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func payloadJob(t *testing.T, kind jobs.Kind, v any) jobs.Job {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return jobs.Job{ID: "job-1", Kind: kind, Payload: b, AttemptCount: 1, MaxAttempts: 2}
}

func newService(t *testing.T) (*Service, *orders.MemStore) {
	t.Helper()
	store := orders.NewMemStore()
	store.PutUser(orders.User{ID: "cust-1", Email: "ana@example.com"})
	store.PutUser(orders.User{ID: "vendor-1", Email: "shop@example.com", IsVendor: true})
	return &Service{
		Store:     store,
		Clock:     clock.NewMock(),
		ReportDir: t.TempDir(),
		BackupDir: t.TempDir(),
	}, store
}

func putOrder(store *orders.MemStore, id string, created time.Time, status orders.Status, total string) {
	store.PutOrder(orders.Order{
		ID:          id,
		OrderNumber: "ORD-" + id,
		CustomerID:  "cust-1",
		Status:      status,
		TotalAmount: dec(total),
		CreatedAt:   created,
		UpdatedAt:   created,
	}, nil)
}

func readReport(t *testing.T, dir, date string) Report {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, ReportFileName(date)))
	require.NoError(t, err)
	var r Report
	require.NoError(t, json.Unmarshal(b, &r))
	return r
}

func TestDailyReport_NoOrders(t *testing.T) {
	svc, _ := newService(t)

	require.NoError(t, svc.HandleDailyReport(context.Background(), payloadJob(t, jobs.KindDailyReport, DailyReportPayload{Date: "2024-03-01"})))

	r := readReport(t, svc.ReportDir, "2024-03-01")
	assert.Equal(t, Report{Date: "2024-03-01", TotalOrders: 0, TotalRevenue: "0", AverageOrderValue: "0"}, r)
}

func TestDailyReport_DayBoundaries(t *testing.T) {
	svc, store := newService(t)
	putOrder(store, "before", at("2024-02-29T23:59:59Z"), orders.StatusDelivered, "99.00")
	putOrder(store, "start", at("2024-03-01T00:00:00Z"), orders.StatusPending, "10.00")
	putOrder(store, "mid", at("2024-03-01T12:30:00Z"), orders.StatusCancelled, "20.00")
	putOrder(store, "end", at("2024-03-01T23:59:59Z"), orders.StatusDelivered, "5.01")
	putOrder(store, "after", at("2024-03-02T00:00:00Z"), orders.StatusPending, "99.00")

	job := payloadJob(t, jobs.KindDailyReport, DailyReportPayload{Date: "2024-03-01"})
	require.NoError(t, svc.HandleDailyReport(context.Background(), job))
	first := readReport(t, svc.ReportDir, "2024-03-01")
	assert.Equal(t, 3, first.TotalOrders)
	assert.Equal(t, "35.01", first.TotalRevenue)
	assert.Equal(t, "11.67", first.AverageOrderValue)

	// rerun rewrites the same content
	require.NoError(t, svc.HandleDailyReport(context.Background(), job))
	assert.Equal(t, first, readReport(t, svc.ReportDir, "2024-03-01"))

	entries, err := os.ReadDir(svc.ReportDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestDailyReport_BadDateIsPermanent(t *testing.T) {
	svc, _ := newService(t)
	err := svc.HandleDailyReport(context.Background(), payloadJob(t, jobs.KindDailyReport, DailyReportPayload{Date: "03/01/2024"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestCleanup_DeletesOnlyFinishedOrdersPastCutoff(t *testing.T) {
	svc, store := newService(t)
	putOrder(store, "old-delivered", at("2024-01-01T00:00:00Z"), orders.StatusDelivered, "1.00")
	putOrder(store, "old-cancelled", at("2024-01-15T00:00:00Z"), orders.StatusCancelled, "1.00")
	putOrder(store, "old-pending", at("2024-01-01T00:00:00Z"), orders.StatusPending, "1.00")
	putOrder(store, "old-shipped", at("2024-01-01T00:00:00Z"), orders.StatusShipped, "1.00")
	putOrder(store, "new-delivered", at("2024-02-10T00:00:00Z"), orders.StatusDelivered, "1.00")

	job := payloadJob(t, jobs.KindCleanup, CleanupPayload{Cutoff: "2024-02-01T00:00:00Z"})
	require.NoError(t, svc.HandleCleanup(context.Background(), job))
	// a second run finds nothing more to do
	require.NoError(t, svc.HandleCleanup(context.Background(), job))

	left, err := store.ListOrders(context.Background(), orders.OrderFilter{})
	require.NoError(t, err)
	var ids []string
	for _, o := range left {
		ids = append(ids, o.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"new-delivered", "old-pending", "old-shipped"}, ids)
}

func TestCleanup_InvalidCutoffIsPermanent(t *testing.T) {
	svc, _ := newService(t)
	for _, cutoff := range []string{"", "yesterday", "0001-01-01T00:00:00Z"} {
		err := svc.HandleCleanup(context.Background(), payloadJob(t, jobs.KindCleanup, CleanupPayload{Cutoff: cutoff}))
		require.Error(t, err, cutoff)
		assert.True(t, jobs.IsPermanent(err), cutoff)
	}
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/product/SKU-1":
			_, _ = io.WriteString(w, `{"stock": 7, "price": "12.345"}`)
		case "/product/SKU-2":
			http.NotFound(w, r)
		case "/product/SKU-3":
			_, _ = io.WriteString(w, `{"price": "1.00"}`)
		case "/product/SKU-4":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/product/SKU-5":
			_, _ = io.WriteString(w, `{"stock": 0}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInventorySync_SyncsKnownSkipsUnknownFailsOnMalformed(t *testing.T) {
	svc, store := newService(t)
	svc.Inventory = inventory.NewClient(feedServer(t).URL, time.Second, inventory.WithInterval(0))
	store.PutProduct(orders.Product{ID: "p1", SKU: "SKU-1", VendorID: "vendor-1", Price: dec("10.00"), StockQuantity: 1})
	store.PutProduct(orders.Product{ID: "p2", SKU: "SKU-2", VendorID: "vendor-1", Price: dec("3.00"), StockQuantity: 4})
	store.PutProduct(orders.Product{ID: "p3", SKU: "SKU-3", VendorID: "vendor-1", Price: dec("1.00"), StockQuantity: 2})
	store.PutProduct(orders.Product{ID: "p5", SKU: "SKU-5", VendorID: "vendor-1", Price: dec("8.00"), StockQuantity: 9})

	err := svc.HandleInventorySync(context.Background(), payloadJob(t, jobs.KindInventorySync, jobs.InventorySyncPayload{VendorID: "vendor-1"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, inventory.ErrMalformed)

	ctx := context.Background()
	p1, _ := store.GetProduct(ctx, "p1")
	assert.Equal(t, 7, p1.StockQuantity)
	assert.Equal(t, "12.35", p1.Price.StringFixed(2))

	p2, _ := store.GetProduct(ctx, "p2")
	assert.Equal(t, 4, p2.StockQuantity, "unknown sku is left alone")

	p3, _ := store.GetProduct(ctx, "p3")
	assert.Equal(t, 2, p3.StockQuantity, "malformed answer is not applied")

	p5, _ := store.GetProduct(ctx, "p5")
	assert.Equal(t, 0, p5.StockQuantity)
	assert.True(t, p5.Price.Equal(dec("8.00")), "missing price keeps the current one")
}

func TestInventorySync_FeedOutageIsTransient(t *testing.T) {
	svc, store := newService(t)
	svc.Inventory = inventory.NewClient(feedServer(t).URL, time.Second, inventory.WithInterval(0))
	store.PutProduct(orders.Product{ID: "p4", SKU: "SKU-4", VendorID: "vendor-1", Price: dec("2.00"), StockQuantity: 5})

	err := svc.HandleInventorySync(context.Background(), payloadJob(t, jobs.KindInventorySync, jobs.InventorySyncPayload{VendorID: "vendor-1"}))
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	var se *inventory.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestInventorySync_UnknownVendorIsPermanent(t *testing.T) {
	svc, _ := newService(t)
	err := svc.HandleInventorySync(context.Background(), payloadJob(t, jobs.KindInventorySync, jobs.InventorySyncPayload{VendorID: "nobody"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func readBackup(t *testing.T, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	out := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = b
	}
	return out
}

func TestBackup_WritesArchiveOfEveryTable(t *testing.T) {
	svc, store := newService(t)
	putOrder(store, "o1", at("2024-03-01T10:00:00Z"), orders.StatusPending, "12.00")

	job := payloadJob(t, jobs.KindBackup, BackupPayload{Stamp: "20240302_030000"})
	require.NoError(t, svc.HandleBackup(context.Background(), job))

	path := filepath.Join(svc.BackupDir, "backup_20240302_030000.tar.gz")
	files := readBackup(t, path)
	for _, name := range []string{"users.json", "products.json", "orders.json", "order_items.json", "order_status_events.json", "stock_adjustments.json"} {
		assert.Contains(t, files, name)
	}
	assert.Contains(t, string(files["orders.json"]), `"o1"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	// a retry of the same run leaves the finished archive untouched
	require.NoError(t, svc.HandleBackup(context.Background(), job))
	again, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestBackup_FailureLeavesNoFile(t *testing.T) {
	svc, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.HandleBackup(ctx, payloadJob(t, jobs.KindBackup, BackupPayload{Stamp: "20240302_030000"}))
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))

	entries, err := os.ReadDir(svc.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackup_BadStampIsPermanent(t *testing.T) {
	svc, _ := newService(t)
	err := svc.HandleBackup(context.Background(), payloadJob(t, jobs.KindBackup, BackupPayload{Stamp: "../etc"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestHandlersCoverMaintenanceKinds(t *testing.T) {
	svc, _ := newService(t)
	h := svc.Handlers()
	for _, k := range []jobs.Kind{jobs.KindDailyReport, jobs.KindCleanup, jobs.KindInventorySync, jobs.KindBackup} {
		assert.Contains(t, h, k)
	}
}
