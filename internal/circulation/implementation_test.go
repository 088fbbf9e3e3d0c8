package circulation

import (
	"bytes"
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bibliocore/internal/catalog"
	"bibliocore/internal/events"
	"bibliocore/internal/registry"
	"bibliocore/internal/schema"
	"bibliocore/internal/store"
)

// faultExec passes everything through to the real store but fails selected
// book statements on demand, to force the borrow workflow into its
// compensation path or degrade the cache reload that follows a committed
// count update.
type faultExec struct {
	store.Executor
	failBookUpdates bool
	failBookLoads   bool
}

func (f *faultExec) Update(ctx context.Context, table schema.Table, fields map[string]any) store.Result {
	if f.failBookUpdates && table == schema.Books {
		return store.Result{}
	}
	return f.Executor.Update(ctx, table, fields)
}

// The unconditioned books select is only issued by the cache reload; point
// lookups keep working.
func (f *faultExec) Select(ctx context.Context, table schema.Table, fields map[string]any) store.Result {
	if f.failBookLoads && table == schema.Books && len(fields) == 0 {
		return store.Result{}
	}
	return f.Executor.Select(ctx, table, fields)
}

type testEnv struct {
	svc     Service
	books   *catalog.Repository
	clients *registry.Repository
	st      *store.Store
	fault   *faultExec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fault := &faultExec{Executor: st}
	bus := events.NewBus()
	books := catalog.NewRepository(fault, bus)
	clients := registry.NewRepository(st, bus)

	ctx := context.Background()
	require.NoError(t, books.LoadAll(ctx))
	require.NoError(t, clients.LoadAll(ctx))

	return &testEnv{
		svc:     NewService(st, books, clients, bus, 14),
		books:   books,
		clients: clients,
		st:      st,
		fault:   fault,
	}
}

func (e *testEnv) addBook(t *testing.T, title, author string, copies int) *catalog.Book {
	t.Helper()
	book, err := e.books.Add(context.Background(), title, author, 1965, copies)
	require.NoError(t, err)
	return book
}

func (e *testEnv) addClient(t *testing.T, name string) *registry.Client {
	t.Helper()
	client, err := e.clients.Add(context.Background(), name, "Lee", "Lee family")
	require.NoError(t, err)
	return client
}

func (e *testEnv) openRecords(t *testing.T, bookID int64) []BorrowRecord {
	t.Helper()
	records, err := e.svc.RecordsByBook(context.Background(), bookID)
	require.NoError(t, err)
	var open []BorrowRecord
	for _, r := range records {
		if !r.IsReturned {
			open = append(open, r)
		}
	}
	return open
}

func TestBorrowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 2)
	client := env.addClient(t, "Ann")

	res := env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{})
	require.Equal(t, Success, res)

	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies())

	open := env.openRecords(t, book.ID)
	require.Len(t, open, 1)
	assert.Equal(t, client.ID, open[0].ClientID)
	assert.Equal(t, open[0].BorrowDate.AddDate(0, 0, 14), open[0].ReturnDate)
}

func TestBorrowClientNotFound(t *testing.T) {
	env := newTestEnv(t)
	book := env.addBook(t, "Dune", "Herbert", 1)

	res := env.svc.Borrow(context.Background(), 99, book.ID, time.Time{}, time.Time{})
	assert.Equal(t, ClientNotFound, res)
}

func TestBorrowBookNotFound(t *testing.T) {
	env := newTestEnv(t)
	client := env.addClient(t, "Ann")

	res := env.svc.Borrow(context.Background(), client.ID, 99, time.Time{}, time.Time{})
	assert.Equal(t, BookNotFound, res)
}

func TestBorrowZeroCopies(t *testing.T) {
	env := newTestEnv(t)
	book := env.addBook(t, "Dune", "Herbert", 0)
	client := env.addClient(t, "Ann")

	res := env.svc.Borrow(context.Background(), client.ID, book.ID, time.Time{}, time.Time{})
	assert.Equal(t, NoCopies, res)
}

func TestBorrowAllCopiesLentOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 1)
	ann := env.addClient(t, "Ann")
	bob := env.addClient(t, "Bob")

	require.Equal(t, Success, env.svc.Borrow(ctx, ann.ID, book.ID, time.Time{}, time.Time{}))

	res := env.svc.Borrow(ctx, bob.ID, book.ID, time.Time{}, time.Time{})
	assert.Equal(t, NotAvailableBook, res)

	// The failed attempt must not have touched anything.
	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies())
	assert.Len(t, env.openRecords(t, book.ID), 1)
}

func TestBorrowSamePairTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 3)
	client := env.addClient(t, "Ann")

	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{}))

	res := env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{})
	assert.Equal(t, AlreadyBorrowed, res)
	assert.Len(t, env.openRecords(t, book.ID), 1)
}

func TestBorrowCompensatesFailedCountUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 2)
	client := env.addClient(t, "Ann")

	before, err := env.svc.RecordsByBook(ctx, book.ID)
	require.NoError(t, err)

	env.fault.failBookUpdates = true
	res := env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{})
	env.fault.failBookUpdates = false

	assert.Equal(t, DbFailed, res)

	// No orphan record may survive the failed attempt.
	after, err := env.svc.RecordsByBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BorrowedCount)
}

func TestBorrowKeepsCommittedCountOnRefreshFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 2)
	client := env.addClient(t, "Ann")

	// The count update commits; only the cache reload after it degrades.
	// That must not be mistaken for a write failure, or the compensating
	// delete removes the record while the incremented count survives.
	env.fault.failBookLoads = true
	res := env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{})
	env.fault.failBookLoads = false

	require.Equal(t, Success, res)

	open := env.openRecords(t, book.ID)
	require.Len(t, open, 1)

	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BorrowedCount)
	assert.Equal(t, len(open), got.BorrowedCount)
}

func TestReturnKeepsCommittedCountOnRefreshFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 1)
	client := env.addClient(t, "Ann")
	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{}))
	record := env.openRecords(t, book.ID)[0]

	env.fault.failBookLoads = true
	res := env.svc.Return(ctx, record.ID)
	env.fault.failBookLoads = false

	require.Equal(t, Success, res)

	// The record stays closed and the decrement sticks.
	assert.Empty(t, env.openRecords(t, book.ID))
	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BorrowedCount)
	assert.Equal(t, 1, got.AvailableCopies())
}

func TestReturnRestoresAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 1)
	client := env.addClient(t, "Ann")

	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{}))
	record := env.openRecords(t, book.ID)[0]

	require.Equal(t, Success, env.svc.Return(ctx, record.ID))

	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies())
	assert.Empty(t, env.openRecords(t, book.ID))

	// A closed record cannot be returned again.
	assert.Equal(t, RecordNotFound, env.svc.Return(ctx, record.ID))
}

func TestReturnUnknownRecord(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, RecordNotFound, env.svc.Return(context.Background(), 99))
}

func TestReturnCompensatesFailedCountUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 1)
	client := env.addClient(t, "Ann")
	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{}))
	record := env.openRecords(t, book.ID)[0]

	env.fault.failBookUpdates = true
	res := env.svc.Return(ctx, record.ID)
	env.fault.failBookUpdates = false

	assert.Equal(t, DbFailed, res)

	// The record must still be open so availability stays consistent.
	require.Len(t, env.openRecords(t, book.ID), 1)
	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BorrowedCount)
}

func TestExtendMovesDueDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 1)
	client := env.addClient(t, "Ann")
	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, book.ID, time.Time{}, time.Time{}))
	record := env.openRecords(t, book.ID)[0]

	require.Equal(t, Success, env.svc.Extend(ctx, record.ID, 7))

	extended := env.openRecords(t, book.ID)[0]
	assert.Equal(t, record.ReturnDate.AddDate(0, 0, 7), extended.ReturnDate)
	assert.False(t, extended.IsReturned)
	assert.Equal(t, record.BorrowDate, extended.BorrowDate)
}

func TestExtendRejectsNonPositiveDays(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, InvalidExtension, env.svc.Extend(context.Background(), 1, 0))
	assert.Equal(t, InvalidExtension, env.svc.Extend(context.Background(), 1, -5))
}

func TestExtendUnknownRecord(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, RecordNotFound, env.svc.Extend(context.Background(), 99, 7))
}

func TestRecordsByClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dune := env.addBook(t, "Dune", "Herbert", 1)
	solaris := env.addBook(t, "Solaris", "Lem", 1)
	client := env.addClient(t, "Ann")

	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, dune.ID, time.Time{}, time.Time{}))
	require.Equal(t, Success, env.svc.Borrow(ctx, client.ID, solaris.ID, time.Time{}, time.Time{}))

	records, err := env.svc.RecordsByClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecordsSurviveCorruptedDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ins := env.st.Insert(ctx, schema.BorrowRecords, map[string]any{
		"client_id":   7,
		"book_id":     9,
		"borrow_date": "not-a-date",
		"return_date": "2026-03-01",
		"is_returned": 0,
	})
	require.True(t, ins.OK)

	records, err := env.svc.RecordsByClient(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].BorrowDate.IsZero())
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), records[0].ReturnDate)
	assert.Contains(t, buf.String(), "borrow_date")
}

// Two copies of Dune, three hopeful readers.
func TestBorrowScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "Dune", "Herbert", 2)
	ann := env.addClient(t, "Ann")
	bob := env.addClient(t, "Bob")
	cid := env.addClient(t, "Cid")

	available := func() int {
		got, err := env.books.GetByID(ctx, book.ID)
		require.NoError(t, err)
		return got.AvailableCopies()
	}

	require.Equal(t, Success, env.svc.Borrow(ctx, ann.ID, book.ID, time.Time{}, time.Time{}))
	assert.Equal(t, 1, available())

	require.Equal(t, Success, env.svc.Borrow(ctx, bob.ID, book.ID, time.Time{}, time.Time{}))
	assert.Equal(t, 0, available())

	assert.Equal(t, NotAvailableBook, env.svc.Borrow(ctx, cid.ID, book.ID, time.Time{}, time.Time{}))

	annRecord := env.openRecords(t, book.ID)[0]
	if annRecord.ClientID != ann.ID {
		annRecord = env.openRecords(t, book.ID)[1]
	}
	require.Equal(t, Success, env.svc.Return(ctx, annRecord.ID))
	assert.Equal(t, 1, available())

	require.Equal(t, Success, env.svc.Borrow(ctx, cid.ID, book.ID, time.Time{}, time.Time{}))
	assert.Equal(t, 0, available())
}
