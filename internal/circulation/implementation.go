// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bibliocore/internal/catalog"
	"bibliocore/internal/events"
	"bibliocore/internal/registry"
	"bibliocore/internal/schema"
	"bibliocore/internal/store"
)

// ErrStoreFailed is returned by the record queries when the store degrades.
var ErrStoreFailed = errors.New("store operation failed")

// service implements the Service interface.
type service struct {
	exec     store.Executor
	catalog  *catalog.Repository
	registry *registry.Repository
	bus      *events.Bus
	tracer   trace.Tracer

	loanPeriodDays int

	// Serializes the check-then-act sequences so two concurrent borrows
	// cannot both pass the availability check before either writes.
	mu sync.Mutex
}

// NewService creates the circulation service. loanPeriodDays is the due date
// applied when the caller does not supply one.
func NewService(exec store.Executor, cat *catalog.Repository, reg *registry.Repository, bus *events.Bus, loanPeriodDays int) Service {
	if loanPeriodDays <= 0 {
		loanPeriodDays = 14
	}
	return &service{
		exec:           exec,
		catalog:        cat,
		registry:       reg,
		bus:            bus,
		tracer:         otel.Tracer("bibliocore/circulation"),
		loanPeriodDays: loanPeriodDays,
	}
}

// Borrow runs the guarded multi-step borrow transaction. Either the loan
// record and the book's borrowed count both commit, or the inserted record
// is compensated away.
func (s *service) Borrow(ctx context.Context, clientID, bookID int64, borrowDate, dueDate time.Time) TxResult {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.Int64("client.id", clientID),
			attribute.Int64("book.id", bookID),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.registry.GetByID(ctx, clientID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ClientNotFound
		}
		return DbFailed
	}

	book, err := s.catalog.GetByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return BookNotFound
		}
		return DbFailed
	}

	// A book record can exist with zero owned copies; that is a different
	// failure than every copy being lent out.
	if book.Copies <= 0 {
		return NoCopies
	}
	if book.AvailableCopies() <= 0 {
		return NotAvailableBook
	}

	open := s.exec.Select(ctx, schema.BorrowRecords, map[string]any{
		"client_id": clientID, "book_id": bookID, "is_returned": 0,
	})
	if !open.OK {
		return DbFailed
	}
	if len(open.Rows) > 0 {
		// At most one open loan per (client, book) pair.
		return AlreadyBorrowed
	}

	if borrowDate.IsZero() {
		borrowDate = time.Now()
	}
	if dueDate.IsZero() {
		dueDate = borrowDate.AddDate(0, 0, s.loanPeriodDays)
	}

	ins := s.exec.Insert(ctx, schema.BorrowRecords, map[string]any{
		"client_id":   clientID,
		"book_id":     bookID,
		"borrow_date": borrowDate.Format(DateLayout),
		"return_date": dueDate.Format(DateLayout),
		"is_returned": 0,
	})
	if !ins.OK {
		return DbFailed
	}

	if err := s.catalog.IncrementBorrowed(ctx, bookID); err != nil {
		// No cross-statement transaction is available here, so undo the
		// record insert ourselves.
		span.AddEvent("borrow.compensating", trace.WithAttributes(attribute.Int64("record.id", ins.LastID)))
		if del := s.exec.Delete(ctx, schema.BorrowRecords, map[string]any{"id": ins.LastID}); !del.OK {
			log.Printf("circulation: compensation failed, orphan borrow record id=%d", ins.LastID)
		}
		return DbFailed
	}

	s.bus.Publish(events.TransactionsUpdated)
	return Success
}

// Return marks the loan returned and hands the copy back to the book's
// availability in the same guarded sequence.
func (s *service) Return(ctx context.Context, recordID int64) TxResult {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.Int64("record.id", recordID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, res := s.getRecord(ctx, recordID)
	if res != Success {
		return res
	}
	if rec.IsReturned {
		return RecordNotFound
	}

	if upd := s.exec.Update(ctx, schema.BorrowRecords, map[string]any{"id": recordID, "is_returned": 1}); !upd.OK {
		return DbFailed
	}

	if err := s.catalog.DecrementBorrowed(ctx, rec.BookID); err != nil {
		// Keep the joint invariant: the record flips back rather than
		// leaving available copies understated.
		span.AddEvent("return.compensating")
		if revert := s.exec.Update(ctx, schema.BorrowRecords, map[string]any{"id": recordID, "is_returned": 0}); !revert.OK {
			log.Printf("circulation: compensation failed, record id=%d marked returned without count adjustment", recordID)
		}
		return DbFailed
	}

	s.bus.Publish(events.TransactionsUpdated)
	return Success
}

// Extend advances the loan's due date by the given number of days.
func (s *service) Extend(ctx context.Context, recordID int64, days int) TxResult {
	ctx, span := s.tracer.Start(ctx, "circulation.extend",
		trace.WithAttributes(
			attribute.Int64("record.id", recordID),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	if days <= 0 {
		return InvalidExtension
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, res := s.getRecord(ctx, recordID)
	if res != Success {
		return res
	}
	if rec.IsReturned {
		return RecordNotFound
	}

	newDue := rec.ReturnDate.AddDate(0, 0, days)
	upd := s.exec.Update(ctx, schema.BorrowRecords, map[string]any{
		"id":          recordID,
		"return_date": newDue.Format(DateLayout),
	})
	if !upd.OK {
		return DbFailed
	}

	s.bus.Publish(events.TransactionsUpdated)
	return Success
}

// RecordsByClient returns every loan, open or closed, for the client.
func (s *service) RecordsByClient(ctx context.Context, clientID int64) ([]BorrowRecord, error) {
	res := s.exec.Select(ctx, schema.BorrowRecords, map[string]any{"client_id": clientID})
	if !res.OK {
		return nil, ErrStoreFailed
	}
	return recordsFromRows(res.Rows), nil
}

// RecordsByBook returns every loan, open or closed, for the book.
func (s *service) RecordsByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error) {
	res := s.exec.Select(ctx, schema.BorrowRecords, map[string]any{"book_id": bookID})
	if !res.OK {
		return nil, ErrStoreFailed
	}
	return recordsFromRows(res.Rows), nil
}

func (s *service) getRecord(ctx context.Context, recordID int64) (BorrowRecord, TxResult) {
	res := s.exec.Select(ctx, schema.BorrowRecords, map[string]any{"id": recordID})
	if !res.OK {
		return BorrowRecord{}, DbFailed
	}
	if len(res.Rows) == 0 {
		return BorrowRecord{}, RecordNotFound
	}
	return recordFromRow(res.Rows[0]), Success
}

func recordsFromRows(rows []store.Row) []BorrowRecord {
	records := make([]BorrowRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records
}

func recordFromRow(row store.Row) BorrowRecord {
	return BorrowRecord{
		ID:         row.Int64("id"),
		ClientID:   row.Int64("client_id"),
		BookID:     row.Int64("book_id"),
		BorrowDate: parseStoredDate("borrow_date", row.String("borrow_date")),
		ReturnDate: parseStoredDate("return_date", row.String("return_date")),
		IsReturned: row.Bool("is_returned"),
	}
}

// parseStoredDate reads a persisted date column. A value that does not parse
// is a corrupted row, not a caller error: it is logged and surfaced as the
// zero time.
func parseStoredDate(column, value string) time.Time {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		log.Printf("circulation: unreadable %s %q: %v", column, value, err)
	}
	return t
}
