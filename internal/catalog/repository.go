// internal/catalog/repository.go
package catalog

import (
	"context"
	"errors"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"bibliocore/internal/events"
	"bibliocore/internal/schema"
	"bibliocore/internal/store"
)

var (
	ErrNotFound      = errors.New("book not found")
	ErrAlreadyExists = errors.New("book already exists")
	ErrActiveLoans   = errors.New("book has open borrow records")
	ErrCopiesInUse   = errors.New("cannot remove a copy that is lent out")
	ErrInvalidCopies = errors.New("copy count must be positive")
	ErrStoreFailed   = errors.New("store operation failed")
)

// Repository is the cache + CRUD front-end for books. Side effects always
// run store write, then cache mutation, then notification, in that order.
type Repository struct {
	exec   store.Executor
	bus    *events.Bus
	tracer trace.Tracer

	mu    sync.RWMutex
	books []Book
}

// NewRepository creates a books repository over the given executor.
func NewRepository(exec store.Executor, bus *events.Bus) *Repository {
	return &Repository{
		exec:   exec,
		bus:    bus,
		tracer: otel.Tracer("bibliocore/catalog"),
	}
}

// LoadAll replaces the cache from an unconditioned select and notifies.
func (r *Repository) LoadAll(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "catalog.load_all")
	defer span.End()

	res := r.exec.Select(ctx, schema.Books, nil)
	if !res.OK {
		return ErrStoreFailed
	}

	books := make([]Book, 0, len(res.Rows))
	for _, row := range res.Rows {
		books = append(books, bookFromRow(row))
	}

	r.mu.Lock()
	r.books = books
	r.mu.Unlock()

	r.bus.Publish(events.BooksUpdated)
	return nil
}

// All returns a copy of the cached book list.
func (r *Repository) All() []Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Book, len(r.books))
	copy(out, r.books)
	return out
}

// Available returns the cached books with at least one copy not lent out.
func (r *Repository) Available() []Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Book
	for _, b := range r.books {
		if b.AvailableCopies() > 0 {
			out = append(out, b)
		}
	}
	return out
}

// GetByID is a point lookup against the store, bypassing the cache so the
// caller always sees committed state.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Book, error) {
	res := r.exec.Select(ctx, schema.Books, map[string]any{"id": id})
	if !res.OK {
		return nil, ErrStoreFailed
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	b := bookFromRow(res.Rows[0])
	return &b, nil
}

// FindByTitleAuthor scans the cache for an exact title/author match.
func (r *Repository) FindByTitleAuthor(title, author string) *Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.books {
		if b.Title == title && b.Author == author {
			found := b
			return &found
		}
	}
	return nil
}

// Add inserts a new book with no copies lent out and reloads the cache.
func (r *Repository) Add(ctx context.Context, title, author string, year, copies int) (*Book, error) {
	ctx, span := r.tracer.Start(ctx, "catalog.add")
	defer span.End()

	if existing := r.FindByTitleAuthor(title, author); existing != nil {
		return nil, ErrAlreadyExists
	}

	res := r.exec.Insert(ctx, schema.Books, map[string]any{
		"title":          title,
		"author":         author,
		"year":           year,
		"copies":         copies,
		"borrowed_count": 0,
	})
	if !res.OK {
		return nil, ErrStoreFailed
	}

	if err := r.LoadAll(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, res.LastID)
}

// Remove deletes a book by id. Books with open borrow records are kept;
// the caller gets ErrActiveLoans instead of a dangling loan.
func (r *Repository) Remove(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "catalog.remove")
	defer span.End()

	open := r.exec.Select(ctx, schema.BorrowRecords, map[string]any{"book_id": id, "is_returned": 0})
	if !open.OK {
		return ErrStoreFailed
	}
	if len(open.Rows) > 0 {
		return ErrActiveLoans
	}

	res := r.exec.Delete(ctx, schema.Books, map[string]any{"id": id})
	if !res.OK {
		return ErrStoreFailed
	}
	if res.Affected == 0 {
		return ErrNotFound
	}

	r.mu.Lock()
	for i, b := range r.books {
		if b.ID == id {
			r.books = append(r.books[:i], r.books[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.bus.Publish(events.BooksUpdated)
	return nil
}

// AddCopies raises the owned copy count by n.
func (r *Repository) AddCopies(ctx context.Context, id int64, n int) error {
	if n <= 0 {
		return ErrInvalidCopies
	}

	book, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	res := r.exec.Update(ctx, schema.Books, map[string]any{"id": id, "copies": book.Copies + n})
	if !res.OK {
		return ErrStoreFailed
	}
	r.refresh(ctx)
	return nil
}

// RemoveCopy retires one owned copy. The count never drops below the number
// of copies currently lent out.
func (r *Repository) RemoveCopy(ctx context.Context, id int64) error {
	book, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if book.Copies <= book.BorrowedCount {
		return ErrCopiesInUse
	}

	res := r.exec.Update(ctx, schema.Books, map[string]any{"id": id, "copies": book.Copies - 1})
	if !res.OK {
		return ErrStoreFailed
	}
	r.refresh(ctx)
	return nil
}

// IncrementBorrowed records one more copy lent out. Used by the borrow
// workflow after it has inserted the loan record. An error means the count
// update itself did not commit; the workflow compensates on that and only
// that.
func (r *Repository) IncrementBorrowed(ctx context.Context, id int64) error {
	book, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if book.BorrowedCount >= book.Copies {
		return ErrCopiesInUse
	}

	res := r.exec.Update(ctx, schema.Books, map[string]any{"id": id, "borrowed_count": book.BorrowedCount + 1})
	if !res.OK {
		return ErrStoreFailed
	}
	r.refresh(ctx)
	return nil
}

// DecrementBorrowed records one copy coming back. Same error contract as
// IncrementBorrowed.
func (r *Repository) DecrementBorrowed(ctx context.Context, id int64) error {
	book, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if book.BorrowedCount <= 0 {
		return ErrCopiesInUse
	}

	res := r.exec.Update(ctx, schema.Books, map[string]any{"id": id, "borrowed_count": book.BorrowedCount - 1})
	if !res.OK {
		return ErrStoreFailed
	}
	r.refresh(ctx)
	return nil
}

// refresh reloads the cache after a committed write. The write has already
// landed, so a failed reload leaves the cache stale until the next load and
// is never reported as a write failure.
func (r *Repository) refresh(ctx context.Context) {
	if err := r.LoadAll(ctx); err != nil {
		log.Printf("catalog: cache refresh failed after committed write: %v", err)
	}
}

func bookFromRow(row store.Row) Book {
	return Book{
		ID:            row.Int64("id"),
		Title:         row.String("title"),
		Author:        row.String("author"),
		Year:          row.Int("year"),
		Copies:        row.Int("copies"),
		BorrowedCount: row.Int("borrowed_count"),
	}
}
