// internal/circulation/domain.go
package circulation

import "time"

// DateLayout is the persisted form of borrow and return dates.
const DateLayout = "2006-01-02"

// BorrowRecord is a single loan linking one client to one book.
type BorrowRecord struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	BookID     int64     `json:"book_id"`
	BorrowDate time.Time `json:"borrow_date"`
	ReturnDate time.Time `json:"return_date"`
	IsReturned bool      `json:"is_returned"`
}

// TxResult is the discriminated outcome of a circulation operation. Callers
// branch on the variant; message text is a presentation concern.
//
// ClientAlreadyExists and BookAlreadyExists complete the taxonomy for
// record creation, which lives in the registry and catalog repositories.
// Those surface duplicates as their own sentinel errors; the borrow, return
// and extend paths never construct these two variants.
type TxResult int

const (
	Success TxResult = iota
	DbFailed
	ClientNotFound
	BookNotFound
	ClientAlreadyExists
	BookAlreadyExists
	NotAvailableBook
	NoCopies
	AlreadyBorrowed
	RecordNotFound
	InvalidExtension
)

func (t TxResult) String() string {
	switch t {
	case Success:
		return "success"
	case DbFailed:
		return "db_failed"
	case ClientNotFound:
		return "client_not_found"
	case BookNotFound:
		return "book_not_found"
	case ClientAlreadyExists:
		return "client_already_exists"
	case BookAlreadyExists:
		return "book_already_exists"
	case NotAvailableBook:
		return "not_available"
	case NoCopies:
		return "no_copies"
	case AlreadyBorrowed:
		return "already_borrowed"
	case RecordNotFound:
		return "record_not_found"
	case InvalidExtension:
		return "invalid_extension"
	}
	return "unknown"
}
