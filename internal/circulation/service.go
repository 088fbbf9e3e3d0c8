// internal/circulation/service.go
package circulation

import (
	"context"
	"time"
)

// Service is the borrow/return/extend workflow over the record store.
type Service interface {
	Borrow(ctx context.Context, clientID, bookID int64, borrowDate, dueDate time.Time) TxResult
	Return(ctx context.Context, recordID int64) TxResult
	Extend(ctx context.Context, recordID int64, days int) TxResult
	RecordsByClient(ctx context.Context, clientID int64) ([]BorrowRecord, error)
	RecordsByBook(ctx context.Context, bookID int64) ([]BorrowRecord, error)
}
