// internal/catalog/domain.go
package catalog

import "fmt"

// Book represents one title the library owns, with its copy bookkeeping.
type Book struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Year          int    `json:"year"`
	Copies        int    `json:"copies"`
	BorrowedCount int    `json:"borrowed_count"`
}

// AvailableCopies is the quantity gating new borrows.
func (b Book) AvailableCopies() int {
	return b.Copies - b.BorrowedCount
}

func (b Book) String() string {
	return fmt.Sprintf("%s by %s (%d), %d/%d available",
		b.Title, b.Author, b.Year, b.AvailableCopies(), b.Copies)
}
