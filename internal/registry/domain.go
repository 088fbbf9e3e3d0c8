// internal/registry/domain.go
package registry

import "fmt"

// Client is a registered borrower. Family is a free-text grouping mirrored
// into the families set; it is a logical integrity constraint, not a hard
// foreign key.
type Client struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Family  string `json:"family"`
}

func (c Client) String() string {
	return fmt.Sprintf("%s %s (%s)", c.Name, c.Surname, c.Family)
}
