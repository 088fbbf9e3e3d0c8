// internal/registry/repository.go
package registry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"bibliocore/internal/events"
	"bibliocore/internal/schema"
	"bibliocore/internal/store"
)

var (
	ErrNotFound      = errors.New("client not found")
	ErrAlreadyExists = errors.New("client already exists")
	ErrActiveLoans   = errors.New("client has open borrow records")
	ErrStoreFailed   = errors.New("store operation failed")
)

// Repository is the cache + CRUD front-end for clients and the derived
// families set.
type Repository struct {
	exec   store.Executor
	bus    *events.Bus
	tracer trace.Tracer

	mu       sync.RWMutex
	clients  []Client
	families []string
}

// NewRepository creates a clients repository over the given executor.
func NewRepository(exec store.Executor, bus *events.Bus) *Repository {
	return &Repository{
		exec:   exec,
		bus:    bus,
		tracer: otel.Tracer("bibliocore/registry"),
	}
}

// LoadAll refreshes both caches and notifies for each.
func (r *Repository) LoadAll(ctx context.Context) error {
	if err := r.LoadClients(ctx); err != nil {
		return err
	}
	return r.LoadFamilies(ctx)
}

// LoadClients replaces the client cache from an unconditioned select.
func (r *Repository) LoadClients(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "registry.load_clients")
	defer span.End()

	res := r.exec.Select(ctx, schema.Clients, nil)
	if !res.OK {
		return ErrStoreFailed
	}

	clients := make([]Client, 0, len(res.Rows))
	for _, row := range res.Rows {
		clients = append(clients, clientFromRow(row))
	}

	r.mu.Lock()
	r.clients = clients
	r.mu.Unlock()

	r.bus.Publish(events.ClientsUpdated)
	return nil
}

// LoadFamilies replaces the family cache from an unconditioned select.
func (r *Repository) LoadFamilies(ctx context.Context) error {
	res := r.exec.Select(ctx, schema.Families, nil)
	if !res.OK {
		return ErrStoreFailed
	}

	families := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		families = append(families, row.String("name"))
	}

	r.mu.Lock()
	r.families = families
	r.mu.Unlock()

	r.bus.Publish(events.FamiliesUpdated)
	return nil
}

// AllClients returns a copy of the cached client list.
func (r *Repository) AllClients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, len(r.clients))
	copy(out, r.clients)
	return out
}

// AllFamilies returns a copy of the cached family names.
func (r *Repository) AllFamilies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.families))
	copy(out, r.families)
	return out
}

// GetByID is a point lookup against the store, bypassing the cache.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Client, error) {
	res := r.exec.Select(ctx, schema.Clients, map[string]any{"id": id})
	if !res.OK {
		return nil, ErrStoreFailed
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	c := clientFromRow(res.Rows[0])
	return &c, nil
}

// ClientsByFamily returns every client recorded under the family name.
func (r *Repository) ClientsByFamily(ctx context.Context, family string) ([]Client, error) {
	res := r.exec.Select(ctx, schema.Clients, map[string]any{"family": family})
	if !res.OK {
		return nil, ErrStoreFailed
	}

	clients := make([]Client, 0, len(res.Rows))
	for _, row := range res.Rows {
		clients = append(clients, clientFromRow(row))
	}
	return clients, nil
}

// EnsureFamily inserts the family name if it is not present yet. Idempotent;
// invoked on every client add or update that carries a family value.
func (r *Repository) EnsureFamily(ctx context.Context, name string) error {
	res := r.exec.Select(ctx, schema.Families, map[string]any{"name": name})
	if !res.OK {
		return ErrStoreFailed
	}
	if len(res.Rows) > 0 {
		return nil
	}

	if ins := r.exec.Insert(ctx, schema.Families, map[string]any{"name": name}); !ins.OK {
		return ErrStoreFailed
	}
	return r.LoadFamilies(ctx)
}

// Add registers a new client, mirroring its family into the families set
// first so the logical constraint holds before the client row lands.
func (r *Repository) Add(ctx context.Context, name, surname, family string) (*Client, error) {
	ctx, span := r.tracer.Start(ctx, "registry.add")
	defer span.End()

	r.mu.RLock()
	for _, c := range r.clients {
		if c.Name == name && c.Surname == surname && c.Family == family {
			r.mu.RUnlock()
			return nil, ErrAlreadyExists
		}
	}
	r.mu.RUnlock()

	if err := r.EnsureFamily(ctx, family); err != nil {
		return nil, err
	}

	res := r.exec.Insert(ctx, schema.Clients, map[string]any{
		"name":    name,
		"surname": surname,
		"family":  family,
	})
	if !res.OK {
		return nil, ErrStoreFailed
	}

	if err := r.LoadClients(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, res.LastID)
}

// Update rewrites a client's fields; the caller refreshes its own view.
func (r *Repository) Update(ctx context.Context, id int64, name, surname, family string) error {
	ctx, span := r.tracer.Start(ctx, "registry.update")
	defer span.End()

	if err := r.EnsureFamily(ctx, family); err != nil {
		return err
	}

	res := r.exec.Update(ctx, schema.Clients, map[string]any{
		"id":      id,
		"name":    name,
		"surname": surname,
		"family":  family,
	})
	if !res.OK {
		return ErrStoreFailed
	}
	if res.Affected == 0 {
		return ErrNotFound
	}
	return r.LoadClients(ctx)
}

// Remove deletes a client. Clients with open loans stay on the books.
func (r *Repository) Remove(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "registry.remove")
	defer span.End()

	open := r.exec.Select(ctx, schema.BorrowRecords, map[string]any{"client_id": id, "is_returned": 0})
	if !open.OK {
		return ErrStoreFailed
	}
	if len(open.Rows) > 0 {
		return ErrActiveLoans
	}

	res := r.exec.Delete(ctx, schema.Clients, map[string]any{"id": id})
	if !res.OK {
		return ErrStoreFailed
	}
	if res.Affected == 0 {
		return ErrNotFound
	}

	r.mu.Lock()
	for i, c := range r.clients {
		if c.ID == id {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.bus.Publish(events.ClientsUpdated)
	return nil
}

func clientFromRow(row store.Row) Client {
	return Client{
		ID:      row.Int64("id"),
		Name:    row.String("name"),
		Surname: row.String("surname"),
		Family:  row.String("family"),
	}
}
