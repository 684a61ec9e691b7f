package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/podbridge/fulfillment/internal/domain"
	"github.com/podbridge/fulfillment/internal/repositories"
)

const defaultListLimit = 50

// Store provides an in-memory registry useful for testing and local development.
// Every repository shares one mutex so reconciliation writes are atomic.
type Store struct {
	mu        sync.Mutex
	orders    map[string]domain.LocalOrder
	products  map[string]domain.ProviderMetadata
	externals map[string]domain.ExternalOrderRecord
	events    []domain.WebhookEvent
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty memory-backed registry.
func NewStore() *Store {
	return &Store{
		orders:    make(map[string]domain.LocalOrder),
		products:  make(map[string]domain.ProviderMetadata),
		externals: make(map[string]domain.ExternalOrderRecord),
	}
}

// PutOrder seeds or replaces a local order.
func (s *Store) PutOrder(order domain.LocalOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
}

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) ExternalOrders() repositories.ExternalOrderRepository { return externalRepo{s} }
func (s *Store) WebhookEvents() repositories.WebhookEventRepository { return eventRepo{s} }
func (s *Store) Reconciliation() repositories.ReconciliationRepository { return reconciliationRepo{s} }

type orderRepo struct{ s *Store }

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.LocalOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.LocalOrder{}, repositories.NewNotFoundError("orders.find", "order not found")
	}
	return cloneOrder(order), nil
}

func (r orderRepo) TransitionStatus(_ context.Context, orderID string, next domain.OrderStatus, at time.Time) (domain.LocalOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.LocalOrder{}, repositories.NewNotFoundError("orders.transition", "order not found")
	}
	if !order.Status.CanTransitionTo(next) {
		return cloneOrder(order), repositories.NewConflictError("orders.transition",
			"cannot move order from "+string(order.Status)+" to "+string(next))
	}
	order.Status = next
	order.UpdatedAt = at.UTC()
	r.s.orders[order.ID] = order
	return cloneOrder(order), nil
}

type productRepo struct{ s *Store }

func (r productRepo) ProviderMetadata(_ context.Context, productIDs []string) (map[string]domain.ProviderMetadata, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := make(map[string]domain.ProviderMetadata, len(productIDs))
	for _, id := range productIDs {
		if meta, ok := r.s.products[id]; ok {
			meta.Variants = append([]domain.VariantOption(nil), meta.Variants...)
			result[id] = meta
		}
	}
	return result, nil
}

func (r productRepo) SaveProviderMetadata(_ context.Context, metadata domain.ProviderMetadata) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	metadata.Variants = append([]domain.VariantOption(nil), metadata.Variants...)
	r.s.products[metadata.ProductID] = metadata
	return nil
}

type externalRepo struct{ s *Store }

func (r externalRepo) FindByReference(_ context.Context, referenceID string) (domain.ExternalOrderRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.externals[strings.TrimSpace(referenceID)]
	if !ok {
		return domain.ExternalOrderRecord{}, repositories.NewNotFoundError("externalOrders.find", "external order not found")
	}
	return cloneRecord(record), nil
}

func (r externalRepo) Save(_ context.Context, record domain.ExternalOrderRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.externals[record.ReferenceID] = cloneRecord(record)
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(_ context.Context, event domain.WebhookEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.events {
		if existing.ID == event.ID {
			return repositories.NewConflictError("webhookEvents.append", "event already recorded")
		}
	}
	event.Payload = append([]byte{}, event.Payload...)
	r.s.events = append(r.s.events, event)
	return nil
}

func (r eventRepo) FindByID(_ context.Context, eventID string) (domain.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, event := range r.s.events {
		if event.ID == eventID {
			return event, nil
		}
	}
	return domain.WebhookEvent{}, repositories.NewNotFoundError("webhookEvents.find", "webhook event not found")
}

func (r eventRepo) List(_ context.Context, filter repositories.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	matched := make([]domain.WebhookEvent, 0)
	for _, event := range r.s.events {
		if filter.ReferenceID != "" && (event.ReferenceID == nil || *event.ReferenceID != filter.ReferenceID) {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if filter.Unprocessed && event.Processed {
			continue
		}
		matched = append(matched, event)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type reconciliationRepo struct{ s *Store }

func (r reconciliationRepo) Apply(_ context.Context, referenceID string, mutate repositories.ReconcileFunc) (domain.ExternalOrderRecord, domain.LocalOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.externals[strings.TrimSpace(referenceID)]
	if !ok {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, repositories.NewNotFoundError("reconciliation.apply", "external order not found")
	}
	order, ok := r.s.orders[record.LocalOrderID]
	if !ok {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, repositories.NewNotFoundError("reconciliation.apply", "local order not found")
	}
	nextRecord, nextOrder, err := mutate(cloneRecord(record), cloneOrder(order))
	if err != nil {
		return domain.ExternalOrderRecord{}, domain.LocalOrder{}, err
	}
	r.s.externals[nextRecord.ReferenceID] = cloneRecord(nextRecord)
	r.s.orders[nextOrder.ID] = cloneOrder(nextOrder)
	return nextRecord, nextOrder, nil
}

func cloneOrder(order domain.LocalOrder) domain.LocalOrder {
	order.Items = append([]domain.LineItem(nil), order.Items...)
	return order
}

func cloneRecord(record domain.ExternalOrderRecord) domain.ExternalOrderRecord {
	record.Items = append([]domain.SubmittedItem(nil), record.Items...)
	return record
}
