package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/gateway"
	"github.com/brokerfree/rental-backend/internal/notify"
)

// newTestDB opens a private in-memory SQLite database and migrates the full
// schema. Each call gets its own database so tests stay independent.
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Property{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Bookmark{},
		&domain.Deal{},
		&domain.Payment{},
		&domain.PaymentEvent{},
		&domain.Idempotency{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fixture is the minimal seeded world: an owner with one listed property and
// a tenant who already opened a conversation about it.
type fixture struct {
	Owner    domain.User
	Tenant   domain.User
	Property domain.Property
	Conv     domain.Conversation
}

func seedConversation(t *testing.T, db *gorm.DB, rent int64) fixture {
	t.Helper()
	f := fixture{
		Owner: domain.User{
			ID:        uuid.NewString(),
			FirstName: "asha",
			LastName:  "rao",
			Email:     fmt.Sprintf("owner_%s@example.com", uuid.NewString()),
			Role:      "user",
		},
		Tenant: domain.User{
			ID:        uuid.NewString(),
			FirstName: "vikram",
			LastName:  "nair",
			Email:     fmt.Sprintf("tenant_%s@example.com", uuid.NewString()),
			Role:      "user",
		},
	}
	f.Property = domain.Property{
		ID:          uuid.NewString(),
		OwnerID:     f.Owner.ID,
		Title:       "2BHK near metro",
		City:        "Bengaluru",
		MonthlyRent: rent,
		Status:      domain.PropertyAvailable,
	}
	f.Conv = domain.Conversation{
		ID:         uuid.NewString(),
		PropertyID: f.Property.ID,
		OwnerID:    f.Owner.ID,
		TenantID:   f.Tenant.ID,
	}
	for _, rec := range []any{&f.Owner, &f.Tenant, &f.Property, &f.Conv} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return f
}

// recordingNotifier captures submitted notifications for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Submit(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) byKind(k notify.Kind) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// fakeGateway returns canned order/refund ids and records calls.
type fakeGateway struct {
	mu          sync.Mutex
	orderID     string
	refundID    string
	orderErr    error
	refundErr   error
	orderCalls  int
	refundCalls int
}

func (f *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	id := f.orderID
	if id == "" {
		id = "order_test_1"
	}
	return &gateway.Order{ID: id, Currency: currency}, nil
}

func (f *fakeGateway) RefundPayment(_ context.Context, paymentRef string, amount int64, notes map[string]string) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	id := f.refundID
	if id == "" {
		id = "rfnd_test_1"
	}
	return &gateway.Refund{ID: id}, nil
}

// completeDeal drives a conversation's deal to COMPLETED through the service
// and returns it.
func completeDeal(t *testing.T, svc *DealService, f fixture) *DealDetail {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.OwnerConfirm(ctx, f.Conv.ID, f.Owner.ID, nil); err != nil {
		t.Fatalf("owner confirm: %v", err)
	}
	d, err := svc.TenantConfirm(ctx, f.Conv.ID, f.Tenant.ID)
	if err != nil {
		t.Fatalf("tenant confirm: %v", err)
	}
	if d.Status != domain.DealCompleted {
		t.Fatalf("deal status = %q, want COMPLETED", d.Status)
	}
	return d
}

func ptrInt64(v int64) *int64 { return &v }

func within(t *testing.T, ts *time.Time, d time.Duration) {
	t.Helper()
	if ts == nil {
		t.Fatal("timestamp not set")
	}
	if time.Since(*ts) > d {
		t.Fatalf("timestamp %v is older than %v", ts, d)
	}
}
