package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/brokerfree/rental-backend/internal/domain"
	"github.com/brokerfree/rental-backend/internal/gateway"
	"github.com/brokerfree/rental-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

//
// Fakes
//

type fakeDealSvc struct {
	ownerConfirm  func(ctx context.Context, conversationID, ownerID string, agreedRent *int64) (*services.DealDetail, error)
	tenantConfirm func(ctx context.Context, conversationID, tenantID string) (*services.DealDetail, error)
	cancel        func(ctx context.Context, dealID, userID string) error
	getDetail     func(ctx context.Context, dealID, userID string) (*services.DealDetail, error)
}

func (f *fakeDealSvc) OwnerConfirm(ctx context.Context, conversationID, ownerID string, agreedRent *int64) (*services.DealDetail, error) {
	return f.ownerConfirm(ctx, conversationID, ownerID, agreedRent)
}
func (f *fakeDealSvc) TenantConfirm(ctx context.Context, conversationID, tenantID string) (*services.DealDetail, error) {
	return f.tenantConfirm(ctx, conversationID, tenantID)
}
func (f *fakeDealSvc) Cancel(ctx context.Context, dealID, userID string) error {
	return f.cancel(ctx, dealID, userID)
}
func (f *fakeDealSvc) GetDetail(ctx context.Context, dealID, userID string) (*services.DealDetail, error) {
	return f.getDetail(ctx, dealID, userID)
}

type fakePaySvc struct {
	createOrder   func(ctx context.Context, dealID string, amount int64, description, payerID, email, phone, userName string) (*services.OrderResult, error)
	verifyPayment func(ctx context.Context, orderID, paymentRef, signature, dealID string) (*domain.Payment, error)
	handleWebhook func(ctx context.Context, body []byte, signature string) error
	refund        func(ctx context.Context, dealID, reason string) error
	details       func(ctx context.Context, dealID string) (*services.PaymentDetail, error)
}

func (f *fakePaySvc) CreateOrder(ctx context.Context, dealID string, amount int64, description, payerID, email, phone, userName string) (*services.OrderResult, error) {
	return f.createOrder(ctx, dealID, amount, description, payerID, email, phone, userName)
}
func (f *fakePaySvc) VerifyPayment(ctx context.Context, orderID, paymentRef, signature, dealID string) (*domain.Payment, error) {
	return f.verifyPayment(ctx, orderID, paymentRef, signature, dealID)
}
func (f *fakePaySvc) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	return f.handleWebhook(ctx, body, signature)
}
func (f *fakePaySvc) Refund(ctx context.Context, dealID, reason string) error {
	return f.refund(ctx, dealID, reason)
}
func (f *fakePaySvc) Details(ctx context.Context, dealID string) (*services.PaymentDetail, error) {
	return f.details(ctx, dealID)
}

type fakeConvSvc struct {
	start     func(ctx context.Context, propertyID, tenantID string) (*domain.Conversation, error)
	post      func(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error)
	listPage  func(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error)
	listConvs func(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
}

func (f *fakeConvSvc) StartConversation(ctx context.Context, propertyID, tenantID string) (*domain.Conversation, error) {
	return f.start(ctx, propertyID, tenantID)
}
func (f *fakeConvSvc) Post(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	return f.post(ctx, conversationID, senderID, content)
}
func (f *fakeConvSvc) ListPage(ctx context.Context, conversationID, userID string, page, pageSize int) ([]domain.Message, int64, error) {
	return f.listPage(ctx, conversationID, userID, page, pageSize)
}
func (f *fakeConvSvc) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	return f.listConvs(ctx, userID, page, pageSize)
}

type fakeBookmarkSvc struct {
	save   func(ctx context.Context, userID, propertyID string) error
	remove func(ctx context.Context, userID, propertyID string) error
	list   func(ctx context.Context, userID string) ([]domain.Bookmark, error)
}

func (f *fakeBookmarkSvc) Save(ctx context.Context, userID, propertyID string) error {
	return f.save(ctx, userID, propertyID)
}
func (f *fakeBookmarkSvc) Remove(ctx context.Context, userID, propertyID string) error {
	return f.remove(ctx, userID, propertyID)
}
func (f *fakeBookmarkSvc) List(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	return f.list(ctx, userID)
}

//
// Harness
//

// newRouter mounts the handlers on the production route shapes.
func newRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/conversations", h.StartConversation)
	r.GET("/conversations", h.ListConversations)
	r.POST("/conversations/:id/messages", h.PostMessage)
	r.GET("/conversations/:id/messages", h.ListMessages)
	r.POST("/conversations/:id/deal/owner-confirm", h.OwnerConfirm)
	r.POST("/conversations/:id/deal/tenant-confirm", h.TenantConfirm)
	r.GET("/deals/:id", h.GetDeal)
	r.POST("/deals/:id/cancel", h.CancelDeal)
	r.POST("/payments/order", h.CreateOrder)
	r.POST("/payments/verify", h.VerifyPayment)
	r.GET("/payments/:dealId", h.GetPayment)
	r.POST("/payments/:dealId/refund", h.RefundPayment)
	r.POST("/webhooks/payment-gateway", h.PaymentWebhook)
	r.POST("/properties/:id/bookmark", h.SaveBookmark)
	r.DELETE("/properties/:id/bookmark", h.RemoveBookmark)
	r.GET("/bookmarks", h.ListBookmarks)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func wantErrCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != code {
		t.Fatalf("code = %q, want %q", resp.Code, code)
	}
}

//
// Deal endpoints
//

func TestOwnerConfirm(t *testing.T) {
	convID := uuid.NewString()

	t.Run("passes rent through and returns detail", func(t *testing.T) {
		var gotRent *int64
		h := New(&fakeDealSvc{
			ownerConfirm: func(_ context.Context, cid, uid string, rent *int64) (*services.DealDetail, error) {
				if cid != convID || uid != "owner-1" {
					t.Errorf("args = (%q, %q)", cid, uid)
				}
				gotRent = rent
				return &services.DealDetail{Deal: domain.Deal{ID: "d1", Status: domain.DealPendingTenant}}, nil
			},
		}, nil, nil, nil)

		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/deal/owner-confirm", "owner-1",
			OwnerConfirmRequest{AgreedRent: ptr(int64(18_500))}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		if gotRent == nil || *gotRent != 18_500 {
			t.Fatalf("rent = %v, want 18500", gotRent)
		}
	})

	t.Run("empty body means no rent override", func(t *testing.T) {
		h := New(&fakeDealSvc{
			ownerConfirm: func(_ context.Context, _, _ string, rent *int64) (*services.DealDetail, error) {
				if rent != nil {
					t.Errorf("rent = %v, want nil", rent)
				}
				return &services.DealDetail{Deal: domain.Deal{ID: "d1"}}, nil
			},
		}, nil, nil, nil)

		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/deal/owner-confirm", "owner-1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("non-uuid conversation id", func(t *testing.T) {
		h := New(&fakeDealSvc{}, nil, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/not-a-uuid/deal/owner-confirm", "owner-1", nil, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("missing identity", func(t *testing.T) {
		h := New(&fakeDealSvc{}, nil, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/deal/owner-confirm", "", nil, nil)
		wantErrCode(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
	})

	t.Run("cancelled deal maps to conflict", func(t *testing.T) {
		h := New(&fakeDealSvc{
			ownerConfirm: func(context.Context, string, string, *int64) (*services.DealDetail, error) {
				return nil, services.ErrDealCancelled
			},
		}, nil, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/deal/owner-confirm", "owner-1", nil, nil)
		wantErrCode(t, w, http.StatusConflict, ErrCodeInvalidState)
	})
}

func TestTenantConfirm_UnknownConversation(t *testing.T) {
	h := New(&fakeDealSvc{
		tenantConfirm: func(context.Context, string, string) (*services.DealDetail, error) {
			return nil, services.ErrConversationNotFound
		},
	}, nil, nil, nil)
	w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+uuid.NewString()+"/deal/tenant-confirm", "tenant-1", nil, nil)
	wantErrCode(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestCancelDeal(t *testing.T) {
	dealID := uuid.NewString()

	t.Run("success is 204", func(t *testing.T) {
		h := New(&fakeDealSvc{
			cancel: func(_ context.Context, id, uid string) error {
				if id != dealID || uid != "tenant-1" {
					t.Errorf("args = (%q, %q)", id, uid)
				}
				return nil
			},
		}, nil, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/deals/"+dealID+"/cancel", "tenant-1", CancelDealRequest{Reason: "backed out"}, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
	})

	t.Run("completed deal maps to conflict", func(t *testing.T) {
		h := New(&fakeDealSvc{
			cancel: func(context.Context, string, string) error { return services.ErrDealCompleted },
		}, nil, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/deals/"+dealID+"/cancel", "tenant-1", nil, nil)
		wantErrCode(t, w, http.StatusConflict, ErrCodeInvalidState)
	})
}

func TestGetDeal_NotFound(t *testing.T) {
	h := New(&fakeDealSvc{
		getDetail: func(context.Context, string, string) (*services.DealDetail, error) {
			return nil, services.ErrDealNotFound
		},
	}, nil, nil, nil)
	w := doJSON(t, newRouter(h), http.MethodGet, "/deals/"+uuid.NewString(), "stranger", nil, nil)
	wantErrCode(t, w, http.StatusNotFound, ErrCodeNotFound)
}

//
// Payment endpoints
//

func TestCreateOrder(t *testing.T) {
	dealID := uuid.NewString()

	t.Run("converts rupees to paise", func(t *testing.T) {
		var gotAmount int64
		h := New(nil, &fakePaySvc{
			createOrder: func(_ context.Context, _ string, amount int64, _, payerID, _, _, _ string) (*services.OrderResult, error) {
				gotAmount = amount
				if payerID != "tenant-1" {
					t.Errorf("payer = %q", payerID)
				}
				return &services.OrderResult{OrderID: "order_1", Amount: amount, Currency: "INR"}, nil
			},
		}, nil, nil)

		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/order", "tenant-1",
			CreateOrderRequest{DealID: dealID, Amount: 499, Description: "success fee"}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		if gotAmount != 49_900 {
			t.Fatalf("amount = %d, want 49900 paise", gotAmount)
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		h := New(nil, &fakePaySvc{}, nil, nil)
		r := newRouter(h)

		w := doJSON(t, r, http.MethodPost, "/payments/order", "tenant-1", map[string]any{"deal_id": dealID}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

		w = doJSON(t, r, http.MethodPost, "/payments/order", "tenant-1", CreateOrderRequest{DealID: "nope", Amount: 499}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)

		w = doJSON(t, r, http.MethodPost, "/payments/order", "", CreateOrderRequest{DealID: dealID, Amount: 499}, nil)
		wantErrCode(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
	})

	t.Run("error mapping", func(t *testing.T) {
		cases := []struct {
			name   string
			err    error
			status int
			code   string
		}{
			{"deal not found", services.ErrDealNotFound, http.StatusNotFound, ErrCodeNotFound},
			{"deal not completed", services.ErrDealNotCompleted, http.StatusConflict, ErrCodeInvalidState},
			{"already paid", services.ErrAlreadyPaid, http.StatusConflict, ErrCodeConflict},
			{"gateway down", fmt.Errorf("create order: %w", gateway.ErrUnavailable), http.StatusBadGateway, ErrCodeGatewayUnavailable},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				h := New(nil, &fakePaySvc{
					createOrder: func(context.Context, string, int64, string, string, string, string, string) (*services.OrderResult, error) {
						return nil, tc.err
					},
				}, nil, nil)
				w := doJSON(t, newRouter(h), http.MethodPost, "/payments/order", "tenant-1",
					CreateOrderRequest{DealID: dealID, Amount: 499}, nil)
				wantErrCode(t, w, tc.status, tc.code)
			})
		}
	})
}

func TestVerifyPayment(t *testing.T) {
	dealID := uuid.NewString()

	t.Run("success returns payment", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			verifyPayment: func(_ context.Context, orderID, paymentRef, signature, gotDeal string) (*domain.Payment, error) {
				if orderID != "order_1" || paymentRef != "pay_1" || signature != "sig" || gotDeal != dealID {
					t.Errorf("args = (%q, %q, %q, %q)", orderID, paymentRef, signature, gotDeal)
				}
				return &domain.Payment{ID: "p1", Status: domain.PaymentCompleted}, nil
			},
		}, nil, nil)

		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/verify", "tenant-1",
			VerifyPaymentRequest{OrderID: "order_1", PaymentRef: "pay_1", Signature: "sig", DealID: dealID}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		var p domain.Payment
		if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Status != domain.PaymentCompleted {
			t.Fatalf("payment status = %q", p.Status)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			verifyPayment: func(context.Context, string, string, string, string) (*domain.Payment, error) {
				return nil, services.ErrInvalidSignature
			},
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/verify", "tenant-1",
			VerifyPaymentRequest{OrderID: "order_1", PaymentRef: "pay_1", Signature: "bad", DealID: dealID}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeInvalidSignature)
	})

	t.Run("order mismatch", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			verifyPayment: func(context.Context, string, string, string, string) (*domain.Payment, error) {
				return nil, services.ErrOrderMismatch
			},
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/verify", "tenant-1",
			VerifyPaymentRequest{OrderID: "order_2", PaymentRef: "pay_1", Signature: "sig", DealID: dealID}, nil)
		wantErrCode(t, w, http.StatusConflict, ErrCodeConflict)
	})

	t.Run("missing fields", func(t *testing.T) {
		h := New(nil, &fakePaySvc{}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/verify", "tenant-1",
			map[string]string{"order_id": "order_1"}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})
}

func TestGetPayment(t *testing.T) {
	dealID := uuid.NewString()

	t.Run("absent payment is null, not an error", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			details: func(context.Context, string) (*services.PaymentDetail, error) { return nil, nil },
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodGet, "/payments/"+dealID, "tenant-1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "null" {
			t.Fatalf("body = %q, want null", w.Body.String())
		}
	})

	t.Run("present payment with audit trail", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			details: func(context.Context, string) (*services.PaymentDetail, error) {
				return &services.PaymentDetail{
					Payment: domain.Payment{ID: "p1", Status: domain.PaymentCompleted},
					Events:  []domain.PaymentEvent{{ID: "e1", EventName: domain.EventPaymentCompleted}},
				}, nil
			},
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodGet, "/payments/"+dealID, "tenant-1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var detail services.PaymentDetail
		if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(detail.Events) != 1 {
			t.Fatalf("events = %d, want 1", len(detail.Events))
		}
	})
}

func TestRefundPayment(t *testing.T) {
	dealID := uuid.NewString()

	t.Run("admin refund is accepted", func(t *testing.T) {
		called := false
		h := New(nil, &fakePaySvc{
			refund: func(_ context.Context, id, reason string) error {
				called = true
				if id != dealID || reason != "dispute upheld" {
					t.Errorf("args = (%q, %q)", id, reason)
				}
				return nil
			},
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/"+dealID+"/refund", "admin-1",
			RefundRequest{Reason: "dispute upheld"}, map[string]string{"X-User-Role": "admin"})
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
		}
		if !called {
			t.Fatal("refund never reached the service")
		}
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			refund: func(context.Context, string, string) error {
				t.Error("refund must not be called")
				return nil
			},
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/"+dealID+"/refund", "user-1", nil, nil)
		wantErrCode(t, w, http.StatusForbidden, ErrCodeForbidden)
	})

	t.Run("refund already in flight", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			refund: func(context.Context, string, string) error { return services.ErrRefundInFlight },
		}, nil, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/payments/"+dealID+"/refund", "admin-1",
			nil, map[string]string{"X-User-Role": "admin"})
		wantErrCode(t, w, http.StatusConflict, ErrCodeConflict)
	})
}

func TestPaymentWebhook_AlwaysAcks(t *testing.T) {
	t.Run("passes body and signature through", func(t *testing.T) {
		var gotBody []byte
		var gotSig string
		h := New(nil, &fakePaySvc{
			handleWebhook: func(_ context.Context, body []byte, sig string) error {
				gotBody = body
				gotSig = sig
				return nil
			},
		}, nil, nil)

		payload := `{"event":"payment.completed"}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader(payload))
		req.Header.Set("X-Gateway-Signature", "abc123")
		w := httptest.NewRecorder()
		newRouter(h).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if string(gotBody) != payload || gotSig != "abc123" {
			t.Fatalf("passthrough = (%q, %q)", gotBody, gotSig)
		}
	})

	t.Run("service failure still acks", func(t *testing.T) {
		h := New(nil, &fakePaySvc{
			handleWebhook: func(context.Context, []byte, string) error {
				return errors.New("db down")
			},
		}, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		newRouter(h).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, webhooks must always ack", w.Code)
		}
	})
}

//
// Conversation endpoints
//

func TestStartConversation(t *testing.T) {
	propID := uuid.NewString()

	t.Run("created", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{
			start: func(_ context.Context, pid, uid string) (*domain.Conversation, error) {
				if pid != propID || uid != "tenant-1" {
					t.Errorf("args = (%q, %q)", pid, uid)
				}
				return &domain.Conversation{ID: "c1", PropertyID: pid, TenantID: uid}, nil
			},
		}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations", "tenant-1",
			StartConversationRequest{PropertyID: propID}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
	})

	t.Run("own property", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{
			start: func(context.Context, string, string) (*domain.Conversation, error) {
				return nil, services.ErrOwnProperty
			},
		}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations", "owner-1",
			StartConversationRequest{PropertyID: propID}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("property not found", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{
			start: func(context.Context, string, string) (*domain.Conversation, error) {
				return nil, services.ErrPropertyNotFound
			},
		}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations", "tenant-1",
			StartConversationRequest{PropertyID: propID}, nil)
		wantErrCode(t, w, http.StatusNotFound, ErrCodeNotFound)
	})

	t.Run("non-uuid property id", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations", "tenant-1",
			StartConversationRequest{PropertyID: "nope"}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})
}

func TestPostMessage(t *testing.T) {
	convID := uuid.NewString()

	t.Run("normalizes line endings", func(t *testing.T) {
		var gotContent string
		h := New(nil, nil, &fakeConvSvc{
			post: func(_ context.Context, _, _, content string) (*domain.Message, error) {
				gotContent = content
				return &domain.Message{ID: "m1", Content: content}, nil
			},
		}, nil)

		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/messages", "tenant-1",
			PostMessageRequest{Content: "hello\r\n\r\n\r\n\r\nworld\r"}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		if gotContent != "hello\n\nworld" {
			t.Fatalf("content = %q, want normalized paragraphs", gotContent)
		}
	})

	t.Run("whitespace-only content", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/messages", "tenant-1",
			PostMessageRequest{Content: " \r\n \r\n "}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("over the fallback length cap", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/messages", "tenant-1",
			PostMessageRequest{Content: strings.Repeat("x", 4001)}, nil)
		wantErrCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("non-participant", func(t *testing.T) {
		h := New(nil, nil, &fakeConvSvc{
			post: func(context.Context, string, string, string) (*domain.Message, error) {
				return nil, services.ErrConversationNotFound
			},
		}, nil)
		w := doJSON(t, newRouter(h), http.MethodPost, "/conversations/"+convID+"/messages", "stranger",
			PostMessageRequest{Content: "hi"}, nil)
		wantErrCode(t, w, http.StatusNotFound, ErrCodeNotFound)
	})
}

func TestListConversations_Pagination(t *testing.T) {
	h := New(nil, nil, &fakeConvSvc{
		listConvs: func(_ context.Context, uid string, page, pageSize int) ([]domain.Conversation, int64, error) {
			if page != 2 || pageSize != 10 {
				t.Errorf("page/size = %d/%d", page, pageSize)
			}
			return []domain.Conversation{{ID: "c1"}}, 21, nil
		},
	}, nil)

	w := doJSON(t, newRouter(h), http.MethodGet, "/conversations?page=2&page_size=10", "tenant-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.Total != 21 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}
}

func TestListMessages_ETag(t *testing.T) {
	// Conditional responses need the concrete service so the handler can
	// compute stats from the database.
	db := newHandlerTestDB(t)
	_, tenant, _, conv := seedConvFixture(t, db)

	svc := &services.MessageService{DB: db, MaxMessageRunes: 2000}
	h := New(nil, nil, svc, nil)
	r := newRouter(h)

	if _, err := svc.Post(context.Background(), conv.ID, tenant.ID, "first"); err != nil {
		t.Fatalf("post: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/conversations/"+conv.ID+"/messages", tenant.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("ETag header missing")
	}

	w = doJSON(t, r, http.MethodGet, "/conversations/"+conv.ID+"/messages", tenant.ID, nil,
		map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304 for matching ETag", w.Code)
	}

	// New content invalidates the tag.
	if _, err := svc.Post(context.Background(), conv.ID, tenant.ID, "second"); err != nil {
		t.Fatalf("post: %v", err)
	}
	w = doJSON(t, r, http.MethodGet, "/conversations/"+conv.ID+"/messages", tenant.ID, nil,
		map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after new message", w.Code)
	}
}

//
// Bookmark endpoints
//

func TestBookmarkEndpoints(t *testing.T) {
	propID := uuid.NewString()

	t.Run("save", func(t *testing.T) {
		h := New(nil, nil, nil, &fakeBookmarkSvc{
			save: func(_ context.Context, uid, pid string) error {
				if uid != "user-1" || pid != propID {
					t.Errorf("args = (%q, %q)", uid, pid)
				}
				return nil
			},
		})
		w := doJSON(t, newRouter(h), http.MethodPost, "/properties/"+propID+"/bookmark", "user-1", nil, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d", w.Code)
		}
	})

	t.Run("duplicate save", func(t *testing.T) {
		h := New(nil, nil, nil, &fakeBookmarkSvc{
			save: func(context.Context, string, string) error { return services.ErrDuplicateBookmark },
		})
		w := doJSON(t, newRouter(h), http.MethodPost, "/properties/"+propID+"/bookmark", "user-1", nil, nil)
		wantErrCode(t, w, http.StatusConflict, ErrCodeConflict)
	})

	t.Run("remove missing", func(t *testing.T) {
		h := New(nil, nil, nil, &fakeBookmarkSvc{
			remove: func(context.Context, string, string) error { return services.ErrBookmarkNotFound },
		})
		w := doJSON(t, newRouter(h), http.MethodDelete, "/properties/"+propID+"/bookmark", "user-1", nil, nil)
		wantErrCode(t, w, http.StatusNotFound, ErrCodeNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		h := New(nil, nil, nil, &fakeBookmarkSvc{
			remove: func(context.Context, string, string) error { return nil },
		})
		w := doJSON(t, newRouter(h), http.MethodDelete, "/properties/"+propID+"/bookmark", "user-1", nil, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
	})

	t.Run("list", func(t *testing.T) {
		h := New(nil, nil, nil, &fakeBookmarkSvc{
			list: func(context.Context, string) ([]domain.Bookmark, error) {
				return []domain.Bookmark{{ID: "b1", PropertyID: propID}}, nil
			},
		})
		w := doJSON(t, newRouter(h), http.MethodGet, "/bookmarks", "user-1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Bookmarks []domain.Bookmark `json:"bookmarks"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Bookmarks) != 1 {
			t.Fatalf("bookmarks = %d, want 1", len(resp.Bookmarks))
		}
	})
}

// stubGateway satisfies gateway.Client with canned ids.
type stubGateway struct {
	orders int
}

func (s *stubGateway) CreateOrder(context.Context, int64, string, string, map[string]string) (*gateway.Order, error) {
	s.orders++
	return &gateway.Order{ID: "order_idem_1", Currency: "INR"}, nil
}

func (s *stubGateway) RefundPayment(context.Context, string, int64, map[string]string) (*gateway.Refund, error) {
	return &gateway.Refund{ID: "rfnd_idem_1"}, nil
}

func TestCreateOrder_IdempotencyKeyReplay(t *testing.T) {
	// Replay needs the concrete service, since the handler consults the
	// idempotency store through its DB handle.
	db := newHandlerTestDB(t)
	owner, tenant, prop, conv := seedConvFixture(t, db)

	deal := domain.Deal{
		ID:              uuid.NewString(),
		ConversationID:  conv.ID,
		PropertyID:      prop.ID,
		OwnerID:         owner.ID,
		TenantID:        tenant.ID,
		AgreedRent:      12_000,
		OwnerConfirmed:  true,
		TenantConfirmed: true,
		Status:          domain.DealCompleted,
		PaymentStatus:   domain.DealUnpaid,
	}
	if err := db.Create(&deal).Error; err != nil {
		t.Fatalf("seed deal: %v", err)
	}

	gw := &stubGateway{}
	svc := &services.PaymentService{DB: db, Gateway: gw, KeySecret: "k", WebhookSecret: "w", Currency: "INR"}
	r := newRouter(New(nil, svc, nil, nil))

	body := CreateOrderRequest{DealID: deal.ID, Amount: 499, Description: "fee"}
	hdr := map[string]string{"Idempotency-Key": "key-123"}

	w := doJSON(t, r, http.MethodPost, "/payments/order", tenant.ID, body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatal("first request must not be marked as a replay")
	}

	w = doJSON(t, r, http.MethodPost, "/payments/order", tenant.ID, body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay must be flagged with Idempotency-Replayed")
	}
	var res services.OrderResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OrderID != "order_idem_1" || res.Amount != 49_900 {
		t.Fatalf("replayed result = %+v", res)
	}
	if gw.orders != 1 {
		t.Fatalf("gateway order calls = %d, replay must not hit the gateway", gw.orders)
	}

	// A different key creates a fresh gateway order against the same row.
	w = doJSON(t, r, http.MethodPost, "/payments/order", tenant.ID, body, map[string]string{"Idempotency-Key": "key-456"})
	if w.Code != http.StatusCreated {
		t.Fatalf("new key status = %d, body %s", w.Code, w.Body.String())
	}
	if gw.orders != 2 {
		t.Fatalf("gateway order calls = %d, want 2 for a distinct key", gw.orders)
	}
}

//
// DB-backed helpers
//

func ptr[T any](v T) *T { return &v }

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
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

func seedConvFixture(t *testing.T, db *gorm.DB) (owner, tenant domain.User, prop domain.Property, conv domain.Conversation) {
	t.Helper()
	owner = domain.User{ID: uuid.NewString(), FirstName: "o", LastName: "o", Email: uuid.NewString() + "@example.com", Role: "user"}
	tenant = domain.User{ID: uuid.NewString(), FirstName: "t", LastName: "t", Email: uuid.NewString() + "@example.com", Role: "user"}
	prop = domain.Property{ID: uuid.NewString(), OwnerID: owner.ID, Title: "p", City: "c", MonthlyRent: 12_000, Status: domain.PropertyAvailable}
	conv = domain.Conversation{ID: uuid.NewString(), PropertyID: prop.ID, OwnerID: owner.ID, TenantID: tenant.ID}
	for _, rec := range []any{&owner, &tenant, &prop, &conv} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return owner, tenant, prop, conv
}
