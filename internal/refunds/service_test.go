package refunds

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/enrollpay-backend/internal/ledger"
	"github.com/angelmondragon/enrollpay-backend/pkg/db/models"
	"github.com/angelmondragon/enrollpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/razorpay"
)

type fakeGateway struct {
	captures   int
	refunds    int
	err        error
	lastAmount int64
	lastNotes  map[string]string
}

func (f *fakeGateway) CapturePayment(_ context.Context, paymentID string, amount int64, currency string) (*razorpay.Payment, error) {
	f.captures++
	f.lastAmount = amount
	if f.err != nil {
		return nil, f.err
	}
	return &razorpay.Payment{ID: paymentID, Status: "captured", Method: "card", Amount: amount, Currency: currency, Captured: true}, nil
}

func (f *fakeGateway) RefundPayment(_ context.Context, paymentID string, amount int64, notes map[string]string) (*razorpay.Refund, error) {
	f.refunds++
	f.lastAmount = amount
	f.lastNotes = notes
	if f.err != nil {
		return nil, f.err
	}
	return &razorpay.Refund{ID: fmt.Sprintf("rfnd_%d", f.refunds), PaymentID: paymentID, Amount: amount, Status: "processed"}, nil
}

func newTestService(t *testing.T, gw *fakeGateway) (Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	ledg, err := ledger.NewService(store, ledger.NewKeyedMutex())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Ledger:  ledg,
		Gateway: gw,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func seed(t *testing.T, store ledger.Store, orderID, paymentID string, amount int64, status enums.PaymentStatus) *models.Payment {
	t.Helper()
	p, err := store.Create(context.Background(), &models.Payment{
		OrderID:  orderID,
		Amount:   decimal.NewFromInt(amount),
		Currency: "INR",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, err = store.Update(context.Background(), p.ID, ledger.Patch{PaymentID: &paymentID, Status: &status})
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
	return p
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestCaptureDefaultsToFullAmount(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	seeded := seed(t, store, "order_1", "pay_1", 1499, enums.PaymentStatusAuthorized)

	res, err := svc.Capture(context.Background(), CaptureInput{PaymentID: "pay_1"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if gw.lastAmount != 149900 {
		t.Fatalf("expected full amount in minor units, got %d", gw.lastAmount)
	}
	if res.Status != enums.PaymentStatusCaptured.String() || res.Method != "card" {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, _ := store.FindByID(context.Background(), seeded.ID)
	if stored.PaidAt == nil {
		t.Fatal("expected paidAt after capture")
	}
}

func TestCaptureUnknownPayment(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)

	_, err := svc.Capture(context.Background(), CaptureInput{PaymentID: "pay_missing"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = svc.Refund(context.Background(), RefundInput{PaymentID: "pay_missing"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if gw.captures+gw.refunds != 0 {
		t.Fatal("gateway must not be called for unknown payments")
	}
}

func TestCaptureTimeoutIsIndeterminate(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("capture: %w", razorpay.ErrTimeout)}
	svc, store := newTestService(t, gw)
	seeded := seed(t, store, "order_2", "pay_2", 100, enums.PaymentStatusAuthorized)

	_, err := svc.Capture(context.Background(), CaptureInput{PaymentID: "pay_2"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["indeterminate"] != true {
		t.Fatalf("expected indeterminate details, got %v", details)
	}
	stored, _ := store.FindByID(context.Background(), seeded.ID)
	if stored.Status != enums.PaymentStatusAuthorized {
		t.Fatalf("timeout must not change state, got %s", stored.Status)
	}
}

func TestRefundAggregation(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	seed(t, store, "order_3", "pay_3", 1000, enums.PaymentStatusPaid)

	first, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_3", Amount: amountPtr(400), Reason: "requested"})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if first.PaymentStatus != enums.PaymentStatusPartiallyRefunded.String() {
		t.Fatalf("expected partially_refunded, got %s", first.PaymentStatus)
	}
	if gw.lastNotes["reason"] != "requested" {
		t.Fatalf("expected reason note, got %v", gw.lastNotes)
	}

	second, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_3", Amount: amountPtr(600)})
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if second.PaymentStatus != enums.PaymentStatusRefunded.String() {
		t.Fatalf("expected refunded, got %s", second.PaymentStatus)
	}

	_, err = svc.Refund(context.Background(), RefundInput{PaymentID: "pay_3", Amount: amountPtr(1)})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected over-refund rejection, got %v", err)
	}
	if gw.refunds != 2 {
		t.Fatalf("over-refund must not reach the gateway, got %d calls", gw.refunds)
	}
}

func TestRefundDefaultsToRemaining(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	seed(t, store, "order_4", "pay_4", 1000, enums.PaymentStatusCaptured)

	if _, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_4", Amount: amountPtr(250)}); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	res, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_4"})
	if err != nil {
		t.Fatalf("remaining refund: %v", err)
	}
	if gw.lastAmount != 75000 || res.PaymentStatus != enums.PaymentStatusRefunded.String() {
		t.Fatalf("expected remaining 750 refunded, got %d %+v", gw.lastAmount, res)
	}
}

func TestRefundRequiresSettledPayment(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	seed(t, store, "order_5", "pay_5", 1000, enums.PaymentStatusAuthorized)

	_, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_5"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRefundGatewayErrorPassesMessage(t *testing.T) {
	gw := &fakeGateway{err: &razorpay.APIError{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "The refund amount is invalid"}}
	svc, store := newTestService(t, gw)
	seed(t, store, "order_6", "pay_6", 1000, enums.PaymentStatusPaid)

	_, err := svc.Refund(context.Background(), RefundInput{PaymentID: "pay_6"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if msg := pkgerrors.As(err).Message(); msg != "The refund amount is invalid" {
		t.Fatalf("expected gateway message, got %q", msg)
	}
}
