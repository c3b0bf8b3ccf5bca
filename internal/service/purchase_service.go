package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"github.com/sefazor/portfolio-billing/pkg/payment"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

// CheckoutProvider creates hosted checkout pages. *payment.StripeService
// satisfies it.
type CheckoutProvider interface {
	CreateCheckoutSession(req payment.CheckoutRequest) (*stripe.CheckoutSession, error)
}

type PurchaseInput struct {
	StripeEventID   string
	StripeSessionID string
	UID             string
	Email           string
	USDCents        int64
	Credits         int64
}

type PurchaseResult struct {
	Purchase *models.Purchase `json:"purchase"`
	// Applied is false when the event had already been applied.
	Applied        bool  `json:"applied"`
	BalanceCredits int64 `json:"balance_credits"`
}

type PurchaseService struct {
	store    repository.Store
	packages repository.CreditPackageRepository
	checkout CheckoutProvider
	opts     Options
}

func NewPurchaseService(store repository.Store, packages repository.CreditPackageRepository, checkout CheckoutProvider, opts Options) *PurchaseService {
	return &PurchaseService{
		store:    store,
		packages: packages,
		checkout: checkout,
		opts:     opts.withDefaults(),
	}
}

// ApplyPurchase credits a completed checkout exactly once per Stripe event.
func (s *PurchaseService) ApplyPurchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	switch {
	case in.StripeEventID == "":
		return nil, invalidInput("stripe event id is required")
	case in.StripeSessionID == "":
		return nil, invalidInput("stripe session id is required")
	case in.UID == "":
		return nil, invalidInput("uid is required")
	case in.Credits <= 0:
		return nil, invalidInput("credits must be positive")
	case in.USDCents < 0:
		return nil, invalidInput("amount must not be negative")
	}

	now := s.opts.now()
	var res *PurchaseResult
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		existing, err := findPurchase(tx, in)
		if err != nil {
			return err
		}
		if existing != nil {
			res = &PurchaseResult{Purchase: existing}
			return nil
		}

		user, err := lockUser(tx, in.UID, in.Email, now)
		if err != nil {
			return err
		}

		purchase := &models.Purchase{
			ID:              uuid.NewString(),
			StripeSessionID: in.StripeSessionID,
			StripeEventID:   in.StripeEventID,
			UID:             in.UID,
			Email:           in.Email,
			USDCents:        in.USDCents,
			Credits:         in.Credits,
			CreatedAt:       now,
		}
		if _, err := appendLedger(tx, user, in.Credits, models.LedgerReasonPurchase, purchase.ID, "", now); err != nil {
			return err
		}
		if err := tx.CreatePurchase(purchase); err != nil {
			return err
		}

		err = enqueue(tx, models.TaskPurchaseReceipt, models.PurchaseReceiptPayload{
			PurchaseID:     purchase.ID,
			UID:            purchase.UID,
			Email:          purchase.Email,
			Credits:        purchase.Credits,
			USDCents:       purchase.USDCents,
			BalanceCredits: user.BalanceCredits,
		}, now)
		if err != nil {
			return err
		}

		res = &PurchaseResult{Purchase: purchase, Applied: true, BalanceCredits: user.BalanceCredits}
		return nil
	})

	// A concurrent delivery of the same event won the unique index.
	if errors.Is(err, repository.ErrDuplicate) {
		return s.lookupApplied(ctx, in)
	}
	if err != nil {
		return nil, storeError(err)
	}

	if res.Applied {
		s.opts.Logger.Info("purchase applied",
			zap.String("uid", in.UID),
			zap.String("event_id", in.StripeEventID),
			zap.String("session_id", in.StripeSessionID),
			zap.Int64("credits", in.Credits))
	} else {
		s.opts.Logger.Info("purchase already applied",
			zap.String("event_id", in.StripeEventID),
			zap.String("session_id", in.StripeSessionID))
	}
	return res, nil
}

// HandleStripeEvent applies paid checkout sessions and ignores every other
// event type.
func (s *PurchaseService) HandleStripeEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return invalidInput("decode checkout session: %v", err)
		}

		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.opts.Logger.Info("checkout session not paid yet",
				zap.String("event_id", event.ID),
				zap.String("session_id", session.ID),
				zap.String("payment_status", string(session.PaymentStatus)))
			return nil
		}

		in, err := purchaseFromSession(event.ID, &session)
		if err != nil {
			return err
		}
		_, err = s.ApplyPurchase(ctx, in)
		return err

	default:
		s.opts.Logger.Debug("ignoring stripe event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *PurchaseService) CreateCheckoutSession(ctx context.Context, uid, email string, packageID uint) (*models.CheckoutSession, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	if email == "" {
		return nil, invalidInput("email is required")
	}

	pkg, err := s.packages.GetByID(ctx, packageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: credit package %d", ErrNotFound, packageID)
	}
	if err != nil {
		return nil, storeError(err)
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("%w: credit package %d", ErrNotFound, packageID)
	}

	session, err := s.checkout.CreateCheckoutSession(payment.CheckoutRequest{
		UID:         uid,
		Email:       email,
		PackageID:   pkg.ID,
		PackageName: pkg.Name,
		Description: pkg.Description,
		Credits:     pkg.Credits,
		PriceCents:  pkg.PriceCents,
	})
	if err != nil {
		return nil, err
	}

	s.opts.Logger.Info("checkout session created",
		zap.String("uid", uid),
		zap.String("session_id", session.ID),
		zap.Uint("package_id", pkg.ID))
	return &models.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (s *PurchaseService) ListPurchases(ctx context.Context, uid string) ([]models.Purchase, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	var out []models.Purchase
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListPurchases(uid)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

func (s *PurchaseService) lookupApplied(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		existing, err := findPurchase(tx, in)
		if err != nil {
			return err
		}
		if existing == nil {
			return repository.ErrDuplicate
		}
		res = &PurchaseResult{Purchase: existing}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return res, nil
}

// findPurchase returns the purchase already recorded for the event or its
// checkout session, or nil.
func findPurchase(tx repository.Tx, in PurchaseInput) (*models.Purchase, error) {
	p, err := tx.GetPurchaseByEventID(in.StripeEventID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	p, err = tx.GetPurchaseBySessionID(in.StripeSessionID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func purchaseFromSession(eventID string, session *stripe.CheckoutSession) (PurchaseInput, error) {
	uid := session.Metadata[payment.MetadataUID]
	email := session.Metadata[payment.MetadataEmail]
	rawCredits := session.Metadata[payment.MetadataCredits]
	if uid == "" || email == "" || rawCredits == "" {
		return PurchaseInput{}, invalidInput("checkout session %s is missing uid, email or credits metadata", session.ID)
	}

	credits, err := strconv.ParseInt(rawCredits, 10, 64)
	if err != nil || credits <= 0 {
		return PurchaseInput{}, invalidInput("checkout session %s has invalid credits %q", session.ID, rawCredits)
	}

	return PurchaseInput{
		StripeEventID:   eventID,
		StripeSessionID: session.ID,
		UID:             uid,
		Email:           email,
		USDCents:        session.AmountTotal,
		Credits:         credits,
	}, nil
}
