package payment

import (
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Metadata keys written on every checkout session and read back by the webhook.
const (
	MetadataUID       = "uid"
	MetadataEmail     = "email"
	MetadataCredits   = "credits"
	MetadataPackageID = "package_id"
)

type CheckoutRequest struct {
	UID         string
	Email       string
	PackageID   uint
	PackageName string
	Description string
	Credits     int64
	PriceCents  int64
}

type StripeService struct {
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeService(secretKey, webhookSecret, successURL, cancelURL string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

func (s *StripeService) CreateCheckoutSession(req CheckoutRequest) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(req.Email),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(req.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.PackageName),
						Description: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.UID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
	}

	params.AddMetadata(MetadataUID, req.UID)
	params.AddMetadata(MetadataEmail, req.Email)
	params.AddMetadata(MetadataCredits, strconv.FormatInt(req.Credits, 10))
	params.AddMetadata(MetadataPackageID, strconv.FormatUint(uint64(req.PackageID), 10))

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook
// secret and decodes the event. API version mismatches are tolerated.
func (s *StripeService) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
}
