package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/resendlabs/resend-go"
	"github.com/sefazor/portfolio-billing/internal/models"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type EmailService struct {
	client   *resend.Client
	from     string
	fromName string
	logger   *zap.Logger
}

func NewEmailService(apiKey, from, fromName string, logger *zap.Logger) *EmailService {
	return &EmailService{
		client:   resend.NewClient(apiKey),
		from:     from,
		fromName: fromName,
		logger:   logger.Named("email"),
	}
}

func (s *EmailService) SendPurchaseReceipt(p models.PurchaseReceiptPayload) error {
	html, err := RenderPurchaseReceipt(p)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.fromName + " <" + s.from + ">",
		To:      []string{p.Email},
		Subject: fmt.Sprintf("Receipt: %d credits added", p.Credits),
		Html:    html,
	}

	resp, err := s.client.Emails.Send(params)
	if err != nil {
		s.logger.Warn("failed to send purchase receipt",
			zap.String("purchase_id", p.PurchaseID),
			zap.String("to", p.Email),
			zap.Error(err))
		return fmt.Errorf("send purchase receipt: %w", err)
	}

	s.logger.Info("purchase receipt sent",
		zap.String("purchase_id", p.PurchaseID),
		zap.String("to", p.Email),
		zap.String("email_id", resp.Id))
	return nil
}

// RenderPurchaseReceipt renders the receipt body for a purchase.
func RenderPurchaseReceipt(p models.PurchaseReceiptPayload) (string, error) {
	data := map[string]interface{}{
		"Credits":        p.Credits,
		"Amount":         fmt.Sprintf("$%d.%02d", p.USDCents/100, p.USDCents%100),
		"BalanceCredits": p.BalanceCredits,
		"PurchaseID":     p.PurchaseID,
		"Year":           time.Now().Year(),
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "purchase-receipt.html", data); err != nil {
		return "", fmt.Errorf("render purchase receipt: %w", err)
	}
	return body.String(), nil
}
