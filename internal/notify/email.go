package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/leviate/backend/internal/config"
	"github.com/shopspring/decimal"
)

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type recipient struct {
	EmailAddress emailAddress `json:"email_address"`
}

type zeptoPayload struct {
	From          emailAddress   `json:"from"`
	To            []recipient    `json:"to"`
	Subject       string         `json:"subject,omitempty"`
	HTMLBody      string         `json:"htmlbody,omitempty"`
	TemplateKey   string         `json:"template_key,omitempty"`
	MergeInfo     map[string]any `json:"merge_info,omitempty"`
	BounceAddress string         `json:"bounce_address,omitempty"`
}

// ZeptoMailer sends transactional email through the ZeptoMail API. When a
// template key is configured the template endpoint is used, otherwise the
// message is rendered inline.
type ZeptoMailer struct {
	cfg        *config.EmailConfig
	otpTimeout time.Duration
	httpClient *http.Client
}

func NewZeptoMailer(cfg *config.EmailConfig, otpTimeout time.Duration) *ZeptoMailer {
	return &ZeptoMailer{
		cfg:        cfg,
		otpTimeout: otpTimeout,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

var withdrawalOTPTemplate = template.Must(template.New("withdrawal_otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h1>Withdrawal OTP Verification</h1>
  <p>Hi {{.UserName}},</p>
  <p>You requested to withdraw {{.Amount}} from your Leviate wallet. Use the code below to complete your withdrawal:</p>
  <p style="font-size: 32px; font-weight: bold; letter-spacing: 5px;">{{.Code}}</p>
  <p>This code expires in {{.ExpiresIn}}. If you did not request this withdrawal, ignore this email and secure your account.</p>
</body>
</html>`))

func (m *ZeptoMailer) SendWithdrawalOTP(ctx context.Context, email, code, userName string, amount decimal.Decimal) error {
	if userName == "" {
		userName = "there"
	}
	expiresIn := fmt.Sprintf("%d minutes", int(m.otpTimeout.Minutes()))
	naira := "₦" + amount.StringFixed(2)

	payload := zeptoPayload{
		From:          emailAddress{Address: m.cfg.FromAddress, Name: m.cfg.FromName},
		To:            []recipient{{EmailAddress: emailAddress{Address: email}}},
		BounceAddress: m.cfg.BounceAddress,
	}

	endpoint := "/v1.1/email"
	if m.cfg.WithdrawalOTPTemplate != "" {
		endpoint = "/v1.1/email/template"
		payload.TemplateKey = m.cfg.WithdrawalOTPTemplate
		payload.MergeInfo = map[string]any{
			"userName":  userName,
			"otp":       code,
			"expiresIn": expiresIn,
			"amount":    naira,
		}
	} else {
		var body bytes.Buffer
		err := withdrawalOTPTemplate.Execute(&body, map[string]string{
			"UserName":  userName,
			"Code":      code,
			"ExpiresIn": expiresIn,
			"Amount":    naira,
		})
		if err != nil {
			return fmt.Errorf("render withdrawal otp email: %w", err)
		}
		payload.Subject = "Withdrawal OTP - Leviate"
		payload.HTMLBody = body.String()
	}

	return m.send(ctx, endpoint, payload)
}

func (m *ZeptoMailer) send(ctx context.Context, endpoint string, payload zeptoPayload) error {
	if m.cfg.Token == "" {
		log.Printf("[EMAIL] ZeptoMail token not configured, email to %s not sent", payload.To[0].EmailAddress.Address)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Zoho-enczapikey "+m.cfg.Token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("zeptomail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("zeptomail: status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("[EMAIL] Email sent to %s", payload.To[0].EmailAddress.Address)
	return nil
}

// LogMailer writes emails to the log. Used when no mail provider is set up.
type LogMailer struct{}

func (LogMailer) SendWithdrawalOTP(_ context.Context, email, _, userName string, amount decimal.Decimal) error {
	log.Printf("[EMAIL] Withdrawal OTP for %s <%s>, amount %s (delivery disabled)", userName, email, amount.StringFixed(2))
	return nil
}
