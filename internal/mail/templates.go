package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
  </head>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
      <h2 style="color: #4CAF50;">Your download code is:</h2>
      <div style="background-color: #f4f4f4; padding: 12px; text-align: center; margin: 12px 0; border-radius: 5px;">
        <h1 style="color: #4CAF50; margin: 0; font-size: 24px; letter-spacing: 5px;">{{.Code}}</h1>
      </div>
      <p>The code expires in {{.Minutes}} minutes and can be used once.</p>
    </div>
  </body>
</html>`))

var welcomeHTML = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
  </head>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
      <p>Your email has been added for <strong>{{.ProductName}}</strong>. Download it here:
        <a href="{{.ProductURL}}" style="color: #4CAF50;">{{.ProductURL}}</a></p>
      {{- if .GuideURL}}
      <p>Download guide: <a href="{{.GuideURL}}" style="color: #4CAF50;">{{.GuideURL}}</a></p>
      {{- end}}
      <p><strong>Note:</strong></p>
      <ul style="line-height: 1.8;">
        <li>The app stores its data in your browser. Clearing browser history or reinstalling may lose it, so export your data regularly.</li>
        <li>Export your data before updating to a new version.</li>
      </ul>
    </div>
  </body>
</html>`))

type TemplateConfig struct {
	// ProductBaseURL is joined with the product id to link the product page.
	ProductBaseURL string
	GuideURL       string
	OTPSubject     string
}

type Templates struct {
	cfg TemplateConfig
}

func NewTemplates(cfg TemplateConfig) *Templates {
	if cfg.OTPSubject == "" {
		cfg.OTPSubject = "Your download code"
	}
	return &Templates{cfg: cfg}
}

func (t *Templates) OTP(to, code string, ttl time.Duration) (Message, error) {
	minutes := int(ttl.Minutes())

	var html bytes.Buffer
	if err := otpHTML.Execute(&html, map[string]any{"Code": code, "Minutes": minutes}); err != nil {
		return Message{}, fmt.Errorf("render otp email: %w", err)
	}

	return Message{
		To:      to,
		Subject: t.cfg.OTPSubject,
		HTML:    html.String(),
		Text:    fmt.Sprintf("Your download code is: %s. It expires in %d minutes.", code, minutes),
	}, nil
}

func (t *Templates) Welcome(to, productID, productName string) (Message, error) {
	if productName == "" {
		productName = productID
	}
	productURL := strings.TrimRight(t.cfg.ProductBaseURL, "/") + "/" + productID

	var html bytes.Buffer
	data := map[string]any{
		"ProductName": productName,
		"ProductURL":  productURL,
		"GuideURL":    t.cfg.GuideURL,
	}
	if err := welcomeHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render welcome email: %w", err)
	}

	text := fmt.Sprintf("Your email has been added for %s. Download it here: %s", productName, productURL)
	if t.cfg.GuideURL != "" {
		text += "\nDownload guide: " + t.cfg.GuideURL
	}

	return Message{
		To:      to,
		Subject: productName,
		HTML:    html.String(),
		Text:    text,
	}, nil
}
