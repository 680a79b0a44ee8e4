package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResendSenderPostsMessage(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	sender, err := NewResendSender(ResendConfig{
		APIKey:   "re_test",
		From:     "noreply@shop.test",
		FromName: "Shop",
		ReplyTo:  "help@shop.test",
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewResendSender: %v", err)
	}

	err = sender.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi", HTML: "<p>hi</p>", Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if auth != "Bearer re_test" {
		t.Fatalf("authorization = %q", auth)
	}
	if got.From != "Shop <noreply@shop.test>" || len(got.To) != 1 || got.To[0] != "a@x.com" || got.ReplyTo != "help@shop.test" {
		t.Fatalf("request = %+v", got)
	}
}

func TestResendSenderReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer srv.Close()

	sender, err := NewResendSender(ResendConfig{APIKey: "k", From: "x@y.z", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	err = sender.Send(context.Background(), Message{To: "a@x.com"})
	if err == nil || !strings.Contains(err.Error(), "invalid from address") {
		t.Fatalf("err = %v", err)
	}
}

func TestResendSenderRejectsEmptyRecipient(t *testing.T) {
	sender, err := NewResendSender(ResendConfig{APIKey: "k", From: "x@y.z"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sender.Send(context.Background(), Message{}); err != ErrNoRecipient {
		t.Fatalf("err = %v, want ErrNoRecipient", err)
	}
}

func TestNewResendSenderRequiresKey(t *testing.T) {
	if _, err := NewResendSender(ResendConfig{From: "x@y.z"}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestOTPTemplate(t *testing.T) {
	msg, err := NewTemplates(TemplateConfig{}).OTP("a@x.com", "048213", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if msg.To != "a@x.com" || msg.Subject == "" {
		t.Fatalf("msg = %+v", msg)
	}
	if !strings.Contains(msg.HTML, "048213") || !strings.Contains(msg.Text, "048213") {
		t.Fatal("code missing from body")
	}
	if !strings.Contains(msg.Text, "10 minutes") {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestWelcomeTemplateLinksProduct(t *testing.T) {
	tpl := NewTemplates(TemplateConfig{ProductBaseURL: "https://shop.test/product/", GuideURL: "https://shop.test/guide"})
	msg, err := tpl.Welcome("a@x.com", "memomi", "Memory Cards")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "Memory Cards" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "https://shop.test/product/memomi") {
		t.Fatalf("html missing product link: %s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "https://shop.test/guide") {
		t.Fatalf("text missing guide: %s", msg.Text)
	}
}

func TestBuildMIMEHasBothParts(t *testing.T) {
	raw, err := buildMIME("Shop <x@y.z>", Message{To: "a@x.com", Subject: "Hello", HTML: "<b>hi</b>", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	for _, want := range []string{"To: a@x.com", "multipart/alternative", "text/plain", "text/html", "<b>hi</b>"} {
		if !strings.Contains(body, want) {
			t.Errorf("mime body missing %q", want)
		}
	}
}
