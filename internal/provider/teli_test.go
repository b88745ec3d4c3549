package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func init() {
	retryInitialInterval = time.Millisecond
}

func newTeli(srv *httptest.Server) *TeliClient {
	return NewTeliClient(TeliConfig{
		Token:  "secret",
		SMSURL: srv.URL,
		APIURL: srv.URL,
		Client: srv.Client(),
		Logger: testLogger(),
	})
}

func TestTeli_SendSMS(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sms/send" || r.URL.Query().Get("token") != "secret" {
			t.Errorf("unexpected request %s", r.URL)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Write([]byte(`{"code":200,"status":"success","segment_count":1,"data":"uuid-internal"}`))
	}))
	defer srv.Close()

	res, err := newTeli(srv).SendSMS(context.Background(), "4155550100", "4155550123", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "success" || res.SegmentCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if form.Get("source") != "4155550100" || form.Get("destination") != "4155550123" || form.Get("message") != "hello" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestTeli_SendSMSErrorStatusInOKResponse(t *testing.T) {
	const reply = `{"status":"error","data":"invalid destination"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reply))
	}))
	defer srv.Close()

	_, err := newTeli(srv).SendSMS(context.Background(), "4155550100", "0", "hello")
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if gwErr.Body != reply {
		t.Fatalf("expected the gateway body to be kept, got %q", gwErr.Body)
	}
}

func TestTeli_SendSMSRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	if _, err := newTeli(srv).SendSMS(context.Background(), "a", "b", "c"); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestTeli_SendSMSClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","data":"invalid destination"}`))
	}))
	defer srv.Close()

	_, err := newTeli(srv).SendSMS(context.Background(), "a", "b", "c")
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if gerr.StatusCode != http.StatusBadRequest || gerr.Body != `{"status":"error","data":"invalid destination"}` {
		t.Fatalf("unexpected gateway error %+v", gerr)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestTeli_SearchAndBuy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dids/list":
			if r.URL.Query().Get("npa") != "415" {
				t.Errorf("unexpected npa %q", r.URL.Query().Get("npa"))
			}
			w.Write([]byte(`{"code":200,"status":"success","data":[{"number":"4155550100"},{"number":"4155550101"}]}`))
		case "/dids/order":
			w.Write([]byte(`{"code":400,"status":"error","data":"number unavailable"}`))
		case "/dids/sms_post":
			w.Write([]byte(`{"code":200,"status":"success","data":"ok"}`))
		}
	}))
	defer srv.Close()
	c := newTeli(srv)
	ctx := context.Background()

	numbers, err := c.SearchNumbers(ctx, "415", 2)
	if err != nil || len(numbers) != 2 || numbers[0] != "4155550100" {
		t.Fatalf("got %v, %v", numbers, err)
	}

	var gerr *GatewayError
	if err := c.BuyNumber(ctx, "4155550100"); !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError from error body, got %v", err)
	}
	if err := c.SetSMSURL(ctx, "4155550100", "https://bot.example/inbound"); err != nil {
		t.Fatal(err)
	}
}

func TestBigOne_Rate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"ticker":{"close":"14.25"}}}`))
	}))
	defer srv.Close()

	rate, err := NewBigOneOracle(srv.URL, srv.Client(), testLogger()).Rate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rate != 14.25 {
		t.Fatalf("got %v", rate)
	}
}

func TestBigOne_RateMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	if _, err := NewBigOneOracle(srv.URL, srv.Client(), testLogger()).Rate(context.Background()); err == nil {
		t.Fatal("expected error for missing ticker")
	}
}
