package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripperFunc) *Client {
	return NewClient("https://gateway.test", "secret-key", "55", time.Second,
		WithHTTPClient(&http.Client{Transport: rt}))
}

func TestSendTextCanonicalizesAndPosts(t *testing.T) {
	var (
		gotURL   string
		gotKey   string
		gotBody  []byte
		gotCType string
	)

	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		gotKey = req.Header.Get("apikey")
		gotCType = req.Header.Get("Content-Type")
		if req.Body != nil {
			b, _ := io.ReadAll(req.Body)
			gotBody = b
		}
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"key":{"id":"EXT-1"},"status":"PENDING"}`))),
			Header:     make(http.Header),
		}, nil
	})

	result, err := client.SendText(context.Background(), "main", "11999887766", "Olá!", nil)
	if err != nil {
		t.Fatalf("SendText() unexpected error: %v", err)
	}

	if gotURL != "https://gateway.test/message/sendText/main" {
		t.Errorf("unexpected URL: %q", gotURL)
	}
	if gotKey != "secret-key" {
		t.Errorf("unexpected apikey header: %q", gotKey)
	}
	if gotCType != "application/json" {
		t.Errorf("unexpected content type: %q", gotCType)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if payload["number"] != "5511999887766" {
		t.Errorf("destination not canonicalized: %#v", payload["number"])
	}
	if payload["linkPreview"] != true {
		t.Errorf("expected linkPreview default true, got %#v", payload["linkPreview"])
	}

	if !result.Success || result.MessageID != "EXT-1" || result.Status != "PENDING" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestSendTextGatewayErrorIsTerminal(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":"unavailable"}`))),
			Header:     make(http.Header),
		}, nil
	})

	result, err := client.SendText(context.Background(), "main", "5511999887766", "oi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Success {
		t.Error("expected failed result")
	}
	if calls != 1 {
		t.Errorf("client must not retry, got %d calls", calls)
	}
}

func TestSendTextRejectsInvalidPhone(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request should be made")
		return nil, nil
	})

	if _, err := client.SendText(context.Background(), "main", "abc", "oi", nil); err == nil {
		t.Fatal("expected error for invalid phone")
	}
}
