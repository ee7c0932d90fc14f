package screener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

func TestSearchDeduplicatesAcrossConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("id") {
		case "1":
			_, _ = w.Write([]byte(`[{"code":"005930","name":"삼성전자","price":70000,"change_rate":2.1}]`))
		case "2":
			_, _ = w.Write([]byte(`[{"code":"005930","name":"삼성전자","price":70000,"change_rate":2.1},
				{"code":"000660","name":"SK하이닉스","price":180000,"change_rate":3.4}]`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	results, err := c.Search(context.Background(), []string{"1", "2"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (deduplicated)", len(results))
	}
}

func TestSearchPartialFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"code":"035420","name":"NAVER","price":200000,"change_rate":1.2}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	results, err := c.Search(context.Background(), []string{"bad", "ok"})
	if err != nil {
		t.Fatalf("partial failure must not fail the search: %v", err)
	}
	if len(results) != 1 || results[0].Code != "035420" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestSearchAllConditionsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Search(context.Background(), []string{"1", "2"})
	if !errors.Is(err, types.ErrRateLimited) {
		t.Errorf("want ErrRateLimited when every condition fails, got %v", err)
	}
}
