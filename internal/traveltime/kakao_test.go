package traveltime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"routeday/internal/model"
)

func newTestKakao(srv *httptest.Server) *Kakao {
	k := NewKakao("test-key")
	k.baseURL = srv.URL
	k.session = srv.Client()
	return k
}

func TestKakaoRoute(t *testing.T) {
	var gotAuth, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrigin = r.URL.Query().Get("origin")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"routes":[{"result_code":0,"summary":{"distance":5200,"duration":780}}]}`))
	}))
	defer srv.Close()

	k := newTestKakao(srv)
	leg, err := k.Route(context.Background(), model.GeoPoint{Lat: 37.50, Lng: 127.03}, model.GeoPoint{Lat: 37.52, Lng: 127.05}, time.Now())
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if leg.DurationSeconds != 780 || leg.DistanceMeters != 5200 {
		t.Fatalf("leg = %+v", leg)
	}
	if gotAuth != "KakaoAK test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	// Kakao takes lng,lat order.
	if !strings.HasPrefix(gotOrigin, "127.03") {
		t.Fatalf("origin param = %q, want lng first", gotOrigin)
	}
}

func TestKakaoRouteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestKakao(srv).Route(context.Background(), model.GeoPoint{Lat: 37.5, Lng: 127.0}, model.GeoPoint{Lat: 37.6, Lng: 127.1}, time.Now())
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("err = %T %v, want *ProviderError", err, err)
	}
	if pe.Reason != "kakao_http_429" {
		t.Fatalf("reason = %q, want kakao_http_429", pe.Reason)
	}
}

func TestKakaoRouteNoRoute(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty routes", `{"routes":[]}`},
		{"failed result code", `{"routes":[{"result_code":104,"summary":{"distance":0,"duration":0}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestKakao(srv).Route(context.Background(), model.GeoPoint{Lat: 37.5, Lng: 127.0}, model.GeoPoint{Lat: 37.6, Lng: 127.1}, time.Now())
			pe, ok := err.(*ProviderError)
			if !ok || pe.Reason != "kakao_no_route" {
				t.Fatalf("err = %v, want kakao_no_route", err)
			}
		})
	}
}

func TestKakaoRouteBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestKakao(srv).Route(context.Background(), model.GeoPoint{Lat: 37.5, Lng: 127.0}, model.GeoPoint{Lat: 37.6, Lng: 127.1}, time.Now())
	pe, ok := err.(*ProviderError)
	if !ok || pe.Reason != "kakao_bad_payload" {
		t.Fatalf("err = %v, want kakao_bad_payload", err)
	}
}

func TestNormalizeDurationSeconds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
		err  bool
	}{
		{"plain seconds", `780`, 780, false},
		{"quoted seconds", `"780"`, 780, false},
		{"millisecond scale", `780000`, 780, false},
		{"float seconds", `780.4`, 780, false},
		{"negative", `-5`, 0, true},
		{"garbage", `"soon"`, 0, true},
		{"missing", ``, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeDurationSeconds(json.RawMessage(tc.raw))
			if tc.err {
				if err == nil {
					t.Fatalf("want error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeDurationSeconds(%s): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("normalizeDurationSeconds(%s) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}
