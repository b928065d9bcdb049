// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthStatus(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	cases := []struct {
		name   string
		setup  func(c *Checker)
		want   Status
		health int
		ready  int
	}{
		{
			name:   "no checks",
			setup:  func(*Checker) {},
			want:   StatusHealthy,
			health: http.StatusOK,
			ready:  http.StatusOK,
		},
		{
			name: "all passing",
			setup: func(c *Checker) {
				c.RegisterCritical("proxy", passing)
				c.Register("routes", passing)
			},
			want:   StatusHealthy,
			health: http.StatusOK,
			ready:  http.StatusOK,
		},
		{
			name: "non-critical failure",
			setup: func(c *Checker) {
				c.RegisterCritical("proxy", passing)
				c.Register("routes", failing)
			},
			want:   StatusDegraded,
			health: http.StatusOK,
			ready:  http.StatusServiceUnavailable,
		},
		{
			name: "critical failure",
			setup: func(c *Checker) {
				c.RegisterCritical("proxy", failing)
				c.Register("routes", failing)
			},
			want:   StatusUnhealthy,
			health: http.StatusServiceUnavailable,
			ready:  http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(time.Minute)
			tc.setup(c)

			if got, _ := c.Health(context.Background()); got != tc.want {
				t.Errorf("Health() = %s, want %s", got, tc.want)
			}

			mux := http.NewServeMux()
			c.Mount(mux)
			for path, want := range map[string]int{"/health": tc.health, "/ready": tc.ready, "/live": http.StatusOK} {
				rec := httptest.NewRecorder()
				mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				if rec.Code != want {
					t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
				}
			}
		})
	}
}

func TestHealthCachesResults(t *testing.T) {
	c := NewChecker(time.Hour)
	calls := 0
	c.Register("counter", func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	if calls != 1 {
		t.Errorf("check ran %d times, want 1", calls)
	}

	// Re-registering drops the cached result.
	c.Register("counter", func(context.Context) error {
		calls++
		return nil
	})
	c.Health(context.Background())
	if calls != 2 {
		t.Errorf("check ran %d times, want 2", calls)
	}
}

func TestHTTPHandlerBody(t *testing.T) {
	c := NewChecker(time.Minute)
	c.RegisterCritical("proxy", func(context.Context) error { return errors.New("proxy not running") })

	rec := httptest.NewRecorder()
	c.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Status Status  `json:"status"`
		Checks []Check `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusUnhealthy || len(body.Checks) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Checks[0].Message != "proxy not running" || !body.Checks[0].Critical {
		t.Errorf("check = %+v", body.Checks[0])
	}
}
