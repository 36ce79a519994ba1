package incident

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

func TestClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/incidents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != StatusNew || q.Get("limit") != "20" || q.Get("skip") != "5" {
			t.Errorf("query = %v", q)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"id":             12,
				"timestamp":      "2026-03-01T09:30:00.250000",
				"violence_score": 0.91,
				"location":       "Entrada",
				"status":         "new",
				"persons": []map[string]interface{}{
					{"id": 1, "person_id": 4, "bounding_box": []float64{1, 2, 3, 4}},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens("tok123"))
	incidents, err := c.List(context.Background(), Filter{Status: StatusNew, Skip: 5, Limit: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("len = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.ID != 12 || inc.ViolenceScore != 0.91 || inc.Status != StatusNew {
		t.Errorf("incident = %+v", inc)
	}
	want := time.Date(2026, 3, 1, 9, 30, 0, 250000000, time.UTC)
	if !inc.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", inc.Timestamp.Time, want)
	}
	if len(inc.Persons) != 1 || inc.Persons[0].PersonID != 4 {
		t.Errorf("persons = %+v", inc.Persons)
	}
}

func TestClientUpdateStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/incidents/12" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("status"); got != StatusResolved {
			t.Errorf("status = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 12, "status": "resolved"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	inc, err := c.UpdateStatus(context.Background(), 12, StatusResolved)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if inc.Status != StatusResolved {
		t.Errorf("status = %q", inc.Status)
	}
}

func TestClientUpdateStatusRejectsUnknown(t *testing.T) {
	c := NewClient("http://backend.invalid", nil)
	if _, err := c.UpdateStatus(context.Background(), 1, "shrug"); err == nil {
		t.Error("accepted an unknown status without a request")
	}
}

func TestClientTodayStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats/today" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total":     7,
			"by_status": map[string]int{"new": 4, "resolved": 2, "false_alarm": 1},
			"date":      "2026-03-01",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	stats, err := c.TodayStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 7 || stats.ByStatus["new"] != 4 || stats.Date != "2026-03-01" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClientSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settings/violence_threshold" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method == http.MethodPut {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["value"] != "0.9" {
				t.Errorf("body = %v", body)
			}
			json.NewEncoder(w).Encode(Setting{Key: "violence_threshold", Value: "0.9"})
			return
		}
		json.NewEncoder(w).Encode(Setting{Key: "violence_threshold", Value: "0.8"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	got, err := c.GetSetting(context.Background(), "violence_threshold")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "0.8" {
		t.Errorf("value = %q", got.Value)
	}

	updated, err := c.UpdateSetting(context.Background(), "violence_threshold", "0.9")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Value != "0.9" {
		t.Errorf("value = %q", updated.Value)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Incidente no encontrado"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Get(context.Background(), 999); err == nil {
		t.Error("404 response did not surface as an error")
	}
}

func TestAPITimeFormats(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{`"2026-03-01T12:00:00Z"`, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{`"2026-03-01T12:00:00.123456"`, time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)},
		{`"2026-03-01T12:00:00"`, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{`null`, time.Time{}},
	}
	for _, tc := range cases {
		var ts APITime
		if err := json.Unmarshal([]byte(tc.in), &ts); err != nil {
			t.Errorf("unmarshal %s: %v", tc.in, err)
			continue
		}
		if !ts.Equal(tc.want) {
			t.Errorf("%s = %v, want %v", tc.in, ts.Time, tc.want)
		}
	}

	var bad APITime
	if err := json.Unmarshal([]byte(`"yesterday"`), &bad); err == nil {
		t.Error("accepted an unparseable timestamp")
	}
}
