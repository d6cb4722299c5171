package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"outreach/internal/domain"
	"outreach/internal/service"
	"outreach/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	mem := memory.New()
	for i := 0; i < 3; i++ {
		mem.PutRecipients("t1", domain.Recipient{
			ID: fmt.Sprintf("r%d", i), Name: fmt.Sprintf("Lead %d", i),
			Email: fmt.Sprintf("lead%d@acme.io", i), Status: "Prospecto",
		})
	}
	mem.PutCampaign(domain.Campaign{
		ID: "c1", TenantID: "t1", Channel: domain.ChannelEmail,
		Content: "Hola {{nombre}}", Status: domain.CampaignDraft,
		Filter: domain.AudienceFilter{Status: domain.StringSet{"Prospecto"}},
	})
	mem.PutCampaign(domain.Campaign{
		ID: "empty", TenantID: "t1", Channel: domain.ChannelEmail,
		Content: "Hola", Status: domain.CampaignDraft,
		Filter: domain.AudienceFilter{Status: domain.StringSet{"Nadie"}},
	})

	svc := &service.CampaignService{Campaigns: mem, Recipients: mem, Queue: mem, MaxRetries: 3}
	s := New()
	(&API{Svc: svc}).Register(s.Mux)
	srv := httptest.NewServer(s.Mux)
	t.Cleanup(srv.Close)
	return srv, mem
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestScheduleThenStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/schedule", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("schedule status = %d body=%v", resp.StatusCode, body)
	}
	if body["totalQueued"] != float64(3) || body["status"] != "sending" {
		t.Fatalf("schedule body = %v", body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/schedule", "{}")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second schedule status = %d body=%v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/campaigns/c1/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if body["total"] != float64(3) || body["pending"] != float64(3) || body["isComplete"] != false {
		t.Fatalf("stats body = %v", body)
	}
}

func TestScheduleTestModeFutureTime(t *testing.T) {
	srv, mem := newTestServer(t)
	at := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/schedule",
		fmt.Sprintf(`{"scheduledAt":%q,"testMode":true}`, at))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	if body["totalQueued"] != float64(1) || body["testRecipient"] == "" {
		t.Fatalf("body = %v", body)
	}
	c, _ := mem.GetCampaign(t.Context(), "c1")
	if c.Status != domain.CampaignDraft {
		t.Fatalf("test mode changed campaign status to %s", c.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"unknown campaign", http.MethodGet, "/v1/campaigns/nope/stats", "", http.StatusNotFound},
		{"empty audience", http.MethodPost, "/v1/campaigns/empty/schedule", "", http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/v1/campaigns/c1/schedule", "{", http.StatusBadRequest},
		{"unknown message", http.MethodGet, "/v1/messages/msg_nope", "", http.StatusNotFound},
		{"purge zero days", http.MethodPost, "/v1/maintenance/purge", `{"retentionDays":0}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/v1/campaigns/c1/schedule", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, tc.method, srv.URL+tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d body=%v", resp.StatusCode, tc.want, body)
			}
		})
	}
}

func TestEnqueueValidationDetails(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/messages",
		`{"messages":[{"tenantId":"t1","recipientId":"r1","channel":"fax","content":"hi"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	details, _ := body["details"].(map[string]any)
	if _, ok := details["messages[0].channel"]; !ok {
		t.Fatalf("details = %v", body)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/messages", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing messages status = %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/messages",
		`{"messages":[{"tenantId":"t1","recipientId":"r1","channel":"email","content":"hi"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("email without address status = %d body=%v", resp.StatusCode, body)
	}
}

func TestEnqueueEmptyBatchIsNoop(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/messages", `{"messages":[]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	ids, ok := body["ids"].([]any)
	if body["queued"] != float64(0) || !ok || len(ids) != 0 {
		t.Fatalf("body = %v", body)
	}
}

func TestEnqueueAndGetMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/messages",
		`{"messages":[{"tenantId":"t1","recipientId":"r1","channel":"sms","content":"hola","metadata":{"phone":"+5215550001"}}]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d body=%v", resp.StatusCode, body)
	}
	ids, _ := body["ids"].([]any)
	if len(ids) != 1 {
		t.Fatalf("ids = %v", body)
	}
	id, _ := ids[0].(string)
	if !strings.HasPrefix(id, "msg_") {
		t.Fatalf("id = %q", id)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/messages/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if body["status"] != string(domain.StatusPending) || body["channel"] != "sms" {
		t.Fatalf("message = %v", body)
	}
}

func TestPreviewPauseAndCancel(t *testing.T) {
	srv, mem := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/campaigns/c1/preview", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("preview items = %v", body)
	}
	first, _ := items[0].(map[string]any)
	if first["personalizedContent"] != "Hola Lead 0" {
		t.Fatalf("preview item = %v", first)
	}

	do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/schedule", "")
	resp, body = do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/cancel", "")
	if resp.StatusCode != http.StatusOK || body["affected"] != float64(3) {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/v1/campaigns/c1/pause", "")
	if resp.StatusCode != http.StatusOK || body["affected"] != float64(0) {
		t.Fatalf("pause = %d %v", resp.StatusCode, body)
	}
	c, _ := mem.GetCampaign(t.Context(), "c1")
	if c.Status != domain.CampaignArchived {
		t.Fatalf("campaign status = %s", c.Status)
	}
}

func TestRetrySweepEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/maintenance/retry-sweep", "")
	if resp.StatusCode != http.StatusOK || body["requeued"] != float64(0) {
		t.Fatalf("retry sweep = %d %v", resp.StatusCode, body)
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_requests_total"}, []string{"endpoint", "status"})
	mem := memory.New()
	svc := &service.CampaignService{Campaigns: mem, Recipients: mem, Queue: mem}
	s := New()
	s.Mux.Use(Metrics(counter))
	(&API{Svc: svc}).Register(s.Mux)

	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns/abc/stats", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("/v1/campaigns/{id}/stats", "404")); got != 1 {
		t.Fatalf("counter = %v", got)
	}
}

func TestReadyzNamesFailingCheck(t *testing.T) {
	ok := Check{Name: "store", Fn: func(ctx context.Context) error { return nil }}
	down := Check{Name: "reports_queue", Fn: func(ctx context.Context) error { return errors.New("queue missing") }}

	rec := httptest.NewRecorder()
	Readyz(time.Second, ok, down)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Failed != "reports_queue" || body.Error != "queue missing" {
		t.Fatalf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	Readyz(time.Second, ok)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
