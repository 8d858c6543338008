package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/MomentPipe/internal/api"
	"github.com/BTreeMap/MomentPipe/internal/testutil"
)

func serve(t *testing.T, srv *api.Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestSnapshotEndpointRunsCycle(t *testing.T) {
	srv := testutil.NewTestServer()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/snapshot", testutil.LowBatterySnapshot())
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "snapshot POST")
	response := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", response["result"])
	}
	moments, ok := result["moments"].([]interface{})
	if !ok || len(moments) != 1 {
		t.Fatalf("expected exactly one moment, got %v", result["moments"])
	}
	first, _ := moments[0].(map[string]interface{})
	if first["id"] != "battery-low" {
		t.Errorf("expected battery-low moment, got %v", first["id"])
	}
	if sent, _ := result["new_notifications_sent"].(float64); sent != 1 {
		t.Errorf("expected one notification sent, got %v", result["new_notifications_sent"])
	}
}

func TestSnapshotEndpointRejectsBadJSON(t *testing.T) {
	srv := testutil.NewTestServer()

	req := httptest.NewRequest(http.MethodPost, "/v1/snapshot", nil)
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "snapshot POST empty body")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestSnapshotEndpointMethodNotAllowed(t *testing.T) {
	srv := testutil.NewTestServer()

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/snapshot", nil)
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "snapshot GET")
}

func TestCheckEndpointWithoutSnapshot(t *testing.T) {
	srv := testutil.NewTestServer()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/check", nil)
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "check POST without snapshot")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestCheckEndpointUsesCachedSnapshot(t *testing.T) {
	srv := testutil.NewTestServer()

	post := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/snapshot", testutil.LowBatterySnapshot())
	serve(t, srv, post)

	check := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/check", nil)
	rr := serve(t, srv, check)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "check POST with snapshot")
	response := testutil.AssertJSONResponse(t, rr, "ok")

	// The check lands inside the throttle window: cached moments, nothing sent.
	result, _ := response["result"].(map[string]interface{})
	if sent, _ := result["new_notifications_sent"].(float64); sent != 0 {
		t.Errorf("throttled check must not notify, got %v", result["new_notifications_sent"])
	}
}

func TestMomentsEndpoint(t *testing.T) {
	srv := testutil.NewTestServer()

	post := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/snapshot", testutil.LowBatterySnapshot())
	serve(t, srv, post)

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/moments", nil)
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "moments GET")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	moments, ok := response["result"].([]interface{})
	if !ok || len(moments) != 1 {
		t.Errorf("expected one cached moment, got %v", response["result"])
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	srv := testutil.NewTestServer()

	post := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/snapshot", testutil.LowBatterySnapshot())
	serve(t, srv, post)

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/notifications", nil)
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "notifications GET")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	records, ok := response["result"].([]interface{})
	if !ok || len(records) != 1 {
		t.Fatalf("expected one dispatch record, got %v", response["result"])
	}
	record, _ := records[0].(map[string]interface{})
	if record["moment_id"] != "battery-low" || record["status"] != "sent" {
		t.Errorf("unexpected dispatch record: %v", record)
	}
}

func TestActivitySampleEndpoint(t *testing.T) {
	srv := testutil.NewTestServer()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/activity/sample", api.ActivitySampleRequest{Hour: 14, Steps: 600})
	rr := serve(t, srv, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "activity sample POST")
	testutil.AssertJSONResponse(t, rr, "recorded")

	get := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/activity", nil)
	rr = serve(t, srv, get)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "activity GET")
	response := testutil.AssertJSONResponse(t, rr, "ok")

	stats, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected stats object, got %v", response["result"])
	}
	steps, ok := stats["hourly_steps"].([]interface{})
	if !ok || len(steps) != 24 {
		t.Fatalf("expected 24 hour buckets, got %v", stats["hourly_steps"])
	}
	if got, _ := steps[14].(float64); got != 600 {
		t.Errorf("expected 600 steps at hour 14, got %v", steps[14])
	}
}

func TestActivitySampleEndpointValidation(t *testing.T) {
	srv := testutil.NewTestServer()

	cases := []struct {
		name string
		body api.ActivitySampleRequest
	}{
		{"hour too low", api.ActivitySampleRequest{Hour: -1, Steps: 100}},
		{"hour too high", api.ActivitySampleRequest{Hour: 24, Steps: 100}},
		{"negative steps", api.ActivitySampleRequest{Hour: 10, Steps: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/activity/sample", tc.body)
			rr := serve(t, srv, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tc.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestResetEndpointClearsMoments(t *testing.T) {
	srv := testutil.NewTestServer()

	post := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/snapshot", testutil.LowBatterySnapshot())
	serve(t, srv, post)

	reset := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/reset", nil)
	rr := serve(t, srv, reset)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reset POST")
	testutil.AssertJSONResponse(t, rr, "ok")

	get := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/moments", nil)
	rr = serve(t, srv, get)
	response := testutil.AssertJSONResponse(t, rr, "ok")
	if moments, ok := response["result"].([]interface{}); ok && len(moments) != 0 {
		t.Errorf("expected no moments after reset, got %v", moments)
	}
}

func TestReadEndpointsRejectPost(t *testing.T) {
	srv := testutil.NewTestServer()

	for _, path := range []string{"/v1/moments", "/v1/notifications", "/v1/activity"} {
		req := testutil.CreateHTTPRequest(t, http.MethodPost, path, nil)
		rr := serve(t, srv, req)
		testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, path)
	}
}
