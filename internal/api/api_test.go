package api

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/o1egl/paseto"
	"github.com/valyala/fasthttp"

	factory "durakv/internal/testing"
)

func newTestRouter(t *testing.T, mutate ...func(*HttpApiRouter)) *HttpApiRouter {
	t.Helper()
	f := factory.NewTestFactory(t)
	cfg := f.Configuration()
	cfg.EnablePrometheusMetrics = false

	e := f.CreateEngine(nil)
	t.Cleanup(func() { e.Close() })

	router := NewHttpApiRouter(e, cfg, nil)
	for _, m := range mutate {
		m(router)
	}
	return router
}

func doRequest(router *HttpApiRouter, method, uri string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	router.GetFastHTTPHandler()(ctx)
	return ctx
}

func TestApi_PutThenGet(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(SinglePutRequestPayload{Key: "testk", Value: "testv"})
	ctx := doRequest(router, "POST", "/put", body)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("put status: %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(router, "GET", "/get?key=testk", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("get status: %d", ctx.Response.StatusCode())
	}

	var out map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if out["value"] != "testv" {
		t.Errorf("wrong value: %v", out["value"])
	}
}

func TestApi_GetMissingIs404(t *testing.T) {
	router := newTestRouter(t)

	ctx := doRequest(router, "GET", "/get?key=nope", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Errorf("expected 404, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_Negative_EmptyKeyPutIs400(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(SinglePutRequestPayload{Key: "", Value: "v"})
	ctx := doRequest(router, "POST", "/put", body)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_DeleteRemovesKey(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(SinglePutRequestPayload{Key: "d", Value: "v"})
	doRequest(router, "POST", "/put", body)

	ctx := doRequest(router, "DELETE", "/delete?key=d", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("delete status: %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(router, "GET", "/get?key=d", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Error("deleted key still served")
	}
}

func TestApi_BatchPut(t *testing.T) {
	router := newTestRouter(t)

	payload := BatchPutRequestPayload{Items: []SinglePutRequestPayload{
		{Key: "b1", Value: "v1"},
		{Key: "b2", Value: "v2", TimeToLive: 60_000},
	}}
	body, _ := json.Marshal(payload)

	ctx := doRequest(router, "POST", "/batch", body)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("batch status: %d", ctx.Response.StatusCode())
	}

	for _, key := range []string{"b1", "b2"} {
		if ctx := doRequest(router, "GET", "/get?key="+key, nil); ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Errorf("batch key %s missing", key)
		}
	}
}

func TestApi_StatsAndKeys(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(SinglePutRequestPayload{Key: "s", Value: "v"})
	doRequest(router, "POST", "/put", body)
	doRequest(router, "POST", "/flush?sync=true", nil)

	ctx := doRequest(router, "GET", "/stats", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("stats status: %d", ctx.Response.StatusCode())
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &stats); err != nil {
		t.Fatalf("stats body: %v", err)
	}
	if stats["writes"].(float64) < 1 {
		t.Error("stats writes not counted")
	}

	ctx = doRequest(router, "GET", "/keys", nil)
	var keys map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &keys); err != nil {
		t.Fatalf("keys body: %v", err)
	}
	if keys["size"].(float64) != 1 {
		t.Errorf("keys size: %v", keys["size"])
	}
}

func TestApi_CompactEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for i := 0; i < 5; i++ {
		body, _ := json.Marshal(SinglePutRequestPayload{Key: "churn", Value: fmt.Sprint(i)})
		doRequest(router, "POST", "/put", body)
		doRequest(router, "POST", "/flush?sync=true", nil)
	}

	ctx := doRequest(router, "POST", "/compact", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("compact status: %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(router, "GET", "/get?key=churn", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Error("value lost after compaction")
	}
}

func TestApi_Negative_UnknownPathIs404(t *testing.T) {
	router := newTestRouter(t)
	ctx := doRequest(router, "GET", "/definitely-not-a-route", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Errorf("expected 404, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_Negative_WrongMethodIs405(t *testing.T) {
	router := newTestRouter(t)
	ctx := doRequest(router, "GET", "/put", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_AuthRejectsBadToken(t *testing.T) {
	router := newTestRouter(t, func(r *HttpApiRouter) {
		r.Configuration.AuthenticationToken = "required"
		r.Configuration.AuthenticationSecret = "test-secret"
	})

	ctx := doRequest(router, "GET", "/keys", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_AuthAcceptsValidToken(t *testing.T) {
	secret := "test-secret"
	router := newTestRouter(t, func(r *HttpApiRouter) {
		r.Configuration.AuthenticationToken = "required"
		r.Configuration.AuthenticationSecret = secret
	})

	key := []byte(fmt.Sprintf("%-32s", secret))[:32]
	token, err := paseto.NewV2().Encrypt(key, paseto.JSONToken{
		Subject: "tester", Expiration: time.Now().Add(time.Hour),
	}, "")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/keys")
	ctx.Request.Header.Set("Authorization", token)
	router.GetFastHTTPHandler()(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", ctx.Response.StatusCode())
	}
}

func TestApi_RateLimiterBlocksBursts(t *testing.T) {
	limiter := NewClientRateLimiter(1, 2)

	if !limiter.Allow("1.2.3.4") || !limiter.Allow("1.2.3.4") {
		t.Fatal("burst capacity should admit the first requests")
	}
	if limiter.Allow("1.2.3.4") {
		t.Error("third immediate request should be limited")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Error("separate clients have separate buckets")
	}
}
