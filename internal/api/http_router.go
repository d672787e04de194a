package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/o1egl/paseto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"durakv/internal/common"
	"durakv/internal/config"
	"durakv/internal/engine"
	"durakv/internal/logger"
	"durakv/internal/metrics"
)

// HttpApiRouter is the thin HTTP façade over the synchronous engine. Every
// handler dispatches straight into engine calls; the router adds auth, rate
// limiting, access logging and Prometheus request metrics.
type HttpApiRouter struct {
	Engine        *engine.Engine
	Configuration config.SystemConfiguration
	Log           *logger.Logger

	limiter        *ClientRateLimiter
	metricsHandler fasthttp.RequestHandler
}

func NewHttpApiRouter(e *engine.Engine, cfg config.SystemConfiguration, log *logger.Logger) *HttpApiRouter {
	router := &HttpApiRouter{Engine: e, Configuration: cfg, Log: log}
	if cfg.RequestRateLimitPerSecond > 0 {
		router.limiter = NewClientRateLimiter(cfg.RequestRateLimitPerSecond, int(cfg.RequestRateLimitPerSecond)*2)
	}
	if cfg.EnablePrometheusMetrics {
		router.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	}
	return router
}

type SinglePutRequestPayload struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TimeToLive int64  `json:"ttl"`
}

type BatchPutRequestPayload struct {
	Items []SinglePutRequestPayload `json:"items"`
}

func (router *HttpApiRouter) GetFastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		router.handleRequest(ctx)
	}
}

func (router *HttpApiRouter) handleRequest(ctx *fasthttp.RequestCtx) {
	startTime := time.Now()
	requestID := uuid.NewString()
	defer func() {
		router.recoverPanic(ctx)
		router.Log.Access("%s %s %s %s %v %d", requestID, string(ctx.Method()), string(ctx.Path()),
			ctx.RemoteAddr(), time.Since(startTime), ctx.Response.StatusCode())
		metrics.RequestTotal.WithLabelValues(string(ctx.Method()), string(ctx.Path()),
			fmt.Sprint(ctx.Response.StatusCode())).Inc()
		metrics.RequestDuration.WithLabelValues(string(ctx.Method()), string(ctx.Path())).
			Observe(time.Since(startTime).Seconds())
	}()

	metrics.IncrementRequestCount()

	if router.limiter != nil && !router.limiter.Allow(ctx.RemoteIP().String()) {
		metrics.IncrementRejectedRequest()
		ctx.Error("Too Many Requests", fasthttp.StatusTooManyRequests)
		return
	}

	// The Prometheus endpoint stays open for scrapers.
	if string(ctx.Path()) == "/metrics" {
		router.HandleMetricsRequest(ctx)
		return
	}

	if !router.checkAuth(ctx) {
		metrics.IncrementRejectedRequest()
		ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
		return
	}

	router.routePath(ctx)
}

func (router *HttpApiRouter) routePath(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/put":
		router.HandleSinglePutRequest(ctx)
	case "/get":
		router.HandleGetRequest(ctx)
	case "/batch":
		router.HandleBatchPutRequest(ctx)
	case "/delete":
		router.HandleDeleteRequest(ctx)
	case "/keys":
		router.HandleKeysRequest(ctx)
	case "/stats":
		router.HandleStatsRequest(ctx)
	case "/flush":
		router.HandleFlushRequest(ctx)
	case "/compact":
		router.HandleCompactRequest(ctx)
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}

func (router *HttpApiRouter) checkAuth(ctx *fasthttp.RequestCtx) bool {
	configToken := router.Configuration.AuthenticationToken
	headerToken := string(ctx.Request.Header.Peek("Authorization"))

	if configToken == "" && headerToken == "" {
		return true
	}

	var footer string
	var claims paseto.JSONToken
	secretKey := []byte(fmt.Sprintf("%-32s", router.Configuration.AuthenticationSecret))[:32]

	return paseto.NewV2().Decrypt(headerToken, secretKey, &claims, &footer) == nil
}

func (router *HttpApiRouter) HandleSinglePutRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST", "PUT") {
		return
	}

	var payload SinglePutRequestPayload
	if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
		ctx.Error("Bad Request", fasthttp.StatusBadRequest)
		return
	}

	if err := router.applyPut(payload); err != nil {
		ctx.Error(err.Error(), statusForEngineError(err))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
}

func (router *HttpApiRouter) applyPut(payload SinglePutRequestPayload) error {
	if payload.TimeToLive != 0 {
		return router.Engine.SetWithTTL(payload.Key, common.StringValue(payload.Value), payload.TimeToLive)
	}
	return router.Engine.Set(payload.Key, common.StringValue(payload.Value))
}

func (router *HttpApiRouter) HandleGetRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}

	key := string(ctx.QueryArgs().Peek("key"))
	if key == "" {
		ctx.Error("Missing key", fasthttp.StatusBadRequest)
		return
	}

	value, ok := router.Engine.Get(key)
	if !ok {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	writeValueJSON(ctx, key, value)
}

func (router *HttpApiRouter) HandleBatchPutRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}

	var req BatchPutRequestPayload
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Bad Request", fasthttp.StatusBadRequest)
		return
	}

	for _, item := range req.Items {
		if err := router.applyPut(item); err != nil {
			ctx.Error(fmt.Sprintf("item %q: %s", item.Key, err), statusForEngineError(err))
			return
		}
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
}

func (router *HttpApiRouter) HandleDeleteRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "DELETE", "POST") {
		return
	}

	key := string(ctx.QueryArgs().Peek("key"))
	if key == "" {
		ctx.Error("Missing key", fasthttp.StatusBadRequest)
		return
	}

	existed, err := router.Engine.Delete(key)
	if err != nil {
		ctx.Error(err.Error(), statusForEngineError(err))
		return
	}
	if !existed {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (router *HttpApiRouter) HandleKeysRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(map[string]interface{}{
		"keys": router.Engine.Keys(),
		"size": router.Engine.Size(),
	})
}

func (router *HttpApiRouter) HandleStatsRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(router.Engine.Stats())
}

func (router *HttpApiRouter) HandleFlushRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}
	forceSync := ctx.QueryArgs().GetBool("sync")
	if err := router.Engine.Flush(forceSync); err != nil {
		ctx.Error(err.Error(), statusForEngineError(err))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (router *HttpApiRouter) HandleCompactRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}
	if err := router.Engine.Compact(); err != nil {
		ctx.Error(err.Error(), statusForEngineError(err))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func (router *HttpApiRouter) HandleMetricsRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	if router.metricsHandler == nil {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	metrics.PublishEngineStats(router.Engine.Stats())
	router.metricsHandler(ctx)
}

func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyKey), errors.Is(err, engine.ErrKeyTooLarge):
		return fasthttp.StatusBadRequest
	case errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrCompactionInProgress):
		return fasthttp.StatusServiceUnavailable
	}
	return fasthttp.StatusInternalServerError
}

func isMethodAllowed(ctx *fasthttp.RequestCtx, methods ...string) bool {
	reqMethod := string(ctx.Method())
	for _, m := range methods {
		if reqMethod == m {
			return true
		}
	}
	ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
	return false
}

func (router *HttpApiRouter) recoverPanic(ctx *fasthttp.RequestCtx) {
	if r := recover(); r != nil {
		router.Log.Error("PANIC: %v\n%s", r, debug.Stack())
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	}
}

func writeValueJSON(ctx *fasthttp.RequestCtx, key string, value common.Value) {
	ctx.SetContentType("application/json")
	out := map[string]interface{}{"key": key, "kind": value.Kind.String()}
	switch value.Kind {
	case common.KindBool:
		out["value"] = value.Bool
	case common.KindNumber:
		out["value"] = value.Number
	case common.KindString:
		out["value"] = value.Str
	case common.KindBytes:
		out["value"] = value.Bytes
	case common.KindArray, common.KindMap:
		out["value"] = value
	default:
		out["value"] = nil
	}
	json.NewEncoder(ctx).Encode(out)
}
