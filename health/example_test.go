package health_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/jonwraymond/recipebox/health"
)

type entryCount int

func (n entryCount) Len() int { return int(n) }

func ExampleNewCacheChecker() {
	checker := health.NewCacheChecker(entryCount(120), health.CacheCheckerConfig{WarnEntries: 100})

	result := checker.Check(context.Background())
	fmt.Println(checker.Name(), result.Status, result.Message)
	// Output:
	// cache degraded cache holds 120 entries
}

func ExampleOverallStatus() {
	results := map[string]health.Result{
		"store": health.Healthy("store reachable"),
		"cache": health.Degraded("cache holds 120 entries"),
	}
	fmt.Println(health.OverallStatus(results))
	// Output:
	// degraded
}

func ExampleHandlers_Register() {
	agg := health.NewAggregator()
	agg.Register(health.NewCheckerFunc("store", func(ctx context.Context) health.Result {
		return health.Healthy("store reachable")
	}))

	mux := http.NewServeMux()
	health.NewHandlers(agg, health.HandlerConfig{Environment: "production"}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body health.Response
	_ = json.NewDecoder(rec.Body).Decode(&body)
	fmt.Println(rec.Code, body.Status, body.Environment)
	// Output:
	// 200 healthy production
}
