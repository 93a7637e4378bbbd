// Package main provides the read-only HTTP API over review results.
//
// API Gateway (HTTP API, payload v2) proxies to this Lambda:
//
//	GET /cme/sessions/{id}          session, observed actions and summary
//	GET /cme/sessions/{id}/actions  observed actions only
//
// Container: Light
// Memory: 256 MB
// Timeout: 10 seconds
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cme-video-review/internal/api"
	"github.com/fpang/cme-video-review/internal/config"
	"github.com/fpang/cme-video-review/internal/lambdaboot"
	"github.com/fpang/cme-video-review/internal/logging"
)

var handler http.Handler

var originVerifySecret string

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	sessions := lambdaboot.InitStore(clients.Config, config.EnvTable)
	handler = api.NewHandler(sessions)
	originVerifySecret = os.Getenv("ORIGIN_VERIFY_SECRET")

	lambdaboot.StartupLog("api-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("sessions", os.Getenv(config.EnvTable)).
		Feature("originVerify", originVerifySecret != "").
		Log()
}

// withOriginVerify rejects requests lacking the x-origin-verify header that
// CloudFront injects. Without a configured secret every request passes.
func withOriginVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if originVerifySecret != "" && r.Header.Get("x-origin-verify") != originVerifySecret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	adapter := httpadapter.NewV2(withOriginVerify(handler))
	lambda.Start(adapter.ProxyWithContext)
}
