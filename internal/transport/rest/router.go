package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/utils"
)

// NewRouter assembles the HTTP surface. Settlement submission shares the
// router-wide throttle: the custodian rate-limits us, so inbound settlements
// are bounded rather than queued without limit.
func NewRouter(cfg *config.Config, ctrl *Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Throttle(cfg.Settlement.MaxConcurrent)).
			Post("/trades/{tradeID}/settlement", ctrl.SettleTrade)
		r.Get("/transfers/{transferID}", ctrl.GetTransfer)
		r.Get("/workflows/{workflowID}", ctrl.GetWorkflow)
		r.Get("/portfolio/{userID}", ctrl.GetPortfolio)
		r.Post("/reconciliation/run", ctrl.RunReconciliation)
	})

	return r
}

// requestID threads a fresh request ID through the context so service and
// repository logs for one request correlate.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := utils.CtxWithNewRequestID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
