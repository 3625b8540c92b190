package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmretail/settlement-backend/api/controllers"
	"github.com/mmretail/settlement-backend/api/middleware"
	"github.com/mmretail/settlement-backend/internal/ledger"
	"github.com/mmretail/settlement-backend/internal/recon"
	"github.com/mmretail/settlement-backend/pkg/config"
	"github.com/mmretail/settlement-backend/pkg/db"
	"github.com/mmretail/settlement-backend/pkg/logger"
	"github.com/mmretail/settlement-backend/pkg/redis"
)

// NewRouter assembles the admin API surface: health probes, Prometheus
// metrics, and the pipeline control endpoints.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	registry *prometheus.Registry,
	reconService *recon.Service,
	withdrawals ledger.WithdrawalRepository,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(nil),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/admin/v1/pipeline", func(r chi.Router) {
		r.Post("/runs", controllers.PipelineRunAll(reconService, logg))
		r.Post("/runs/{stage}", controllers.PipelineRunStage(reconService, logg))
		r.Post("/records/{billID}/{detailID}/split", controllers.PipelineRunRecord(reconService, logg))
		r.Get("/status", controllers.PipelineStatus(reconService, logg))
		r.Post("/stop", controllers.PipelineStop(reconService))
		r.Post("/resume", controllers.PipelineResume(reconService))
	})

	r.Route("/api/admin/v1/withdrawals", func(r chi.Router) {
		r.Post("/", controllers.WithdrawalCreate(withdrawals, logg))
		r.Get("/", controllers.WithdrawalList(withdrawals, logg))
	})

	return r
}
