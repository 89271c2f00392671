package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/etmpass/notifications-service/api/controllers"
	"github.com/etmpass/notifications-service/api/middleware"
	"github.com/etmpass/notifications-service/internal/notifications"
	"github.com/etmpass/notifications-service/pkg/config"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/redis"
)

// Params carries everything the HTTP surface needs. Nil optional fields
// disable the routes or checks that depend on them.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Notifications notifications.Service
	Producer      controllers.Publisher
	Gateway       http.Handler
	Idempotency   redis.IdempotencyStore
	Gatherer      prometheus.Gatherer
	Readiness     map[string]controllers.Pinger
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	if p.Gateway != nil {
		r.Handle("/ws/notifications", p.Gateway)
	}

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.Gateway.AllowedOrigins))

		// inline so the full route pattern is resolved before the lookup
		writes := r.With()
		if p.Idempotency != nil {
			writes = r.With(middleware.Idempotency(p.Idempotency, logg))
		}
		writes.Post("/", controllers.CreateNotification(p.Notifications, logg))
		writes.Post("/queue", controllers.QueueNotification(p.Producer, logg))

		r.Get("/users/{userId}", controllers.ListUserNotifications(p.Notifications, logg))
		r.Get("/users/{userId}/unread-count", controllers.UnreadCount(p.Notifications, logg))
		r.Patch("/users/{userId}/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))

		r.Patch("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
		r.Delete("/{notificationId}", controllers.DeleteNotification(p.Notifications, logg))
	})

	return r
}
