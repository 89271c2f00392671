package middleware

import (
	"fmt"
	"net/http"

	"github.com/etmpass/notifications-service/api/responses"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
)

// Recoverer turns handler panics into a 500 envelope. Nothing is written once
// the connection was hijacked for a WebSocket or the status already went out.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guard := &statusRecorder{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				ctx := r.Context()
				if guard.hijacked || guard.status != 0 {
					if logg != nil {
						logg.Error(ctx, "panic.recovered", err)
					}
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(guard, r)
		})
	}
}
