package api

import (
	"net/http"
	"sync"

	"vidtube-backend/internal/app"
	"vidtube-backend/internal/config"
	"vidtube-backend/internal/httpx"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{
			LoadDotEnv:        false,
			DisableMigrations: !config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
	})

	if initErr != nil {
		httpx.WriteError(w, httpx.Internal("application bootstrap failed", initErr))
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
