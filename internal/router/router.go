package router

import (
	"database/sql"
	"net/http"

	"hostel-mess/internal/config"
	"hostel-mess/internal/handlers"
	"hostel-mess/internal/middleware"
	"hostel-mess/internal/models"
	"hostel-mess/internal/services"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SetupRouter wires services and handlers. cache may be nil. The returned
// handler answers CORS preflight requests before routing.
func SetupRouter(db *sql.DB, cfg config.Config, cache services.BalanceCache, logger zerolog.Logger) http.Handler {
	accountService := services.NewAccountService(db, logger, cache)
	optOutService := services.NewOptOutService(db, logger, accountService, cfg.OptOutCredit, cfg.Location)
	redemptionService := services.NewRedemptionService(db, logger, accountService)
	userService := services.NewUserService(db, logger)
	authService := services.NewAuthService(cfg.JWTSecret, logger)

	authHandler := handlers.NewAuthHandler(userService, authService, logger)
	userHandler := handlers.NewUserHandler(userService, logger)
	accountHandler := handlers.NewAccountHandler(accountService, logger)
	optOutHandler := handlers.NewOptOutHandler(optOutService, cfg.AllowCreditOverride, logger)
	redemptionHandler := handlers.NewRedemptionHandler(redemptionService, logger)

	reviewer := middleware.RequireRole(string(models.RoleWarden), string(models.RoleAdmin))
	authenticate := middleware.Authentication(authService, userService, logger)
	rateLimiter := middleware.NewClientRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	r := mux.NewRouter()
	r.Use(middleware.Observe(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.SecurityHeaders)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimiter.Middleware)
	api.Use(middleware.RequireJSON)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandler.Register).Methods("POST")
	auth.HandleFunc("/login", authHandler.Login).Methods("POST")

	protectedAuth := auth.PathPrefix("").Subrouter()
	protectedAuth.Use(authenticate)
	protectedAuth.HandleFunc("/refresh", authHandler.Refresh).Methods("POST")

	users := api.PathPrefix("/users").Subrouter()
	users.Use(authenticate)
	users.HandleFunc("/{id:[0-9]+}", userHandler.GetUser).Methods("GET")
	users.Handle("/{id:[0-9]+}/role", middleware.RequireRole(string(models.RoleAdmin))(http.HandlerFunc(userHandler.UpdateRole))).Methods("PUT")

	accounts := api.PathPrefix("/accounts").Subrouter()
	accounts.Use(authenticate)
	accounts.HandleFunc("/me/balance", accountHandler.GetBalance).Methods("GET")
	accounts.HandleFunc("/me/history", accountHandler.GetHistory).Methods("GET")
	accounts.Handle("/{id:[0-9]+}/reconcile", reviewer(http.HandlerFunc(accountHandler.Reconcile))).Methods("GET")

	optOuts := api.PathPrefix("/opt-outs").Subrouter()
	optOuts.Use(authenticate)
	optOuts.HandleFunc("", optOutHandler.List).Methods("GET")
	optOuts.HandleFunc("", optOutHandler.Create).Methods("POST")
	optOuts.HandleFunc("/{id:[0-9]+}", optOutHandler.Cancel).Methods("DELETE")

	redemptions := api.PathPrefix("/redemptions").Subrouter()
	redemptions.Use(authenticate)
	redemptions.HandleFunc("", redemptionHandler.List).Methods("GET")
	redemptions.HandleFunc("", redemptionHandler.Create).Methods("POST")
	redemptions.HandleFunc("/{id:[0-9]+}", redemptionHandler.Get).Methods("GET")
	redemptions.Handle("/{id:[0-9]+}/process", reviewer(http.HandlerFunc(redemptionHandler.Process))).Methods("POST")

	return middleware.CORS(r)
}
