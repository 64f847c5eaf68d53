package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/GroupLang/agent-market-client/internal/controllers"
	"github.com/GroupLang/agent-market-client/internal/metrics"
	"github.com/GroupLang/agent-market-client/internal/middleware"
	"github.com/GroupLang/agent-market-client/internal/routes"
)

// Handler is the render bridge: projections and write operations as JSON.
func (a *App) Handler() http.Handler {
	healthController := controllers.NewHealthController(a.Session, a.Ledger)
	sessionController := controllers.NewSessionController(a.Session, a.Auth)
	instanceController := controllers.NewInstanceController(a.Instances, a.Projection)
	githubController := controllers.NewGitHubController(a.Mirror, a.Projection)

	router := mux.NewRouter()

	// Public Routes
	router.HandleFunc(routes.Health, healthController.HealthCheckHandler).Methods(http.MethodGet)
	router.Handle(routes.Metrics, metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc(routes.AuthLogin, sessionController.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.AuthToken, sessionController.TokenLoginHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.AuthRegister, sessionController.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.AuthLogout, sessionController.LogoutHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.AuthSession, sessionController.SessionHandler).Methods(http.MethodGet)

	// Routes that need a live marketplace session
	secured := router.NewRoute().Subrouter()
	secured.Use(middleware.SessionMiddleware(a.Session))
	secured.HandleFunc(routes.Instances, instanceController.ListHandler).Methods(http.MethodGet)
	secured.HandleFunc(routes.InstanceByID, instanceController.GetHandler).Methods(http.MethodGet)
	secured.HandleFunc(routes.InstanceBids, instanceController.SubmitBidHandler).Methods(http.MethodPost)
	secured.HandleFunc(routes.InstanceReportReward, instanceController.ReportRewardHandler).Methods(http.MethodPut)
	secured.HandleFunc(routes.GitHubIssues, githubController.IssuesHandler).Methods(http.MethodGet)
	secured.HandleFunc(routes.GitHubBlock, githubController.BlockPaymentHandler).Methods(http.MethodPost)

	co := cors.New(cors.Options{
		AllowedOrigins:   a.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return co.Handler(router)
}
