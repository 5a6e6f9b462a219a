package main

import (
	"context"
	"net/http"
	_ "time/tzdata"

	"github.com/gorilla/mux"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"github.com/sendgrid/sendgrid-go"
	twilio "github.com/twilio/twilio-go"

	"github.com/everkeep/legacy-access-service/internal/app"
	"github.com/everkeep/legacy-access-service/internal/config"
	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/controllers"
	"github.com/everkeep/legacy-access-service/internal/middleware"
	"github.com/everkeep/legacy-access-service/internal/repositories"
	"github.com/everkeep/legacy-access-service/internal/routes"
	"github.com/everkeep/legacy-access-service/internal/services"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

func main() {
	utils.InitLogger(config.AppName)
	cfg := config.LoadConfig()
	defer cfg.Close()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize legacy-access-service:", err)
	}
	defer application.Close()

	reqRepo := repositories.NewLegacyAccessRequestRepository(application.DB)
	confRepo := repositories.NewTrusteeConfirmationRepository(application.DB)
	trusteeRepo := repositories.NewTrusteeRepository(application.DB)
	ownerRepo := repositories.NewOwnerRepository(application.DB)
	tokenRepo := repositories.NewAccessTokenRepository(application.DB)
	vaultRepo := repositories.NewVaultItemRepository(application.DB, cfg.VaultMasterKey)

	twClient := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	sgClient := sendgrid.NewSendClient(cfg.SendGridAPIKey)

	dispatcher := services.NewNotificationService(cfg, twClient, sgClient)
	tokenService := services.NewAccessTokenService(tokenRepo, reqRepo)
	certService := services.NewCertificateReviewService(cfg.OpenAIAPIKey)

	accessService := services.NewLegacyAccessService(
		cfg,
		reqRepo,
		confRepo,
		trusteeRepo,
		ownerRepo,
		vaultRepo,
		tokenService,
		certService,
		dispatcher,
	)
	graceService := services.NewGracePeriodService(
		cfg,
		reqRepo,
		tokenService,
		accessService,
		dispatcher,
	)

	accessController := controllers.NewLegacyAccessController(accessService)
	ownerController := controllers.NewOwnerController(accessService)
	healthController := controllers.NewHealthController(application)

	router := mux.NewRouter()

	// Public
	router.HandleFunc(routes.Health, healthController.HealthCheckHandler).Methods(http.MethodGet)
	router.HandleFunc(routes.LegacyAccessBase, accessController.SubmitRequestHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.LegacyAccessStatus, accessController.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc(routes.LegacyAccessConfirmDetails, accessController.ConfirmDetailsHandler).Methods(http.MethodGet)
	router.HandleFunc(routes.LegacyAccessConfirm, accessController.ConfirmActionHandler).Methods(http.MethodPost)
	router.HandleFunc(routes.LegacyAccessContent, accessController.ContentHandler).Methods(http.MethodGet)

	// Owner dashboard
	secured := router.NewRoute().Subrouter()
	secured.Use(middleware.AuthMiddleware(cfg.RSAPublicKey))

	secured.HandleFunc(routes.LegacyAccessMine, ownerController.ListMineHandler).Methods(http.MethodGet)
	secured.HandleFunc(routes.LegacyAccessCancel, ownerController.CancelRequestHandler).Methods(http.MethodPost)
	secured.HandleFunc(routes.LegacyAccessRevoke, ownerController.RevokeAccessHandler).Methods(http.MethodPost)

	c := cron.New()
	_, graceErr := c.AddFunc(constants.GracePeriodSweepSpec, func() {
		if _, e := graceService.SweepExpiredGracePeriods(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Grace-period sweep failed")
		}
	})
	if graceErr != nil {
		utils.Logger.WithError(graceErr).Fatal("Failed to schedule grace-period sweep cron")
	}

	_, expErr := c.AddFunc(constants.GrantExpirySweepSpec, func() {
		if e := graceService.SweepExpiredGrants(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Grant-expiry sweep failed")
		}
	})
	if expErr != nil {
		utils.Logger.WithError(expErr).Fatal("Failed to schedule grant-expiry sweep cron")
	}
	c.Start()

	allowedOrigins := []string{cfg.AppUrl}
	if !cfg.LDFlag_CORSHighSecurity {
		allowedOrigins = append(allowedOrigins, utils.CORSLowSecurityAllowedOriginLocalhost)
	}

	co := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "ngrok-skip-browser-warning"},
		AllowCredentials: true,
	})

	utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		utils.Logger.Fatal("legacy-access-service failed to start:", err)
	}
}
