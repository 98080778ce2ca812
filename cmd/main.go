package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dsuauth/api/handler"
	apiMiddleware "dsuauth/api/middleware"
	"dsuauth/api/routes"
	"dsuauth/config"
	"dsuauth/internal/defsec"
	"dsuauth/internal/discord"
	"dsuauth/internal/repository"
	"dsuauth/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file, using process environment")
	}

	db, err := config.ConnectDB()
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}

	validate := validator.New()

	serversPath := os.Getenv("SERVERS_CONFIG")
	if serversPath == "" {
		serversPath = "servers.json"
	}
	roleConfig, err := config.LoadServers(serversPath, validate)
	if err != nil {
		logger.WithError(err).Fatal("server config load failed")
	}

	clientID := os.Getenv("OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("OAUTH_CLIENT_SECRET")
	redirectURI := os.Getenv("OAUTH_REDIRECT_URI")
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		logger.Fatal("OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET and OAUTH_REDIRECT_URI are required")
	}
	scopes := strings.Fields(os.Getenv("OAUTH_SCOPES"))
	if len(scopes) == 0 {
		scopes = []string{"user.read"}
	}
	exchanger := service.NewAzureOAuth(clientID, clientSecret, redirectURI, scopes, "dsu.edu", logger)

	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken == "" {
		logger.Fatal("DISCORD_TOKEN is required")
	}
	platform := discord.NewClient(discordToken)

	var emailSender service.EmailSender
	if apiKey := os.Getenv("RESEND_API_KEY"); apiKey != "" {
		from := os.Getenv("EMAIL_FROM")
		if from == "" {
			logger.Fatal("EMAIL_FROM is required when RESEND_API_KEY is set")
		}
		emailSender = service.NewResendEmailSender(apiKey, from)
	}

	var labDirectory service.LabDirectory
	if host := os.Getenv("DEFSEC_HOST"); host != "" {
		labDirectory = defsec.NewClient(host, os.Getenv("DEFSEC_API_KEY"))
	}

	verifyService := service.NewVerifyService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		repository.NewEmailCodeRepository(db),
		repository.NewAuditLogRepository(db),
		exchanger,
		platform,
		roleConfig,
		emailSender,
		labDirectory,
		service.RealClock{},
		logger,
		service.VerifyConfig{
			EmailCodeTTL:      30 * time.Minute,
			EmailResendWindow: 10 * time.Minute,
		},
	)

	verifyHandler := handler.NewVerifyHandler(verifyService, validate, roleConfig)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"status": v.Status,
				"method": v.Method,
				"uri":    v.URI,
				"ip":     v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	apiKey := apiMiddleware.APIKeyMiddleware{Key: os.Getenv("API_KEY")}
	router := routes.NewRouter(app, verifyHandler, apiKey)
	router.RegisterRoutes()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8888"
	}
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("listener started")
		if err := app.StartServer(server); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("listener stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("forced shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
