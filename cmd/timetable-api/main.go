package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-api/api/swagger"
	"github.com/noah-isme/timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/cache"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/database"
	"github.com/noah-isme/timetable-api/pkg/dynamo"
	"github.com/noah-isme/timetable-api/pkg/jobs"
	"github.com/noah-isme/timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/requestid"
)

// @title Timetable API
// @version 1.0.0
// @description Conflict-aware weekly timetable assignment and queries
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type userStore interface {
	FindByPK(ctx context.Context, pk string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// backends holds the stores selected by STORE_DRIVER plus their readiness probes.
type backends struct {
	timetable service.TimetableStore
	users     userStore
	checks    []handler.ReadinessCheck
	closeFn   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer stores.closeFn()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		stores.checks = append(stores.checks, handler.ReadinessCheck{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	location, err := cfg.Timetable.Location()
	if err != nil {
		logr.Fatal("invalid timetable configuration", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	store := service.InstrumentStore(stores.timetable, metrics)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled && redisClient != nil)
	invalidator := service.NewCacheInvalidator(cacheSvc, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	invalidator.Start(ctx)
	defer invalidator.Stop()

	checker := service.NewConflictChecker(store, metrics, logr, cfg.Timetable.ScanPageSize)
	timetableSvc := service.NewTimetableService(store, checker, validate, metrics, invalidator, logr)
	querySvc := service.NewTimetableQueryService(store, cacheSvc, metrics, logr, service.QueryConfig{
		DailyCap:     cfg.Timetable.DailyCap,
		ScanPageSize: cfg.Timetable.ScanPageSize,
		Location:     location,
	})
	exportSvc := service.NewExportService(querySvc, service.ExportConfig{Location: location}, logr)
	authSvc := service.NewAuthService(stores.users, repository.NewTokenBlacklistRepository(redisClient), validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	timetableHandler := handler.NewTimetableHandler(timetableSvc, querySvc, exportSvc)
	authHandler := handler.NewAuthHandler(authSvc, handler.CookieOptions{
		AdminName:   cfg.Cookies.AdminName,
		StudentName: cfg.Cookies.StudentName,
		Secure:      cfg.Cookies.Secure,
	})
	metricsHandler := handler.NewMetricsHandler(metrics, stores.checks...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/admin/register", authHandler.RegisterAdmin)
	auth.POST("/admin/login", authHandler.LoginAdmin)
	auth.POST("/student/register", authHandler.RegisterStudent)
	auth.POST("/student/login", authHandler.LoginStudent)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc, cfg.Cookies.AdminName, cfg.Cookies.StudentName))
	secured.POST("/auth/logout", authHandler.Logout)

	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)
	studentOnly := internalmiddleware.RequireRoles(models.RoleStudent)
	anyRole := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleStudent)

	timetable := secured.Group("/timetable")
	timetable.POST("/slot", adminOnly, internalmiddleware.Audit(logr, "timetable.slot.create"), timetableHandler.AddSlot)
	timetable.POST("/slots/batch", adminOnly, internalmiddleware.Audit(logr, "timetable.slot.batch"), timetableHandler.AddBatch)
	timetable.PUT("/slot", adminOnly, internalmiddleware.Audit(logr, "timetable.slot.update"), timetableHandler.UpdateSlot)
	timetable.DELETE("/slot", adminOnly, internalmiddleware.Audit(logr, "timetable.slot.delete"), timetableHandler.DeleteSlot)
	timetable.GET("/weekly/:section", anyRole, timetableHandler.Weekly)
	timetable.GET("/weekly/:section/export", anyRole, timetableHandler.ExportWeekly)
	timetable.GET("/day/:section/:day", anyRole, timetableHandler.Daily)
	timetable.GET("/next-class/:section/:subject", studentOnly, timetableHandler.NextClass)
	timetable.GET("/faculty", adminOnly, timetableHandler.FacultyRoster)
	timetable.GET("/faculty/load", adminOnly, timetableHandler.FacultyLoad)
	timetable.GET("/faculty/:name", adminOnly, timetableHandler.FacultyRoster)
	timetable.GET("/faculty/:name/export", adminOnly, timetableHandler.ExportFacultyRoster)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*backends, error) {
	switch cfg.Store.Driver {
	case config.StoreDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		table := cfg.DynamoDB.TimetableTable
		return &backends{
			timetable: repository.NewTimetableDynamoRepository(client, table),
			users:     repository.NewUserDynamoRepository(client, cfg.DynamoDB.UsersTable),
			checks: []handler.ReadinessCheck{{
				Name: "dynamodb",
				Probe: func(ctx context.Context) error {
					_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
					return err
				},
			}},
			closeFn: func() {},
		}, nil

	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(db.DB, logr); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &backends{
			timetable: repository.NewTimetableRepository(db),
			users:     repository.NewUserRepository(db),
			checks: []handler.ReadinessCheck{{
				Name:  "postgres",
				Probe: db.PingContext,
			}},
			closeFn: func() { _ = db.Close() },
		}, nil

	case config.StoreMemory:
		logr.Warn("using in-memory store; data is lost on restart")
		return &backends{
			timetable: repository.NewTimetableMemoryRepository(),
			users:     repository.NewUserMemoryRepository(),
			closeFn:   func() {},
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
