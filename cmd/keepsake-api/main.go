package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/internal/chibi"
	"github.com/MarcoPoloResearchLab/keepsake/internal/config"
	"github.com/MarcoPoloResearchLab/keepsake/internal/database"
	"github.com/MarcoPoloResearchLab/keepsake/internal/identity"
	"github.com/MarcoPoloResearchLab/keepsake/internal/imagestore"
	"github.com/MarcoPoloResearchLab/keepsake/internal/logging"
	"github.com/MarcoPoloResearchLab/keepsake/internal/polaroids"
	"github.com/MarcoPoloResearchLab/keepsake/internal/records"
	"github.com/MarcoPoloResearchLab/keepsake/internal/s3client"
	"github.com/MarcoPoloResearchLab/keepsake/internal/server"
	"github.com/MarcoPoloResearchLab/keepsake/internal/watermelons"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "keepsake-api",
		Short: "Keepsake photo journal backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Storage backend (sqlite, fs, s3)")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory for local records and images")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("ai-workers", defaults.GetInt("ai.workers"), "Background sticker enrichment workers")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "data.dir", "data-dir")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "ai.workers", "ai-workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// storage bundles the per-collection record stores and the image store for the
// selected backend. close releases whatever the backend holds open.
type storage struct {
	watermelonRecords records.Store
	polaroidRecords   records.Store
	images            imagestore.Store
	imagesDir         string
	close             func()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := newStorage(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer store.close()

	var generator chibi.Generator
	if appConfig.GoogleAPIKey != "" {
		googleGenerator, err := chibi.NewGoogleGenerator(chibi.GoogleGeneratorConfig{
			APIKey: appConfig.GoogleAPIKey,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		generator = googleGenerator
	} else {
		logger.Info("sticker generation disabled, no google api key")
	}

	watermelonService, err := watermelons.NewService(watermelons.ServiceConfig{
		Records:    store.watermelonRecords,
		Images:     store.images,
		IDProvider: identity.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	polaroidService, err := polaroids.NewService(polaroids.ServiceConfig{
		Records:    store.polaroidRecords,
		Images:     store.images,
		Generator:  generator,
		Events:     dispatcher,
		IDProvider: identity.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	polaroidService.StartEnrichment(appConfig.AIWorkers)
	defer polaroidService.StopEnrichment()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Watermelons:    watermelonService,
		Polaroids:      polaroidService,
		Realtime:       dispatcher,
		Logger:         logger,
		ImagesDir:      store.imagesDir,
		StorageBackend: appConfig.StorageBackend,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_backend", appConfig.StorageBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage, error) {
	switch appConfig.StorageBackend {
	case config.BackendSQLite:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return storage{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return storage{}, err
		}
		watermelonRecords, err := records.NewDatabaseStore(records.DatabaseStoreConfig{
			Database:   db,
			Collection: records.CollectionWatermelons,
			Logger:     logger,
		})
		if err != nil {
			return storage{}, err
		}
		polaroidRecords, err := records.NewDatabaseStore(records.DatabaseStoreConfig{
			Database:   db,
			Collection: records.CollectionPolaroids,
			Logger:     logger,
		})
		if err != nil {
			return storage{}, err
		}
		imagesDir := filepath.Join(appConfig.DataDir, "images")
		images, err := imagestore.NewFilesystemStore(imagestore.FilesystemStoreConfig{
			Root:   imagesDir,
			Logger: logger,
		})
		if err != nil {
			return storage{}, err
		}
		return storage{
			watermelonRecords: watermelonRecords,
			polaroidRecords:   polaroidRecords,
			images:            images,
			imagesDir:         imagesDir,
			close:             func() { _ = sqlDB.Close() },
		}, nil

	case config.BackendFilesystem:
		watermelonRecords, err := records.NewFilesystemStore(records.FilesystemStoreConfig{
			Directory: filepath.Join(appConfig.DataDir, "records", records.CollectionWatermelons),
			Logger:    logger,
		})
		if err != nil {
			return storage{}, err
		}
		polaroidRecords, err := records.NewFilesystemStore(records.FilesystemStoreConfig{
			Directory: filepath.Join(appConfig.DataDir, "records", records.CollectionPolaroids),
			Logger:    logger,
		})
		if err != nil {
			return storage{}, err
		}
		imagesDir := filepath.Join(appConfig.DataDir, "images")
		images, err := imagestore.NewFilesystemStore(imagestore.FilesystemStoreConfig{
			Root:   imagesDir,
			Logger: logger,
		})
		if err != nil {
			return storage{}, err
		}
		return storage{
			watermelonRecords: watermelonRecords,
			polaroidRecords:   polaroidRecords,
			images:            images,
			imagesDir:         imagesDir,
			close:             func() {},
		}, nil

	case config.BackendS3:
		if !appConfig.HasAWSCredentials() {
			logger.Warn("s3 storage selected without complete aws credentials, storage endpoints are degraded")
			return storage{
				watermelonRecords: records.NewDisabledStore(),
				polaroidRecords:   records.NewDisabledStore(),
				images:            imagestore.NewDisabledStore(),
				close:             func() {},
			}, nil
		}
		client, err := s3client.New(ctx, s3client.Config{
			Region:          appConfig.AWSRegion,
			AccessKeyID:     appConfig.AWSAccessKeyID,
			SecretAccessKey: appConfig.AWSSecretAccessKey,
		})
		if err != nil {
			return storage{}, err
		}
		watermelonRecords, err := records.NewObjectStore(records.ObjectStoreConfig{
			Client: client,
			Bucket: appConfig.AWSBucket,
			Prefix: "data/" + records.CollectionWatermelons,
			Logger: logger,
		})
		if err != nil {
			return storage{}, err
		}
		polaroidRecords, err := records.NewObjectStore(records.ObjectStoreConfig{
			Client: client,
			Bucket: appConfig.AWSBucket,
			Prefix: "data/" + records.CollectionPolaroids,
			Logger: logger,
		})
		if err != nil {
			return storage{}, err
		}
		images, err := imagestore.NewObjectStore(imagestore.ObjectStoreConfig{
			Client: client,
			Bucket: appConfig.AWSBucket,
			Region: appConfig.AWSRegion,
			Logger: logger,
		})
		if err != nil {
			return storage{}, err
		}
		return storage{
			watermelonRecords: watermelonRecords,
			polaroidRecords:   polaroidRecords,
			images:            images,
			close:             func() {},
		}, nil

	default:
		return storage{}, errors.New("unsupported storage backend " + appConfig.StorageBackend)
	}
}
