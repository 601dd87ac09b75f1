package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo"
	echoMiddleware "github.com/labstack/echo/middleware"
	"go.uber.org/zap"

	"github.com/varfish-org/varfish-server-sub005/contexts"
	gam "github.com/varfish-org/varfish-server-sub005/middleware"
	"github.com/varfish-org/varfish-server-sub005/models"
	casesMvc "github.com/varfish-org/varfish-server-sub005/mvc/cases"
	queriesMvc "github.com/varfish-org/varfish-server-sub005/mvc/queries"
	resultsMvc "github.com/varfish-org/varfish-server-sub005/mvc/results"
	esRepo "github.com/varfish-org/varfish-server-sub005/repositories/elasticsearch"
	"github.com/varfish-org/varfish-server-sub005/repositories/resultstore"
	"github.com/varfish-org/varfish-server-sub005/services/presets"
	"github.com/varfish-org/varfish-server-sub005/services/results"
	"github.com/varfish-org/varfish-server-sub005/utils"
)

func main() {
	// Gather environment variables
	var cfg models.Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	zapLogger, err := zap.NewProduction()
	if cfg.Debug {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	logger.Infow("starting variant query engine",
		"debug", cfg.Debug,
		"elasticsearchUrl", cfg.Elasticsearch.Url,
		"elasticsearchUsername", cfg.Elasticsearch.Username,
		"resultStorePath", cfg.ResultStore.Path,
		"presetPath", cfg.Api.PresetPath,
		"workerCount", cfg.Api.WorkerCount,
		"queryTimeoutSeconds", cfg.Api.QueryTimeoutSecs,
		"port", cfg.Api.Port)

	// Instantiate Server
	e := echo.New()

	// Service Connections:
	// -- Elasticsearch
	es, err := utils.CreateEsConnection(&cfg)
	if err != nil {
		logger.Fatalw("connecting to elasticsearch failed", "error", err)
	}
	// -- Result Store
	store, err := resultstore.Open(cfg.ResultStore.Path, logger)
	if err != nil {
		logger.Fatalw("opening result store failed", "error", err)
	}
	defer store.Close()

	// Preset Registry
	registry, err := presets.NewRegistryFromYamlFile(cfg.Api.PresetPath)
	if err != nil {
		logger.Fatalw("loading preset registry failed", "error", err)
	}
	logger.Infow("preset registry loaded", "version", registry.Version)

	// Repositories
	variantRepo := &esRepo.VariantRepository{Cfg: &cfg, Client: es}
	geneRepo := &esRepo.GeneRepository{Cfg: &cfg, Client: es}

	// Service Singletons
	manager, err := results.NewResultSetManager(&cfg, store, variantRepo, logger)
	if err != nil {
		logger.Fatalw("creating result set manager failed", "error", err)
	}
	defer manager.Shutdown()

	// Configure Server
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.PUT, echo.POST, echo.DELETE},
	}))

	// -- Override handlers with "custom engine" context
	//		to be able to provide variables and global singletons
	e.Use(func(h echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &contexts.EngineContext{
				Context:   c,
				Config:    &cfg,
				Es7Client: es,
				Log:       logger,
				Variants:  variantRepo,
				Genes:     geneRepo,
				Presets:   registry,
				Results:   manager,
			}
			return h(cc)
		}
	})

	// Begin MVC Routes
	// -- Root
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service":        "variant query engine",
			"presetsVersion": registry.Version,
		})
	})

	// -- Queries
	e.POST("/queries", queriesMvc.QuerySubmit)
	e.GET("/queries", queriesMvc.QueryList,
		// middleware
		gam.MandateCaseIdAttribute)
	e.GET("/queries/:executionId", queriesMvc.QueryStatus)
	e.POST("/queries/:executionId/cancel", queriesMvc.QueryCancel)

	// -- Result Sets
	e.GET("/result-sets/:resultSetId/rows", resultsMvc.ResultSetRows,
		// middleware
		gam.CalibratePageSizeAttribute)
	e.POST("/result-sets/:resultSetId/promote", resultsMvc.ResultSetPromote,
		// middleware
		gam.MandateCaseIdAttribute)

	// -- Cases
	e.GET("/cases/overview", casesMvc.CaseOverview,
		// middleware
		gam.MandateCaseIdAttribute)

	// Run
	e.Logger.Fatal(e.Start(":" + cfg.Api.Port))
}
