package contexts

import (
	es7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/labstack/echo"
	"go.uber.org/zap"

	"github.com/varfish-org/varfish-server-sub005/models"
	esRepo "github.com/varfish-org/varfish-server-sub005/repositories/elasticsearch"
	"github.com/varfish-org/varfish-server-sub005/services/presets"
	"github.com/varfish-org/varfish-server-sub005/services/results"
)

type (
	// "Helper" Context to pass into routes that need
	//  the engine collaborators and other variables
	EngineContext struct {
		echo.Context
		Config    *models.Config
		Es7Client *es7.Client
		// named Log so the embedded Context keeps its Logger() method
		Log *zap.SugaredLogger

		Variants *esRepo.VariantRepository
		Genes    *esRepo.GeneRepository
		Presets  *presets.Registry
		Results  *results.ResultSetManager

		// attributes populated by validation middleware
		CaseId   string
		PageSize int
	}
)
