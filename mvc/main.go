package mvc

import (
	"errors"
	"net/http"

	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/contexts"
	"github.com/varfish-org/varfish-server-sub005/models/dtos"
	esRepo "github.com/varfish-org/varfish-server-sub005/repositories/elasticsearch"
	"github.com/varfish-org/varfish-server-sub005/repositories/resultstore"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/presets"
	"github.com/varfish-org/varfish-server-sub005/services/results"
)

func RetrieveCommonElements(c echo.Context) *contexts.EngineContext {
	return c.(*contexts.EngineContext)
}

// ErrorResponse maps the engine's sentinel errors onto HTTP statuses
func ErrorResponse(c echo.Context, err error, identifiers []string) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, presets.ErrPresetNotFound),
		errors.Is(err, compiler.ErrInvalidFilterSettings),
		errors.Is(err, esRepo.ErrUnresolvedGeneOrTerm):
		status = http.StatusBadRequest
	case errors.Is(err, results.ErrConcurrentExecutionConflict):
		status = http.StatusConflict
	case errors.Is(err, resultstore.ErrExecutionNotFound),
		errors.Is(err, resultstore.ErrResultSetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, esRepo.ErrStorageRead):
		status = http.StatusBadGateway
	}

	return c.JSON(status, dtos.ErrorResponseDTO{
		Status:      status,
		Message:     err.Error(),
		Identifiers: identifiers,
	})
}
