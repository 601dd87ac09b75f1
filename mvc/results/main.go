package results

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/models/dtos"
	"github.com/varfish-org/varfish-server-sub005/mvc"
)

// ResultSetRows serves one page of a committed result set in its fixed
// order; the cursor is opaque and pages are stable because committed
// sets never change
func ResultSetRows(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	resultSetId, err := uuid.Parse(c.Param("resultSetId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed 'resultSetId' path parameter! Check your input")
	}

	resultSet, err := gc.Results.GetResultSet(resultSetId)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	rows, nextCursor, err := gc.Results.ListRows(resultSetId, c.QueryParam("cursor"), gc.PageSize)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	return c.JSON(http.StatusOK, dtos.ResultPageDTO{
		ResultSetId: resultSetId,
		RowCount:    resultSet.RowCount,
		Rows:        rows,
		NextCursor:  nextCursor,
	})
}

// ResultSetPromote marks one committed set as the case-default set used
// for plain case browsing
func ResultSetPromote(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	resultSetId, err := uuid.Parse(c.Param("resultSetId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed 'resultSetId' path parameter! Check your input")
	}

	if err := gc.Results.PromoteCaseDefault(gc.CaseId, resultSetId); err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	resultSet, err := gc.Results.GetResultSet(resultSetId)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	return c.JSON(http.StatusOK, resultSet)
}
