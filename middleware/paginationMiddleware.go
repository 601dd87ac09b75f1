package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/contexts"
)

/*
	Echo middleware to calibrate the optional `pageSize` HTTP query parameter
	against the configured ceiling
*/
func CalibratePageSizeAttribute(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		gc := c.(*contexts.EngineContext)
		maxPageSize := gc.Config.Api.MaxPageSize

		// default to the configured maximum
		pageSize := maxPageSize

		pageSizeQP := c.QueryParam("pageSize")
		if len(pageSizeQP) > 0 {
			parsed, conversionErr := strconv.Atoi(pageSizeQP)
			if conversionErr != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Error converting 'pageSize' query parameter! Check your input")
			}
			if parsed <= 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "Please provide a 'pageSize' greater than 0!")
			}
			if parsed < pageSize {
				pageSize = parsed
			}
		}

		gc.PageSize = pageSize

		return next(gc)
	}
}
