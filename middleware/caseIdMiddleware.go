package middleware

import (
	"net/http"

	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/contexts"
)

/*
	Echo middleware to ensure a non-empty `caseId` HTTP query parameter was provided
*/
func MandateCaseIdAttribute(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		gc := c.(*contexts.EngineContext)

		caseId := c.QueryParam("caseId")
		if len(caseId) == 0 {
			// if no id was provided return an error
			return echo.NewHTTPError(http.StatusBadRequest, "Missing 'caseId' query parameter!")
		}

		gc.CaseId = caseId

		return next(gc)
	}
}
