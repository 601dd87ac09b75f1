package cases

import (
	"net/http"
	"sync"

	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/mvc"
)

// CaseOverview aggregates the case's variant documents by chromosome
// and variant type for the case landing page
func CaseOverview(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)
	ctx := gc.Request().Context()

	resultsMap := map[string]interface{}{}
	resultsMux := sync.RWMutex{}

	var wg sync.WaitGroup
	callGetBucketsAndAddResponseToMap := func(keyword string, key string) {
		defer wg.Done()

		buckets, err := gc.Variants.GetVariantBucketsByKeyword(ctx, gc.CaseId, keyword)
		if err != nil {
			gc.Log.Errorw("case overview aggregation failed",
				"caseId", gc.CaseId, "keyword", keyword, "error", err)
			return
		}

		resultsMux.Lock()
		defer resultsMux.Unlock()
		resultsMap[key] = buckets
	}

	wg.Add(2)
	go callGetBucketsAndAddResponseToMap("chrom.keyword", "chromosomes")
	go callGetBucketsAndAddResponseToMap("variantType.keyword", "variantTypes")
	wg.Wait()

	return c.JSON(http.StatusOK, resultsMap)
}
