package queries

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo"

	"github.com/varfish-org/varfish-server-sub005/contexts"
	"github.com/varfish-org/varfish-server-sub005/models/dtos"
	"github.com/varfish-org/varfish-server-sub005/models/indexes"
	q "github.com/varfish-org/varfish-server-sub005/models/queries"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/mvc"
	esRepo "github.com/varfish-org/varfish-server-sub005/repositories/elasticsearch"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
	"github.com/varfish-org/varfish-server-sub005/services/predicates"
)

// QuerySubmit accepts one filter document (structured settings or
// quick-preset names), validates it fully at the boundary, resolves the
// locus gene lists against the gene catalog and queues the execution
func QuerySubmit(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	var submission dtos.QuerySubmissionDTO
	if err := c.Bind(&submission); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed submission body! Check your input")
	}

	if submission.Pedigree == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing 'pedigree' in submission body!")
	}
	if err := submission.Pedigree.Validate(); err != nil {
		return mvc.ErrorResponse(c, fmt.Errorf("%w: %s", compiler.ErrInvalidFilterSettings, err.Error()), nil)
	}

	filterSettings := submission.Settings
	if filterSettings == nil {
		memberIds := make([]string, 0, len(submission.Pedigree.Members))
		for _, member := range submission.Pedigree.Members {
			memberIds = append(memberIds, member.Id)
		}

		expanded, err := gc.Presets.Expand(
			submission.InheritancePreset, submission.QualityPreset,
			submission.FrequencyPreset, submission.ConsequencePreset,
			submission.LocusPreset, memberIds)
		if err != nil {
			return mvc.ErrorResponse(c, err, nil)
		}
		filterSettings = expanded
	}

	if err := filterSettings.Validate(submission.Pedigree, indexes.KnownFrequencySources); err != nil {
		return mvc.ErrorResponse(c, fmt.Errorf("%w: %s", compiler.ErrInvalidFilterSettings, err.Error()), nil)
	}

	genes, unresolved, err := resolveGeneSets(gc, filterSettings)
	if err != nil {
		return mvc.ErrorResponse(c, err, unresolved)
	}

	execution := &q.QueryExecution{
		Id:       uuid.New(),
		CaseId:   submission.Pedigree.CaseId,
		Settings: filterSettings,
		Pedigree: submission.Pedigree,
		State:    q.Initial,
	}

	if err := gc.Results.Submit(execution, genes, compiler.DefaultOutputOptions(), gc.Config.Api.QueryBatchSize); err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	return c.JSON(http.StatusOK, dtos.NewExecutionDTO(execution))
}

// resolveGeneSets expands the locus symbol/panel/HPO lists to canonical
// gene ids; any identifier the catalog does not know rejects the whole
// submission with the offending identifiers listed
func resolveGeneSets(gc *contexts.EngineContext, filterSettings *settings.FilterSettings) (predicates.GeneSets, []string, error) {
	ctx := gc.Request().Context()
	locus := filterSettings.Locus

	genes := predicates.GeneSets{Allow: map[string]bool{}, Block: map[string]bool{}}
	unresolved := []string{}

	allowIds, missing, err := gc.Genes.ResolveGeneIdentifiers(ctx, locus.GeneAllowList)
	if err != nil {
		return genes, nil, err
	}
	unresolved = append(unresolved, missing...)
	for geneId := range allowIds {
		genes.Allow[geneId] = true
	}

	panelIds, missing, err := gc.Genes.ResolveGenePanels(ctx, locus.GenePanels)
	if err != nil {
		return genes, nil, err
	}
	unresolved = append(unresolved, missing...)
	for geneId := range panelIds {
		genes.Allow[geneId] = true
	}

	termIds, missing, err := gc.Genes.ResolveHpoTerms(ctx, locus.HpoTerms)
	if err != nil {
		return genes, nil, err
	}
	unresolved = append(unresolved, missing...)
	for geneId := range termIds {
		genes.Allow[geneId] = true
	}

	blockIds, missing, err := gc.Genes.ResolveGeneIdentifiers(ctx, locus.GeneBlockList)
	if err != nil {
		return genes, nil, err
	}
	unresolved = append(unresolved, missing...)
	for geneId := range blockIds {
		genes.Block[geneId] = true
	}

	if len(unresolved) > 0 {
		return genes, unresolved, esRepo.ErrUnresolvedGeneOrTerm
	}

	return genes, nil, nil
}

// QueryStatus reports one execution's state machine position
func QueryStatus(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	executionId, err := uuid.Parse(c.Param("executionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed 'executionId' path parameter! Check your input")
	}

	execution, err := gc.Results.GetExecution(executionId)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	return c.JSON(http.StatusOK, dtos.NewExecutionDTO(execution))
}

// QueryList reports every execution of one case, oldest first
func QueryList(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	executions, err := gc.Results.ListExecutions(gc.CaseId)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	executionDtos := make([]dtos.QueryExecutionDTO, 0, len(executions))
	for _, execution := range executions {
		executionDtos = append(executionDtos, dtos.NewExecutionDTO(execution))
	}

	return c.JSON(http.StatusOK, executionDtos)
}

// QueryCancel requests cancellation; running work acknowledges at the
// next batch boundary, terminal executions are left untouched
func QueryCancel(c echo.Context) error {
	gc := mvc.RetrieveCommonElements(c)

	executionId, err := uuid.Parse(c.Param("executionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed 'executionId' path parameter! Check your input")
	}

	if err := gc.Results.Cancel(executionId); err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	execution, err := gc.Results.GetExecution(executionId)
	if err != nil {
		return mvc.ErrorResponse(c, err, nil)
	}

	return c.JSON(http.StatusOK, dtos.NewExecutionDTO(execution))
}
