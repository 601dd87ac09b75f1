package dtos

import (
	"github.com/google/uuid"

	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/queries"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
)

// QuerySubmissionDTO is the body of a query submission: either a fully
// structured settings document, or quick-preset names to be expanded
type QuerySubmissionDTO struct {
	Pedigree *pedigree.Pedigree       `json:"pedigree"`
	Settings *settings.FilterSettings `json:"settings"`

	// quick-preset shortcut names (used when Settings is absent)
	InheritancePreset string `json:"inheritancePreset"`
	QualityPreset     string `json:"qualityPreset"`
	FrequencyPreset   string `json:"frequencyPreset"`
	ConsequencePreset string `json:"consequencePreset"`
	LocusPreset       string `json:"locusPreset"`
}

type QueryExecutionDTO struct {
	Id             uuid.UUID     `json:"id"`
	CaseId         string        `json:"caseId"`
	State          queries.State `json:"state"`
	Message        string        `json:"message"`
	CreatedAt      string        `json:"createdAt"`
	ElapsedSeconds float64       `json:"elapsedSeconds"`
	ResultSetId    uuid.UUID     `json:"resultSetId"`
}

type ResultPageDTO struct {
	ResultSetId uuid.UUID           `json:"resultSetId"`
	RowCount    int                 `json:"rowCount"`
	Rows        []queries.ResultRow `json:"rows"`
	NextCursor  string              `json:"nextCursor"`
}

type ErrorResponseDTO struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	// offending identifiers for unresolved gene/term validation errors
	Identifiers []string `json:"identifiers,omitempty"`
}

func NewExecutionDTO(exec *queries.QueryExecution) QueryExecutionDTO {
	createdAt := ""
	if !exec.CreatedAt.IsZero() {
		createdAt = exec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return QueryExecutionDTO{
		Id:             exec.Id,
		CaseId:         exec.CaseId,
		State:          exec.State,
		Message:        exec.Message,
		CreatedAt:      createdAt,
		ElapsedSeconds: exec.ElapsedSeconds,
		ResultSetId:    exec.ResultSetId,
	}
}
