package queries

import (
	"time"

	"github.com/google/uuid"

	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
)

type State string

const (
	Initial   State = "Initial"
	Queued    State = "Queued"
	Running   State = "Running"
	Done      State = "Done"
	Failed    State = "Failed"
	Cancelled State = "Cancelled"
)

// IsTerminal reports whether no further transitions may happen
func (s State) IsTerminal() bool {
	return s == Done || s == Failed || s == Cancelled
}

// QueryExecution is one invocation of the engine against one case.
// The settings and pedigree are stored verbatim alongside it so a
// completed query's provenance is reproducible.
type QueryExecution struct {
	Id       uuid.UUID                `json:"id"`
	CaseId   string                   `json:"caseId"`
	Settings *settings.FilterSettings `json:"settings"`
	Pedigree *pedigree.Pedigree       `json:"pedigree"`

	State   State  `json:"state"`
	Message string `json:"message"`

	CreatedAt      time.Time `json:"createdAt"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`

	ResultSetId uuid.UUID `json:"resultSetId"`
}

// ResultSet is the committed, immutable output of one execution;
// the case-default set (direct case browsing) carries no execution id
type ResultSet struct {
	Id            uuid.UUID `json:"id"`
	ExecutionId   uuid.UUID `json:"executionId"`
	CaseId        string    `json:"caseId"`
	IsCaseDefault bool      `json:"isCaseDefault"`
	RowCount      int       `json:"rowCount"`
	CommittedAt   time.Time `json:"committedAt"`
}

// ResultRow is one ordered row of a committed result set; Rank is the
// position in the deterministic (chromosome, position, alleles) order
type ResultRow struct {
	ResultSetId uuid.UUID `json:"resultSetId"`
	Rank        int       `json:"rank"`

	Chrom string `json:"chrom"`
	Pos   int    `json:"pos"`
	Ref   string `json:"ref"`
	Alt   string `json:"alt"`

	// denormalized annotation payload for display
	Payload string `json:"payload"`

	FlagCount    int `json:"flagCount"`
	CommentCount int `json:"commentCount"`
	AcmgCount    int `json:"acmgCount"`
}
