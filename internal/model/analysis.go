package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// CriterionType names one of the five independently scored criteria of an
// initial evaluation.
type CriterionType string

const (
	CriterionClarity   CriterionType = "clarity"
	CriterionAudience  CriterionType = "audience"
	CriterionStructure CriterionType = "structure"
	CriterionDepth     CriterionType = "depth"
	CriterionQuestions CriterionType = "questions"
)

// Criteria lists the criterion types in storage order.
var Criteria = []CriterionType{
	CriterionClarity,
	CriterionAudience,
	CriterionStructure,
	CriterionDepth,
	CriterionQuestions,
}

// AnalysisResult is the root of the analysis graph for one RemoteFile.
// List-valued fields hold JSON arrays (or objects) verbatim.
type AnalysisResult struct {
	ID        int64
	FileID    int64 // RemoteFile.ID
	CreatedAt time.Time

	Initial  CriteriaEvaluation
	Critical CriticalEvaluation
	Details  AnalysisDetails
}

type CriteriaEvaluation struct {
	ID                     int64
	FinalScore             float64
	GeneralRecommendations json.RawMessage
	RecommendedAudiences   json.RawMessage
	SuggestedQuestions     json.RawMessage
	Criteria               []EvaluationCriterion // one per CriterionType, in Criteria order
}

type EvaluationCriterion struct {
	ID              int64
	Type            CriterionType
	Score           float64
	Positives       json.RawMessage
	Improvements    json.RawMessage
	Recommendations json.RawMessage
}

type CriticalEvaluation struct {
	ID                                 int64
	TeamID                             sql.NullString
	SpecificityOfImprovements          bool
	IdentifiedImprovementOpportunities bool
	ReflectiveQualityScores            bool
	Notes                              string
}

// AnalysisDetails is the mentor report: the validated/pending/gap/action lists
// plus the nested MentorReportDetails record.
type AnalysisDetails struct {
	ID                int64
	ValidatedInsights json.RawMessage
	PendingHypotheses json.RawMessage
	IdentifiedGaps    json.RawMessage
	ActionItems       json.RawMessage
	Mentor            MentorReportDetails
}

type MentorReportDetails struct {
	ID                   int64
	ExecutiveSummary     string
	KeyFindings          json.RawMessage
	DiscussionPoints     json.RawMessage
	RecommendedQuestions json.RawMessage
	NextSteps            json.RawMessage
	Alerts               json.RawMessage
}
