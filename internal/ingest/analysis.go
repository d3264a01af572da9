package ingest

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"driveingest/internal/model"
)

//go:embed schema/analysis.schema.json
var analysisSchemaJSON []byte

const analysisSchemaURL = "analysis.schema.json"

var compileAnalysisSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(analysisSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing analysis schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(analysisSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding analysis schema: %w", err)
	}
	return c.Compile(analysisSchemaURL)
})

// AnalysisIngester persists analysis payloads as the normalized result graph.
type AnalysisIngester struct {
	db     Database
	logger Logger
	clock  Clock
}

func NewAnalysisIngester(db Database, logger Logger, clock Clock) *AnalysisIngester {
	return &AnalysisIngester{
		db:     db,
		logger: logger,
		clock:  clock,
	}
}

// analysisMessage accepts both snake_case and camelCase producers.
type analysisMessage struct {
	FileID     string          `json:"file_id"`
	FileIDAlt  string          `json:"fileId"`
	Results    json.RawMessage `json:"analysis_results"`
	ResultsAlt json.RawMessage `json:"analysisResults"`
}

// HandleMessage decodes one message from the analysis topic and ingests it.
func (a *AnalysisIngester) HandleMessage(ctx context.Context, value []byte) error {
	var msg analysisMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("decoding analysis message: %w: %v", ErrMalformedEvent, err)
	}
	fileID := msg.FileID
	if fileID == "" {
		fileID = msg.FileIDAlt
	}
	results := msg.Results
	if isEmptyJSON(results) {
		results = msg.ResultsAlt
	}
	return a.Ingest(ctx, fileID, results)
}

// Ingest stores the analysis for the file with external id remoteFileID.
// A missing id or empty body fails with ErrMalformedEvent and a file that is
// not mirrored locally fails with ErrNotFound; neither writes anything.
// A file that already has a stored result is left untouched.
func (a *AnalysisIngester) Ingest(ctx context.Context, remoteFileID string, body json.RawMessage) error {
	remoteFileID = strings.TrimSpace(remoteFileID)
	if remoteFileID == "" {
		return fmt.Errorf("analysis message has no file id: %w", ErrMalformedEvent)
	}
	if isEmptyJSON(body) {
		return fmt.Errorf("analysis message for %s has no results: %w", remoteFileID, ErrMalformedEvent)
	}

	result, err := decodeAnalysis(body)
	if err != nil {
		return fmt.Errorf("analysis for %s: %w", remoteFileID, err)
	}

	file, err := a.db.FindFileByRemoteID(ctx, remoteFileID)
	if err != nil {
		return fmt.Errorf("finding file %s: %w", remoteFileID, err)
	}
	if file == nil {
		a.logger.Warn("analysis for unknown file dropped", "file", remoteFileID)
		return fmt.Errorf("file %s: %w", remoteFileID, ErrNotFound)
	}

	result.FileID = file.ID
	result.CreatedAt = a.clock.Now()
	created, err := a.db.SaveAnalysis(ctx, result)
	if err != nil {
		return fmt.Errorf("saving analysis for %s: %w: %w", remoteFileID, ErrPersistenceConflict, err)
	}
	if !created {
		a.logger.Info("analysis already stored, skipping", "file", remoteFileID)
		return nil
	}

	a.logger.Info("analysis stored", "file", remoteFileID, "result", result.ID)
	return nil
}

// Analysis returns the stored analysis for a file by external id.
func (a *AnalysisIngester) Analysis(ctx context.Context, remoteFileID string) (*model.AnalysisResult, error) {
	file, err := a.db.FindFileByRemoteID(ctx, remoteFileID)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", remoteFileID, ErrNotFound)
	}
	result, err := a.db.FindAnalysisByFileID(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("finding analysis: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("analysis for %s: %w", remoteFileID, ErrNotFound)
	}
	return result, nil
}

type criterionPayload struct {
	Score           float64         `json:"score_interview"`
	Positives       json.RawMessage `json:"positives"`
	Improvements    json.RawMessage `json:"improvements"`
	Recommendations json.RawMessage `json:"recommendations"`
}

type analysisPayload struct {
	Initial struct {
		FinalScore             float64          `json:"final_score"`
		GeneralRecommendations json.RawMessage  `json:"general_recommendations"`
		RecommendedAudiences   json.RawMessage  `json:"recommended_audiences"`
		SuggestedQuestions     json.RawMessage  `json:"suggested_questions"`
		Clarity                criterionPayload `json:"clarity"`
		Audience               criterionPayload `json:"audience"`
		Structure              criterionPayload `json:"structure"`
		Depth                  criterionPayload `json:"depth"`
		Questions              criterionPayload `json:"questions"`
	} `json:"initial_evaluation"`

	Critical struct {
		TeamID                             json.RawMessage `json:"team_id"`
		SpecificityOfImprovements          bool            `json:"specificity_of_improvements"`
		IdentifiedImprovementOpportunities bool            `json:"identified_improvement_opportunities"`
		ReflectiveQualityScores            bool            `json:"reflective_quality_scores"`
		Notes                              *string         `json:"notes"`
	} `json:"critical_evaluation"`

	Mentor struct {
		ValidatedInsights json.RawMessage `json:"validated_insights"`
		PendingHypotheses json.RawMessage `json:"pending_hypotheses"`
		IdentifiedGaps    json.RawMessage `json:"identified_gaps"`
		ActionItems       json.RawMessage `json:"action_items"`
		Details           struct {
			ExecutiveSummary     *string         `json:"executive_summary"`
			KeyFindings          json.RawMessage `json:"key_findings"`
			DiscussionPoints     json.RawMessage `json:"discussion_points"`
			RecommendedQuestions json.RawMessage `json:"recommended_questions"`
			NextSteps            json.RawMessage `json:"next_steps"`
			Alerts               json.RawMessage `json:"alerts"`
		} `json:"mentor_details"`
	} `json:"mentor_report"`
}

// decodeAnalysis validates body against the analysis schema and maps it onto
// the result graph. Missing sections and fields take empty defaults.
func decodeAnalysis(body json.RawMessage) (*model.AnalysisResult, error) {
	schema, err := compileAnalysisSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var p analysisPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	byType := map[model.CriterionType]criterionPayload{
		model.CriterionClarity:   p.Initial.Clarity,
		model.CriterionAudience:  p.Initial.Audience,
		model.CriterionStructure: p.Initial.Structure,
		model.CriterionDepth:     p.Initial.Depth,
		model.CriterionQuestions: p.Initial.Questions,
	}

	r := &model.AnalysisResult{
		Initial: model.CriteriaEvaluation{
			FinalScore:             p.Initial.FinalScore,
			GeneralRecommendations: jsonOr(p.Initial.GeneralRecommendations, "[]"),
			RecommendedAudiences:   jsonOr(p.Initial.RecommendedAudiences, "[]"),
			SuggestedQuestions:     jsonOr(p.Initial.SuggestedQuestions, "{}"),
		},
		Critical: model.CriticalEvaluation{
			TeamID:                             teamIDFromJSON(p.Critical.TeamID),
			SpecificityOfImprovements:          p.Critical.SpecificityOfImprovements,
			IdentifiedImprovementOpportunities: p.Critical.IdentifiedImprovementOpportunities,
			ReflectiveQualityScores:            p.Critical.ReflectiveQualityScores,
			Notes:                              derefString(p.Critical.Notes),
		},
		Details: model.AnalysisDetails{
			ValidatedInsights: jsonOr(p.Mentor.ValidatedInsights, "[]"),
			PendingHypotheses: jsonOr(p.Mentor.PendingHypotheses, "[]"),
			IdentifiedGaps:    jsonOr(p.Mentor.IdentifiedGaps, "[]"),
			ActionItems:       jsonOr(p.Mentor.ActionItems, "[]"),
			Mentor: model.MentorReportDetails{
				ExecutiveSummary:     derefString(p.Mentor.Details.ExecutiveSummary),
				KeyFindings:          jsonOr(p.Mentor.Details.KeyFindings, "[]"),
				DiscussionPoints:     jsonOr(p.Mentor.Details.DiscussionPoints, "[]"),
				RecommendedQuestions: jsonOr(p.Mentor.Details.RecommendedQuestions, "[]"),
				NextSteps:            jsonOr(p.Mentor.Details.NextSteps, "[]"),
				Alerts:               jsonOr(p.Mentor.Details.Alerts, "[]"),
			},
		},
	}
	for _, ct := range model.Criteria {
		c := byType[ct]
		r.Initial.Criteria = append(r.Initial.Criteria, model.EvaluationCriterion{
			Type:            ct,
			Score:           c.Score,
			Positives:       jsonOr(c.Positives, "[]"),
			Improvements:    jsonOr(c.Improvements, "[]"),
			Recommendations: jsonOr(c.Recommendations, "[]"),
		})
	}
	return r, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == "null" || s == "{}"
}

func jsonOr(raw json.RawMessage, def string) json.RawMessage {
	if s := bytes.TrimSpace(raw); len(s) > 0 && string(s) != "null" {
		return json.RawMessage(s)
	}
	return json.RawMessage(def)
}

func teamIDFromJSON(raw json.RawMessage) sql.NullString {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return sql.NullString{String: s, Valid: s != ""}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
