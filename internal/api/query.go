package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatdb/chatdb/internal/auth"
	"github.com/chatdb/chatdb/internal/config"
	chaterrors "github.com/chatdb/chatdb/internal/errors"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/pipeline"
	"github.com/chatdb/chatdb/internal/store"
)

const maxQuestionBytes = 16 << 10

type questionRequest struct {
	Query string `json:"query"`
}

type questionResponse struct {
	Response     string `json:"response"`
	SQL          string `json:"sql,omitempty"`
	RowCount     *int   `json:"row_count,omitempty"`
	RowsAffected *int64 `json:"rows_affected,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

type previewResponse struct {
	Limit  int                  `json:"limit"`
	Tables []store.TablePreview `json:"tables"`
}

func handleQuestion(deps Dependencies, flow pipeline.Flow, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline is not configured", false, nil)
		return
	}
	role := auth.RoleReader
	if flow == pipeline.FlowModify {
		role = auth.RoleWriter
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request questionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(request.Query)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}

	var outcome pipeline.Outcome
	if flow == pipeline.FlowModify {
		outcome = deps.Pipeline.RunModify(r.Context(), question)
	} else {
		outcome = deps.Pipeline.RunQuery(r.Context(), question)
	}

	if outcome.Failed() {
		writeOutcomeError(r.Context(), w, outcome)
		return
	}

	response := questionResponse{
		Response: outcome.Text,
		SQL:      outcome.SQL,
		Degraded: outcome.Degraded,
	}
	if outcome.Kind == pipeline.OutcomeAck {
		affected := outcome.Affected
		response.RowsAffected = &affected
	} else {
		rows := outcome.Rows
		response.RowCount = &rows
	}
	writeJSON(w, http.StatusOK, response)
}

func handlePreview(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Previewer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PREVIEW_NOT_CONFIGURED", "preview is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := cfg.Pipeline.PreviewRows
	previews, err := deps.Previewer.Preview(r.Context(), deps.PreviewTables, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PREVIEW_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Limit: limit, Tables: previews})
}

// writeOutcomeError renders a failed outcome. The message is the
// stage-prefixed diagnostic produced by the pipeline, unchanged.
func writeOutcomeError(ctx context.Context, w http.ResponseWriter, outcome pipeline.Outcome) {
	status, code, retryable := classifyFailure(outcome)
	extra := map[string]any{}
	if outcome.SQL != "" {
		extra["sql"] = outcome.SQL
	}
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    outcome.Message,
		"stage":      outcome.Stage,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func classifyFailure(outcome pipeline.Outcome) (int, string, bool) {
	switch {
	case chaterrors.Is(outcome.Err, chaterrors.KindConfiguration):
		return http.StatusServiceUnavailable, "MODEL_NOT_CONFIGURED", false
	case chaterrors.Is(outcome.Err, chaterrors.KindRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", true
	case errors.Is(outcome.Err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "PIPELINE_TIMEOUT", true
	}

	remote := chaterrors.Is(outcome.Err, chaterrors.KindRemote)
	switch outcome.Stage {
	case pipeline.StageTranslation:
		return http.StatusBadGateway, "TRANSLATION_FAILED", remote
	case pipeline.StageExecution:
		return http.StatusInternalServerError, "EXECUTION_FAILED", false
	case pipeline.StageSummarization:
		return http.StatusBadGateway, "SUMMARIZATION_FAILED", remote
	default:
		return http.StatusInternalServerError, "PIPELINE_FAILED", false
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
