package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/entity"
	"github.com/ledgermail/extractor/internal/job"
	"github.com/ledgermail/extractor/internal/repository"
)

var errInvalidPayload = errors.New("invalid payload")

// API holds the handler dependencies.
type API struct {
	jobs   *job.Service
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAPI(jobs *job.Service, pool *pgxpool.Pool, logger *slog.Logger) *API {
	return &API{jobs: jobs, pool: pool, logger: logger}
}

type createExtractionRequest struct {
	UserID          string `json:"user_id"`
	SourceAccountID string `json:"source_account_id"`
	StartDate       string `json:"start_date"` // YYYY-MM-DD
	EndDate         string `json:"end_date"`   // YYYY-MM-DD
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := repository.HealthCheck(r.Context(), api.pool, 2*time.Second, api.logger); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// CreateExtraction validates the request, creates the job row and triggers
// the asynchronous run. The 202 response carries the id to poll.
func (api *API) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request createExtractionRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(request.UserID))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
		return
	}
	accountID, err := uuid.Parse(strings.TrimSpace(request.SourceAccountID))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "source_account_id must be a UUID")
		return
	}
	startDate, err := parseDate(request.StartDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "start_date must be YYYY-MM-DD")
		return
	}
	endDate, err := parseDate(request.EndDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "end_date must be YYYY-MM-DD")
		return
	}

	created, err := api.jobs.CreateJob(r.Context(), userID, accountID, startDate, endDate)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if err := api.jobs.RunJob(r.Context(), created.ID); err != nil {
		api.logger.Error("http.extraction.trigger_failed", "job_id", created.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": created.ID,
		"status": created.Status,
	})
}

// ExtractionStatus serves the poll endpoint.
func (api *API) ExtractionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	raw := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/extractions/"))
	jobID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id must be a UUID")
		return
	}

	j, err := api.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(j))
}

func statusResponse(j *entity.Job) map[string]any {
	response := map[string]any{
		"job_id":     j.ID,
		"status":     j.Status,
		"start_date": j.StartDate.Format("2006-01-02"),
		"end_date":   j.EndDate.Format("2006-01-02"),
		"progress":   j.Progress,
		"created_at": j.CreatedAt,
	}
	if j.CompletedAt != nil {
		response["completed_at"] = j.CompletedAt
	}
	if j.ErrorMessage != nil && strings.TrimSpace(*j.ErrorMessage) != "" {
		response["error"] = map[string]any{
			"code":    "processing_error",
			"message": *j.ErrorMessage,
		}
	}
	return response
}

func (api *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrSourceAccountNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, common.ErrSourceAccountInactive):
		writeError(w, r, http.StatusUnprocessableEntity, "account_inactive", "source account is not active")
	case common.KindOf(err) == common.KindInvalidInput:
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		api.logger.Error("http.request_failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}
