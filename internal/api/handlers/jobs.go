// jobs.go — приём результатов заданий синхронизации от исполнителя.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/syncengine/internal/api/errors"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

// maxOutcomeBody — ограничение размера тела результата задания.
const maxOutcomeBody = 64 << 10

// ReportJobOutcome — POST /api/v1/jobs/{jobId}/outcome.
// jobId — ключ идемпотентности задания. Повторная доставка отвечает 200
// с duplicate = true и не меняет состояние.
func (h *APIHandler) ReportJobOutcome(w http.ResponseWriter, r *http.Request, jobID string) {
	var outcome model.JobOutcome
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOutcomeBody)).Decode(&outcome); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if outcome.JobID != "" && outcome.JobID != jobID {
		apierrors.ValidationError(w, "idempotencyKey в теле не совпадает с jobId в пути")
		return
	}
	outcome.JobID = jobID

	res, err := h.scheduler.RecordOutcome(r.Context(), outcome, h.now())
	if err != nil {
		h.serviceError(w, err, "Ошибка применения результата задания", slog.String("job_id", jobID))
		return
	}

	resp := JobOutcomeResponse{JobID: jobID, Duplicate: res.Duplicate}
	if res.Schedule != nil {
		next := res.Schedule.NextSyncAt
		freq := int64(res.Schedule.CurrentFrequency / time.Second)
		resp.NextSyncAt = &next
		resp.CurrentFrequencySeconds = &freq
	}
	writeJSON(w, http.StatusOK, resp)
}
