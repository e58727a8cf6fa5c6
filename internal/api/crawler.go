package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/metrics"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

// ClaimSlice hands the next pending slice of a job to a crawler. 204
// means no work: the job is exhausted or another crawler won the race.
func (h *Handler) ClaimSlice(c *gin.Context) {
	var req types.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}

	claims := auth.CrawlerClaimsFrom(c)
	if claims == nil || claims.JobID != req.JobID {
		// The token binds the caller to exactly one job.
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_JOB"})
		return
	}

	if _, err := h.store.GetJob(c.Request.Context(), req.JobID); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "JOB_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	deadline := h.clock.Now().Add(h.opts.SliceLease).Unix()
	claimed, err := h.store.ClaimSlice(c.Request.Context(), req.JobID, deadline)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}
	if claimed == nil {
		c.Status(http.StatusNoContent)
		return
	}

	metrics.SlicesClaimed.Inc()
	c.JSON(http.StatusOK, types.ClaimResponse{
		JobID:      req.JobID,
		SliceIndex: claimed.SliceIndex,
		Targets:    claimed.Targets,
		DeadlineTS: deadline,
	})
}

// Ingest folds one crawler batch into durable state, then runs the
// alerting pass over the touched locations and, when the batch finished
// the whole job, kicks off the archive export.
func (h *Handler) Ingest(c *gin.Context) {
	var req types.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_INPUT", Detail: err.Error()})
		return
	}

	claims := auth.CrawlerClaimsFrom(c)
	if claims == nil || claims.JobID != req.JobID {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "BAD_JOB"})
		return
	}

	result, err := h.store.IngestBatch(c.Request.Context(), req, h.clock.Now().Unix())
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "JOB_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "INTERNAL", Detail: err.Error()})
		return
	}

	metrics.ReadingsIngested.Add(float64(result.NewReadings))
	metrics.DuplicateReadings.Add(float64(result.DuplicateReadings))
	metrics.CrawlFailures.Add(float64(result.FailuresRecorded))

	// The batch is committed; alerting failures cannot undo it.
	if h.alerts != nil && len(result.UpdatedDirs) > 0 {
		h.alerts.Process(c.Request.Context(), result.UpdatedDirs)
	}

	if result.JobFinished && h.archiver != nil {
		job, err := h.store.GetJob(c.Request.Context(), req.JobID)
		if err == nil {
			// Detached from the request context: the export outlives the
			// HTTP response.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if err := h.archiver.ExportJob(ctx, job); err != nil {
					logrus.WithError(err).WithField("job_id", job.ID).Error("Archive export failed")
				}
			}()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"new_readings":       result.NewReadings,
		"duplicate_readings": result.DuplicateReadings,
		"failures_recorded":  result.FailuresRecorded,
		"slice_closed":       result.SliceClosed,
		"job_status":         result.JobStatus,
	})
}
