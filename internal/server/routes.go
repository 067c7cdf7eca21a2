// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package server

import (
	"context"
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/adviso-dev/adviso/internal/advisor"
	"github.com/adviso-dev/adviso/internal/billing"
	"github.com/adviso-dev/adviso/internal/maintenance"
	"github.com/adviso-dev/adviso/internal/store"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Services holds the domain services the REST routes delegate to.
type Services struct {
	Advisor  *advisor.Service
	Pipeline *maintenance.Pipeline
	Jobs     store.JobStore
	Provider HealthReporter
}

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	// Advice endpoint
	huma.Register(s.api, huma.Operation{
		OperationID: "request-advice",
		Method:      http.MethodPost,
		Path:        "/v1/advice",
		Summary:     "Request advice",
		Tags:        []string{"advice"},
	}, s.handleAdvice)

	huma.Register(s.api, huma.Operation{
		OperationID: "approve-turn",
		Method:      http.MethodPost,
		Path:        "/v1/turns/approve",
		Summary:     "Approve a turn, optionally with an edited answer",
		Tags:        []string{"advice"},
	}, s.handleApprove)

	// Session endpoints
	huma.Register(s.api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/v1/sessions/{id}/open",
		Summary:       "Open a session and start its cache keep-alive",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleOpenSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "close-session",
		Method:      http.MethodPost,
		Path:        "/v1/sessions/{id}/close",
		Summary:     "Close a session and stop its cache keep-alive",
		Tags:        []string{"sessions"},
	}, s.handleCloseSession)

	// Maintenance endpoints (admin-only)
	huma.Register(s.api, huma.Operation{
		OperationID:   "trigger-maintenance-job",
		Method:        http.MethodPost,
		Path:          "/v1/maintenance/jobs",
		Summary:       "Trigger a maintenance job",
		Tags:          []string{"maintenance"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleTriggerJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-maintenance-job",
		Method:      http.MethodGet,
		Path:        "/v1/maintenance/jobs/{id}",
		Summary:     "Get maintenance job progress",
		Tags:        []string{"maintenance"},
	}, s.handleGetJob)
}

// --- Request/Response types for huma ---

type adviceInput struct {
	Body struct {
		Partition string `json:"partition" minLength:"1" doc:"Knowledge partition"`
		SessionID string `json:"session_id,omitempty" doc:"Optional session for keep-alive refresh"`
		ActorID   string `json:"actor_id,omitempty" doc:"Caller identity for rate limiting"`
		Question  string `json:"question" minLength:"1" doc:"Question to advise on"`
	}
}

type usageBody struct {
	InputTokens      int `json:"input_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

type adviceOutput struct {
	Body struct {
		TurnID       string            `json:"turn_id"`
		Answer       string            `json:"answer"`
		Model        string            `json:"model"`
		Usage        usageBody         `json:"usage"`
		Cost         billing.Breakdown `json:"cost"`
		CacheHitRate float64           `json:"cache_hit_rate"`
	}
}

type approveInput struct {
	Body struct {
		TurnID       string `json:"turn_id,omitempty" doc:"Turn being approved, generated when absent"`
		Partition    string `json:"partition" minLength:"1"`
		SessionID    string `json:"session_id,omitempty"`
		Question     string `json:"question,omitempty"`
		Answer       string `json:"answer" minLength:"1" doc:"Answer as generated"`
		EditedAnswer string `json:"edited_answer,omitempty" doc:"Human-revised answer, when edited"`
	}
}

type approveOutput struct {
	Body struct {
		TurnID string `json:"turn_id"`
		Edited bool   `json:"edited"`
	}
}

type sessionInput struct {
	ID string `path:"id"`
}

type sessionOutput struct {
	Body struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
}

type triggerJobInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Type  string    `json:"type,omitempty" doc:"Job type, defaults to weekly_maintenance"`
		Start time.Time `json:"start" doc:"Period start (inclusive)"`
		End   time.Time `json:"end" doc:"Period end (exclusive)"`
	}
}

type jobBody struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Progress store.JobProgress `json:"progress"`
	Period   store.Period      `json:"period"`
	Result   map[string]any    `json:"result,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
	Created  time.Time         `json:"created_at"`
	Updated  time.Time         `json:"updated_at"`
}

type triggerJobOutput struct {
	Body jobBody
}

type getJobInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id"`
}

type getJobOutput struct {
	Body jobBody
}

// --- Handlers ---

func (s *Server) handleAdvice(ctx context.Context, input *adviceInput) (*adviceOutput, error) {
	resp, err := s.services.Advisor.Advise(ctx, advisor.AdviceRequest{
		Partition: input.Body.Partition,
		SessionID: input.Body.SessionID,
		ActorID:   input.Body.ActorID,
		Question:  input.Body.Question,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &adviceOutput{}
	out.Body.TurnID = resp.TurnID
	out.Body.Answer = resp.Answer
	out.Body.Model = resp.Model
	out.Body.Usage = usageBody{
		InputTokens:      resp.Usage.InputTokens,
		CacheWriteTokens: resp.Usage.CacheWriteTokens,
		CacheReadTokens:  resp.Usage.CacheReadTokens,
		OutputTokens:     resp.Usage.OutputTokens,
	}
	out.Body.Cost = resp.Cost
	out.Body.CacheHitRate = resp.CacheHitRate
	return out, nil
}

func (s *Server) handleApprove(ctx context.Context, input *approveInput) (*approveOutput, error) {
	turn, err := s.services.Advisor.Approve(ctx, advisor.Approval{
		TurnID:       input.Body.TurnID,
		Partition:    input.Body.Partition,
		SessionID:    input.Body.SessionID,
		Question:     input.Body.Question,
		Answer:       input.Body.Answer,
		EditedAnswer: input.Body.EditedAnswer,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &approveOutput{}
	out.Body.TurnID = turn.ID
	out.Body.Edited = turn.Edited()
	return out, nil
}

func (s *Server) handleOpenSession(_ context.Context, input *sessionInput) (*sessionOutput, error) {
	if err := s.services.Advisor.OpenSession(input.ID); err != nil {
		return nil, mapError(err)
	}
	out := &sessionOutput{}
	out.Body.SessionID = input.ID
	out.Body.Status = "open"
	return out, nil
}

func (s *Server) handleCloseSession(_ context.Context, input *sessionInput) (*sessionOutput, error) {
	s.services.Advisor.CloseSession(input.ID)
	out := &sessionOutput{}
	out.Body.SessionID = input.ID
	out.Body.Status = "closed"
	return out, nil
}

func (s *Server) handleTriggerJob(ctx context.Context, input *triggerJobInput) (*triggerJobOutput, error) {
	if err := s.authorizeAdmin(input.Authorization); err != nil {
		return nil, err
	}

	jobType := input.Body.Type
	if jobType == "" {
		jobType = maintenance.JobTypeWeekly
	}

	job, err := s.services.Pipeline.Trigger(ctx, jobType, store.Period{
		Start: input.Body.Start,
		End:   input.Body.End,
	})
	if err != nil {
		return nil, mapError(err)
	}

	// The job runs to completion in the background; callers poll the job
	// endpoint for progress. The request context ends with the response, so
	// the run gets its own.
	go func() {
		if err := s.services.Pipeline.Run(context.Background(), job.ID); err != nil {
			s.logger.Error("maintenance job failed", "job_id", job.ID, "error", err)
		}
	}()

	return &triggerJobOutput{Body: jobView(job)}, nil
}

func (s *Server) handleGetJob(ctx context.Context, input *getJobInput) (*getJobOutput, error) {
	if err := s.authorizeAdmin(input.Authorization); err != nil {
		return nil, err
	}

	job, err := s.services.Jobs.GetJob(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &getJobOutput{Body: jobView(job)}, nil
}

func (s *Server) authorizeAdmin(authorization string) error {
	if s.cfg.AdminToken == "" {
		return huma.Error403Forbidden("maintenance endpoints are disabled")
	}

	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		return huma.Error401Unauthorized("missing or invalid admin token")
	}
	return nil
}

func jobView(job *store.BatchJob) jobBody {
	return jobBody{
		ID:       job.ID,
		Type:     job.Type,
		Status:   string(job.Status),
		Progress: job.Progress,
		Period:   job.TargetPeriod,
		Result:   job.Result,
		Errors:   job.Errors,
		Created:  job.CreatedAt,
		Updated:  job.UpdatedAt,
	}
}

// mapError translates a domain error into a huma status error. Rate-limit
// rejections carry a Retry-After header when the error knows the window reset.
func mapError(err error) error {
	status := adverr.HTTPStatus(err)
	statusErr := huma.NewError(status, err.Error())

	if status == http.StatusTooManyRequests {
		if retryAfter := adverr.RetryAfterOf(err); retryAfter > 0 {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			return huma.ErrorWithHeaders(statusErr, http.Header{
				"Retry-After": []string{strconv.Itoa(seconds)},
			})
		}
	}
	return statusErr
}
