package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exyconn/platform/internal/jobrunner"
	"github.com/exyconn/platform/internal/store"
)

func createJob(t *testing.T, env *testEnv) JobResponse {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", CreateJobRequest{
		Name:           "nightly-report",
		CronExpression: "0 2 * * *",
		WebhookURL:     "https://example.com/hooks/report",
		Method:         "POST",
		Body:           `{"report":"nightly"}`,
		MaxRetries:     3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[JobResponse](t, rec)
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	job := createJob(t, env)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, store.JobStatusActive, job.Status)
	assert.Equal(t, "POST", job.Method)
	assert.Equal(t, 30000, job.TimeoutMS, "timeout defaults to 30s")
	assert.NotNil(t, job.NextExecutionAt, "next run projected from the schedule")
}

func TestCreateJobUnsatisfiableCron(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	// Syntactically valid but no minute 99 exists: the job is created, the
	// projected next run stays null.
	rec := env.do(t, http.MethodPost, "/api/v1/jobs", CreateJobRequest{
		Name:           "bad-schedule",
		CronExpression: "99 * * * *",
		WebhookURL:     "https://example.com/hooks/report",
		MaxRetries:     3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	job := decodeBody[JobResponse](t, rec)
	assert.Nil(t, job.NextExecutionAt)
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	tests := []struct {
		name string
		req  CreateJobRequest
	}{
		{"missing name", CreateJobRequest{
			CronExpression: "* * * * *", WebhookURL: "https://example.com",
		}},
		{"bad cron field count", CreateJobRequest{
			Name: "x", CronExpression: "* * *", WebhookURL: "https://example.com",
		}},
		{"bad cron characters", CreateJobRequest{
			Name: "x", CronExpression: "a b c d e", WebhookURL: "https://example.com",
		}},
		{"bad url scheme", CreateJobRequest{
			Name: "x", CronExpression: "* * * * *", WebhookURL: "ftp://example.com",
		}},
		{"bad method", CreateJobRequest{
			Name: "x", CronExpression: "* * * * *", WebhookURL: "https://example.com",
			Method: "BREW",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/jobs", tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "ERR_INVALID_INPUT", decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestExecuteJobSuccess(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200, body: "ok"})
	job := createJob(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[jobrunner.Result](t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, store.ExecutionSuccess, result.Execution.Status)
	require.NotNil(t, result.Execution.ResponseStatus)
	assert.Equal(t, 200, *result.Execution.ResponseStatus)

	// Counters moved.
	after := decodeBody[JobResponse](t, env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil))
	assert.Equal(t, 1, after.ExecutionCount)
	assert.Equal(t, 1, after.SuccessCount)
}

func TestExecuteJobWebhookFailureIsStill200(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 500})
	job := createJob(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[jobrunner.Result](t, rec)
	assert.False(t, result.Success)
	assert.Contains(t, result.Execution.Error, "HTTP 500")
}

func TestExecuteJobTransportFailure(t *testing.T) {
	env := newTestEnv(t, stubSender{err: errors.New("dial tcp: connection refused")})
	job := createJob(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[jobrunner.Result](t, rec)
	assert.False(t, result.Success)
	assert.Contains(t, result.Execution.Error, "connection refused")
	assert.Nil(t, result.Execution.ResponseStatus)
}

func TestExecuteJobNotFound(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/nope/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepeatedFailuresMarkJobFailed(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 500})
	job := createJob(t, env) // MaxRetries: 3

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	after := decodeBody[JobResponse](t, env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil))
	assert.Equal(t, store.JobStatusFailed, after.Status)
	assert.Equal(t, 3, after.RetryCount)
	assert.Equal(t, 3, after.FailureCount)
}

func TestToggleJob(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})
	job := createJob(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.JobStatusPaused, decodeBody[JobResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.JobStatusActive, decodeBody[JobResponse](t, rec).Status)
}

func TestToggleReactivatesFailedJobAndResetsRetries(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 500})
	job := createJob(t, env)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK,
			env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil).Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	after := decodeBody[JobResponse](t, rec)
	assert.Equal(t, store.JobStatusActive, after.Status)
	assert.Equal(t, 0, after.RetryCount)
}

func TestJobHistory(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 500})
	job := createJob(t, env)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK,
			env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/execute", nil).Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[struct {
		Data       []HistoryResponse `json:"data"`
		Pagination Pagination        `json:"pagination"`
	}](t, rec)

	require.Len(t, resp.Data, 2)
	assert.EqualValues(t, 2, resp.Pagination.TotalItems)
	for _, rec := range resp.Data {
		assert.Equal(t, store.ExecutionFailure, rec.Status)
		require.NotNil(t, rec.ResponseStatus)
		assert.Equal(t, 500, *rec.ResponseStatus)
	}
}

func TestJobHistoryUnknownJobIs404(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/ghost/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateJobPartial(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})
	job := createJob(t, env)

	newCron := "*/5 * * * *"
	rec := env.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, UpdateJobRequest{
		CronExpression: &newCron,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	after := decodeBody[JobResponse](t, rec)
	assert.Equal(t, newCron, after.CronExpression)
	assert.Equal(t, job.Name, after.Name, "omitted fields keep their values")
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t, stubSender{status: 200})
	job := createJob(t, env)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil).Code)
}
