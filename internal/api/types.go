// Package api implements the REST surface of the platform backend: flag
// management and evaluation, job management and execution, the per-tenant
// event stream, and environment variable storage. It handles HTTP routing,
// request decoding, validation, and response formatting.
package api

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/exyconn/platform/internal/cronexpr"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/store"
)

// flagKeyRegex ensures flag keys are URL-safe slugs (lowercase letters,
// numbers, hyphens, underscores). Compiled once at package initialization.
var flagKeyRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

// variableKeyRegex matches conventional environment variable names.
var variableKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Allowed webhook HTTP methods.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// -----------------------------------------------------------------------------
// Error envelope
// -----------------------------------------------------------------------------

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func invalidInput(message string, details ...ErrorDetail) *ErrorResponse {
	return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: message, Details: details}
}

// -----------------------------------------------------------------------------
// Pagination
// -----------------------------------------------------------------------------

// PaginatedResponse is a standard wrapper for list endpoints to support
// offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources.
	Data interface{} `json:"data"`

	// Pagination contains the pager metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// FlagResponse is the feature flag resource as exposed over the API.
type FlagResponse struct {
	ID                int64             `json:"id"`
	Key               string            `json:"key"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Status            string            `json:"status"`
	Enabled           bool              `json:"enabled"`
	RolloutType       string            `json:"rollout_type"`
	RolloutPercentage int               `json:"rollout_percentage"`
	TargetUsers       []string          `json:"target_users"`
	Rules             []flagengine.Rule `json:"rules"`
	DefaultValue      bool              `json:"default_value"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CreateFlagRequest defines the payload for creating a new flag.
type CreateFlagRequest struct {
	// Key is required and immutable. Matches '^[a-z0-9_-]+$'.
	Key string `json:"key"`

	// Name is required.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Enabled defaults to false if omitted (secure by default).
	Enabled bool `json:"enabled"`

	// RolloutType defaults to "boolean" if omitted.
	RolloutType string `json:"rollout_type,omitempty"`

	RolloutPercentage int               `json:"rollout_percentage,omitempty"`
	TargetUsers       []string          `json:"target_users,omitempty"`
	Rules             []flagengine.Rule `json:"rules,omitempty"`
	DefaultValue      bool              `json:"default_value"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateFlagRequest) Sanitize() {
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if r.RolloutType == "" {
		r.RolloutType = flagengine.RolloutBoolean
	}
	for i := range r.TargetUsers {
		r.TargetUsers[i] = strings.TrimSpace(r.TargetUsers[i])
	}
}

// Validate checks the request against business rules. It returns a structured
// *ErrorResponse if validation fails, or nil if valid.
func (r *CreateFlagRequest) Validate() *ErrorResponse {
	if err := validateFlagKey(r.Key); err != nil {
		return err
	}
	if err := validateFlagName(r.Name); err != nil {
		return err
	}
	return validateRollout(r.RolloutType, r.RolloutPercentage, r.Rules)
}

// UpdateFlagRequest defines the payload for partial updates (PATCH).
// Pointers distinguish "missing field" (keep current) from an explicit
// zero-value update.
type UpdateFlagRequest struct {
	Name              *string            `json:"name,omitempty"`
	Description       *string            `json:"description,omitempty"`
	Status            *string            `json:"status,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty"`
	RolloutType       *string            `json:"rollout_type,omitempty"`
	RolloutPercentage *int               `json:"rollout_percentage,omitempty"`
	TargetUsers       *[]string          `json:"target_users,omitempty"`
	Rules             *[]flagengine.Rule `json:"rules,omitempty"`
	DefaultValue      *bool              `json:"default_value,omitempty"`
}

// Validate checks the provided fields against business rules.
func (r *UpdateFlagRequest) Validate() *ErrorResponse {
	if r.Name != nil {
		if err := validateFlagName(strings.TrimSpace(*r.Name)); err != nil {
			return err
		}
	}

	if r.Status != nil {
		switch *r.Status {
		case flagengine.StatusActive, flagengine.StatusInactive, flagengine.StatusArchived:
		default:
			return invalidInput("Status must be one of: active, inactive, archived",
				ErrorDetail{Field: "status", Issue: "unknown status"})
		}
	}

	if r.RolloutType != nil {
		pct := 0
		if r.RolloutPercentage != nil {
			pct = *r.RolloutPercentage
		}
		var rules []flagengine.Rule
		if r.Rules != nil {
			rules = *r.Rules
		}
		if err := validateRollout(*r.RolloutType, pct, rules); err != nil {
			return err
		}
	} else if r.RolloutPercentage != nil {
		if err := validatePercentage(*r.RolloutPercentage); err != nil {
			return err
		}
	}

	if r.RolloutType == nil && r.Rules != nil {
		if err := validateRules(*r.Rules); err != nil {
			return err
		}
	}

	return nil
}

// Apply copies the provided fields onto the store entity.
func (r *UpdateFlagRequest) Apply(f *store.Flag) {
	if r.Name != nil {
		f.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		f.Description = strings.TrimSpace(*r.Description)
	}
	if r.Status != nil {
		f.Status = *r.Status
	}
	if r.Enabled != nil {
		f.Enabled = *r.Enabled
	}
	if r.RolloutType != nil {
		f.RolloutType = *r.RolloutType
	}
	if r.RolloutPercentage != nil {
		f.RolloutPercentage = *r.RolloutPercentage
	}
	if r.TargetUsers != nil {
		f.TargetUsers = *r.TargetUsers
	}
	if r.Rules != nil {
		f.Rules = *r.Rules
	}
	if r.DefaultValue != nil {
		f.DefaultValue = *r.DefaultValue
	}
}

// EvaluateRequest is the payload of the evaluation endpoint. Attributes is
// typed map[string]string so non-string values are rejected during decoding.
type EvaluateRequest struct {
	Key        string            `json:"key"`
	UserID     string            `json:"user_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks the evaluation request.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	return validateFlagKey(strings.ToLower(strings.TrimSpace(r.Key)))
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// JobResponse is the job resource as exposed over the API.
type JobResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	CronExpression  string            `json:"cron_expression"`
	WebhookURL      string            `json:"webhook_url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body,omitempty"`
	TimeoutMS       int               `json:"timeout_ms"`
	MaxRetries      int               `json:"max_retries"`
	Status          string            `json:"status"`
	RetryCount      int               `json:"retry_count"`
	ExecutionCount  int               `json:"execution_count"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	LastExecutedAt  *time.Time        `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time        `json:"next_execution_at,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CreateJobRequest defines the payload for creating a new job.
type CreateJobRequest struct {
	Name           string            `json:"name"`
	CronExpression string            `json:"cron_expression"`
	WebhookURL     string            `json:"webhook_url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutMS      int               `json:"timeout_ms,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
}

// Sanitize trims input and applies defaults.
func (r *CreateJobRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.CronExpression = strings.TrimSpace(r.CronExpression)
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = "POST"
	}
	if r.TimeoutMS <= 0 {
		r.TimeoutMS = 30000
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
}

// Validate checks the request against business rules.
func (r *CreateJobRequest) Validate() *ErrorResponse {
	if err := validateJobName(r.Name); err != nil {
		return err
	}
	if err := validateCron(r.CronExpression); err != nil {
		return err
	}
	if err := validateWebhookURL(r.WebhookURL); err != nil {
		return err
	}
	if !allowedMethods[r.Method] {
		return invalidInput("Method must be one of: GET, POST, PUT, PATCH, DELETE",
			ErrorDetail{Field: "method", Issue: "unsupported HTTP method"})
	}
	return nil
}

// UpdateJobRequest defines the payload for partial job updates (PATCH).
type UpdateJobRequest struct {
	Name           *string            `json:"name,omitempty"`
	CronExpression *string            `json:"cron_expression,omitempty"`
	WebhookURL     *string            `json:"webhook_url,omitempty"`
	Method         *string            `json:"method,omitempty"`
	Headers        *map[string]string `json:"headers,omitempty"`
	Body           *string            `json:"body,omitempty"`
	TimeoutMS      *int               `json:"timeout_ms,omitempty"`
	MaxRetries     *int               `json:"max_retries,omitempty"`
}

// Validate checks the provided fields against business rules.
func (r *UpdateJobRequest) Validate() *ErrorResponse {
	if r.Name != nil {
		if err := validateJobName(strings.TrimSpace(*r.Name)); err != nil {
			return err
		}
	}
	if r.CronExpression != nil {
		if err := validateCron(strings.TrimSpace(*r.CronExpression)); err != nil {
			return err
		}
	}
	if r.WebhookURL != nil {
		if err := validateWebhookURL(strings.TrimSpace(*r.WebhookURL)); err != nil {
			return err
		}
	}
	if r.Method != nil && !allowedMethods[strings.ToUpper(strings.TrimSpace(*r.Method))] {
		return invalidInput("Method must be one of: GET, POST, PUT, PATCH, DELETE",
			ErrorDetail{Field: "method", Issue: "unsupported HTTP method"})
	}
	if r.TimeoutMS != nil && *r.TimeoutMS <= 0 {
		return invalidInput("Timeout must be positive",
			ErrorDetail{Field: "timeout_ms", Issue: "must be greater than zero"})
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return invalidInput("Max retries cannot be negative",
			ErrorDetail{Field: "max_retries", Issue: "must be zero or greater"})
	}
	return nil
}

// Apply copies the provided fields onto the store entity.
func (r *UpdateJobRequest) Apply(j *store.Job) {
	if r.Name != nil {
		j.Name = strings.TrimSpace(*r.Name)
	}
	if r.CronExpression != nil {
		j.CronExpression = strings.TrimSpace(*r.CronExpression)
	}
	if r.WebhookURL != nil {
		j.WebhookURL = strings.TrimSpace(*r.WebhookURL)
	}
	if r.Method != nil {
		j.Method = strings.ToUpper(strings.TrimSpace(*r.Method))
	}
	if r.Headers != nil {
		j.Headers = *r.Headers
	}
	if r.Body != nil {
		j.Body = *r.Body
	}
	if r.TimeoutMS != nil {
		j.TimeoutMS = *r.TimeoutMS
	}
	if r.MaxRetries != nil {
		j.MaxRetries = *r.MaxRetries
	}
}

// HistoryResponse is one execution history record as exposed over the API.
type HistoryResponse struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	JobName        string    `json:"job_name"`
	ExecutedAt     time.Time `json:"executed_at"`
	Status         string    `json:"status"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	RetryAttempt   int       `json:"retry_attempt"`
}

// -----------------------------------------------------------------------------
// Environment variables
// -----------------------------------------------------------------------------

// VariableResponse is the environment variable resource.
type VariableResponse struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariableRequest is the payload for creating or updating a variable.
type VariableRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Sanitize trims the key.
func (r *VariableRequest) Sanitize() {
	r.Key = strings.TrimSpace(r.Key)
}

// Validate checks the variable key format.
func (r *VariableRequest) Validate() *ErrorResponse {
	if r.Key == "" {
		return invalidInput("Key is required",
			ErrorDetail{Field: "key", Issue: "required"})
	}
	if len(r.Key) > 255 {
		return invalidInput("Key must be less than 255 characters",
			ErrorDetail{Field: "key", Issue: "too long"})
	}
	if !variableKeyRegex.MatchString(r.Key) {
		return invalidInput("Key must be a valid identifier (letters, digits, underscores, not starting with a digit)",
			ErrorDetail{Field: "key", Issue: "invalid format"})
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reusable validation logic
// -----------------------------------------------------------------------------

func validateFlagKey(key string) *ErrorResponse {
	if key == "" {
		return invalidInput("Key is required", ErrorDetail{Field: "key", Issue: "required"})
	}
	if len(key) > 255 {
		return invalidInput("Key must be less than 255 characters",
			ErrorDetail{Field: "key", Issue: "too long"})
	}
	if !flagKeyRegex.MatchString(key) {
		return invalidInput("Key must contain only lowercase letters, numbers, hyphens, and underscores",
			ErrorDetail{Field: "key", Issue: "invalid slug format"})
	}
	return nil
}

func validateFlagName(name string) *ErrorResponse {
	if name == "" {
		return invalidInput("Name is required", ErrorDetail{Field: "name", Issue: "required"})
	}
	if len(name) > 255 {
		return invalidInput("Name must be less than 255 characters",
			ErrorDetail{Field: "name", Issue: "too long"})
	}
	return nil
}

func validateJobName(name string) *ErrorResponse {
	if name == "" {
		return invalidInput("Name is required", ErrorDetail{Field: "name", Issue: "required"})
	}
	if len(name) > 255 {
		return invalidInput("Name must be less than 255 characters",
			ErrorDetail{Field: "name", Issue: "too long"})
	}
	return nil
}

func validateCron(expr string) *ErrorResponse {
	if err := cronexpr.Validate(expr); err != nil {
		return invalidInput("Invalid cron expression: "+err.Error(),
			ErrorDetail{Field: "cron_expression", Issue: err.Error()})
	}
	return nil
}

func validateWebhookURL(raw string) *ErrorResponse {
	if raw == "" {
		return invalidInput("Webhook URL is required",
			ErrorDetail{Field: "webhook_url", Issue: "required"})
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidInput("Webhook URL must be a valid http(s) URL",
			ErrorDetail{Field: "webhook_url", Issue: "invalid URL"})
	}
	return nil
}

func validatePercentage(pct int) *ErrorResponse {
	if pct < 0 || pct > 100 {
		return invalidInput("Rollout percentage must be between 0 and 100",
			ErrorDetail{Field: "rollout_percentage", Issue: "out of range"})
	}
	return nil
}

func validateRules(rules []flagengine.Rule) *ErrorResponse {
	for _, rule := range rules {
		if rule.Attribute == "" {
			return invalidInput("Rule attribute is required",
				ErrorDetail{Field: "rules", Issue: "empty attribute"})
		}
		switch rule.Operator {
		case flagengine.OpEquals, flagengine.OpNotEquals, flagengine.OpContains,
			flagengine.OpIn, flagengine.OpNotIn:
		default:
			return invalidInput("Unknown rule operator: "+rule.Operator,
				ErrorDetail{Field: "rules", Issue: "unknown operator"})
		}
	}
	return nil
}

func validateRollout(rolloutType string, pct int, rules []flagengine.Rule) *ErrorResponse {
	switch rolloutType {
	case flagengine.RolloutBoolean:
	case flagengine.RolloutPercentage:
		if err := validatePercentage(pct); err != nil {
			return err
		}
	case flagengine.RolloutUserList:
	default:
		return invalidInput("Rollout type must be one of: boolean, percentage, user-list",
			ErrorDetail{Field: "rollout_type", Issue: "unknown rollout type"})
	}
	return validateRules(rules)
}

// -----------------------------------------------------------------------------
// DTO mapping
// -----------------------------------------------------------------------------

func mapFlag(f *store.Flag) FlagResponse {
	targetUsers := f.TargetUsers
	if targetUsers == nil {
		targetUsers = []string{}
	}
	rules := f.Rules
	if rules == nil {
		rules = []flagengine.Rule{}
	}

	return FlagResponse{
		ID:                f.ID,
		Key:               f.Key,
		Name:              f.Name,
		Description:       f.Description,
		Status:            f.Status,
		Enabled:           f.Enabled,
		RolloutType:       f.RolloutType,
		RolloutPercentage: f.RolloutPercentage,
		TargetUsers:       targetUsers,
		Rules:             rules,
		DefaultValue:      f.DefaultValue,
		Version:           f.Version,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func mapJob(j *store.Job) JobResponse {
	headers := j.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return JobResponse{
		ID:              j.ID,
		Name:            j.Name,
		CronExpression:  j.CronExpression,
		WebhookURL:      j.WebhookURL,
		Method:          j.Method,
		Headers:         headers,
		Body:            j.Body,
		TimeoutMS:       j.TimeoutMS,
		MaxRetries:      j.MaxRetries,
		Status:          j.Status,
		RetryCount:      j.RetryCount,
		ExecutionCount:  j.ExecutionCount,
		SuccessCount:    j.SuccessCount,
		FailureCount:    j.FailureCount,
		LastExecutedAt:  j.LastExecutedAt,
		NextExecutionAt: j.NextExecutionAt,
		Version:         j.Version,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func mapHistory(rec *store.HistoryRecord) HistoryResponse {
	return HistoryResponse{
		ID:             rec.ID,
		JobID:          rec.JobID,
		JobName:        rec.JobName,
		ExecutedAt:     rec.ExecutedAt,
		Status:         rec.Status,
		ResponseStatus: rec.ResponseStatus,
		ResponseBody:   rec.ResponseBody,
		Error:          rec.Error,
		DurationMS:     rec.DurationMS,
		RetryAttempt:   rec.RetryAttempt,
	}
}

func mapVariable(v *store.EnvironmentVariable) VariableResponse {
	return VariableResponse{
		ID:        v.ID,
		Key:       v.Key,
		Value:     v.Value,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}
