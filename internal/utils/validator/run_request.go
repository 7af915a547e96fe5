// internal/utils/validator/run_request.go
package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// RunValidator checks run options before they reach the planner
type RunValidator struct {
	logger   logger.Logger
	config   *ValidatorConfig
	validate *validator.Validate
}

// ValidatorConfig holds the dynamic limits that struct tags cannot express
type ValidatorConfig struct {
	MaxObjects  int // max explicit objectIds per request, 0 = unlimited
	MaxParallel int // upper bound for maxParallel, 0 = unlimited
}

// ValidationResult is the outcome of ValidateRequest
type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// ValidationError describes one rejected field
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// NewRunValidator creates a validator with the objectid rule registered
func NewRunValidator(log logger.Logger, config *ValidatorConfig) *RunValidator {
	if log == nil {
		log = logger.NewNop()
	}
	if config == nil {
		config = &ValidatorConfig{MaxObjects: 1000, MaxParallel: 256}
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return migration.ValidID(fl.Field().String())
	})

	return &RunValidator{
		logger:   log.Named("validator"),
		config:   config,
		validate: v,
	}
}

// ValidateRequest checks req and collects every problem
func (v *RunValidator) ValidateRequest(req models.RunRequest) *ValidationResult {
	result := &ValidationResult{IsValid: true, Errors: make([]ValidationError, 0)}

	if err := v.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			result.Errors = append(result.Errors, ValidationError{Code: "INVALID", Message: err.Error()})
		}
		for _, fe := range fieldErrs {
			result.Errors = append(result.Errors, ValidationError{
				Code:    strings.ToUpper(fe.Tag()),
				Field:   strings.TrimPrefix(fe.Namespace(), "RunRequest."),
				Message: describe(fe),
			})
		}
	}

	if v.config.MaxObjects > 0 && len(req.ObjectIDs) > v.config.MaxObjects {
		result.Errors = append(result.Errors, ValidationError{
			Code:    "TOO_MANY_OBJECTS",
			Field:   "objectIds",
			Message: fmt.Sprintf("at most %d objects per request, got %d", v.config.MaxObjects, len(req.ObjectIDs)),
		})
	}
	if v.config.MaxParallel > 0 && req.MaxParallel > v.config.MaxParallel {
		result.Errors = append(result.Errors, ValidationError{
			Code:    "MAX_PARALLEL",
			Field:   "maxParallel",
			Message: fmt.Sprintf("maxParallel must not exceed %d", v.config.MaxParallel),
		})
	}

	result.IsValid = len(result.Errors) == 0
	if !result.IsValid {
		v.logger.Debug("Run options rejected", logger.Int("errors", len(result.Errors)))
	}
	return result
}

// Check returns an ERR_PLANNER_BAD_OPTIONS error when req is invalid
func (v *RunValidator) Check(req models.RunRequest) error {
	result := v.ValidateRequest(req)
	if result.IsValid {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, e.Message)
	}
	return errors.NewCoded(errors.CodePlannerBadOptions, "%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "RunRequest.")
	switch fe.Tag() {
	case "objectid":
		return fmt.Sprintf("%s: %q is not a valid object id", field, fe.Value())
	case "required":
		return fmt.Sprintf("%s must not be empty", field)
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
