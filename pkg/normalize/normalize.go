// Package normalize maps the Analysis Service's JSON response into a
// redaction.Outcome. The raw payload is schema-checked here and nothing
// untyped leaves the package.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// TokensPerEntity is added to the redacted length for every entity to
// approximate the original token count.
const TokensPerEntity = 10

// rawEntity is one detection as the analyzer reports it. A missing type is
// tolerated and kept as an empty category.
type rawEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// rawResponse is the success body of POST /analyze.
type rawResponse struct {
	FileName         string         `json:"file_name"`
	RiskScore        float64        `json:"risk_score" validate:"gte=0,lte=100"`
	RiskLevel        *string        `json:"risk_level"`
	PIISummary       map[string]int `json:"pii_summary"`
	DetectedEntities []rawEntity    `json:"detected_entities" validate:"required"`
	RedactedText     *string        `json:"redacted_text" validate:"required"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schema() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Input carries the session facts the analyzer does not report.
type Input struct {
	Mode             redaction.Mode
	ElapsedSeconds   float64
	OriginalByteSize int64
	// FallbackName is used when the response has no file_name.
	FallbackName string
}

// Normalize validates raw and builds the outcome. Any JSON or schema
// failure is returned as *errors.MalformedResponseError.
func Normalize(raw []byte, in Input) (*redaction.Outcome, error) {
	var resp rawResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&resp); err != nil {
		return nil, &apperrors.MalformedResponseError{Cause: err}
	}

	if err := schema().Struct(&resp); err != nil {
		return nil, malformed(err)
	}

	entities := make([]redaction.PIIEntity, len(resp.DetectedEntities))
	for i, e := range resp.DetectedEntities {
		entities[i] = redaction.PIIEntity{
			Category:        e.Type,
			OriginalValue:   e.Value,
			MaskedValue:     redaction.MaskFor(e.Type),
			Confidence:      redaction.DefaultConfidence,
			OrdinalPosition: i + 1,
		}
	}

	counts := resp.PIISummary
	if counts == nil {
		counts = redaction.CountByCategory(entities)
	}

	var level redaction.RiskLevel
	if resp.RiskLevel != nil {
		level = redaction.RiskLevel(*resp.RiskLevel)
	}

	fileName := resp.FileName
	if fileName == "" {
		fileName = in.FallbackName
	}

	mode := in.Mode
	if mode == "" {
		mode = redaction.DefaultMode
	}

	redacted := redaction.TextLength(*resp.RedactedText)

	return &redaction.Outcome{
		FileName:                  fileName,
		FileSizeBytes:             in.OriginalByteSize,
		Entities:                  entities,
		RiskScore:                 int(math.Round(resp.RiskScore)),
		RiskLevel:                 level,
		EntityCountsByCategory:    counts,
		RedactedText:              *resp.RedactedText,
		TokenCountRedacted:        redacted,
		TokenCountOriginal:        redacted + len(entities)*TokensPerEntity,
		ProcessingDurationSeconds: in.ElapsedSeconds,
		Mode:                      mode,
	}, nil
}

// malformed converts a validator failure into a MalformedResponseError
// naming the first offending field by its JSON path.
func malformed(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		return &apperrors.MalformedResponseError{Field: field}
	}
	return &apperrors.MalformedResponseError{Cause: err}
}
