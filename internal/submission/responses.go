package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fileResponse is the shape of a file field's answer.
type fileResponse struct {
	URL         string  `json:"url" validate:"required,url"`
	Filename    string  `json:"filename" validate:"required"`
	ContentType string  `json:"contentType" validate:"required"`
	Size        float64 `json:"size" validate:"gt=0"`
}

// validateResponses checks responses against the template's fields in
// declaration order and reports the first violation. Keys the template does not
// declare are accepted.
func validateResponses(t *domain.Template, responses map[string]interface{}) error {
	for _, f := range t.Fields {
		field := "responses." + f.ID
		v, ok := responses[f.ID]
		if !ok || v == nil {
			if f.Required {
				return domain.InvalidField(field, "%s is required", field)
			}
			continue
		}
		if err := checkField(f, v); err != nil {
			return domain.InvalidField(field, "%s %s", field, err.Error())
		}
	}
	return nil
}

func checkField(f domain.TemplateField, v interface{}) error {
	rules := f.Validation
	if rules == nil {
		rules = &domain.FieldRules{}
	}

	switch f.Type {
	case domain.FieldText:
		s, ok := v.(string)
		if !ok {
			return typeError("a string", v)
		}
		if f.Required && s == "" {
			return fmt.Errorf("must not be empty")
		}
		if err := checkBounds("length", float64(len([]rune(s))), rules); err != nil {
			return err
		}
		if rules.Pattern != "" {
			re, err := regexp.Compile(rules.Pattern)
			if err != nil {
				return fmt.Errorf("has an invalid pattern in its template")
			}
			if !re.MatchString(s) {
				return fmt.Errorf("must match %s", rules.Pattern)
			}
		}
	case domain.FieldNumber:
		n, ok := toNumber(v)
		if !ok {
			return typeError("a number", v)
		}
		return checkBounds("value", n, rules)
	case domain.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return typeError("a boolean", v)
		}
	case domain.FieldSelect:
		s, ok := v.(string)
		if !ok {
			return typeError("a string", v)
		}
		if len(f.Options) > 0 && !slices.Contains(f.Options, s) {
			return fmt.Errorf("must be one of %v", f.Options)
		}
	case domain.FieldMultiSelect:
		items, ok := v.([]interface{})
		if !ok {
			return typeError("a list of strings", v)
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return typeError("a list of strings", v)
			}
			if len(f.Options) > 0 && !slices.Contains(f.Options, s) {
				return fmt.Errorf("contains %q, which is not one of %v", s, f.Options)
			}
		}
		return checkBounds("number of choices", float64(len(items)), rules)
	case domain.FieldDate:
		if !isDate(v) {
			return typeError("a date", v)
		}
	case domain.FieldFile:
		m, ok := v.(map[string]interface{})
		if !ok {
			return typeError("a file object", v)
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return typeError("a file object", v)
		}
		var file fileResponse
		if err := json.Unmarshal(raw, &file); err != nil {
			return typeError("a file object", v)
		}
		if err := validate.Struct(file); err != nil {
			return fmt.Errorf("is not a valid file: %s", firstFailure(err))
		}
	default:
		return fmt.Errorf("has unknown field type %q in its template", f.Type)
	}
	return nil
}

func checkBounds(what string, n float64, rules *domain.FieldRules) error {
	if rules.Min != nil && n < *rules.Min {
		return fmt.Errorf("%s must be at least %v", what, *rules.Min)
	}
	if rules.Max != nil && n > *rules.Max {
		return fmt.Errorf("%s must be at most %v", what, *rules.Max)
	}
	return nil
}

// toNumber accepts JSON numbers and the integer types Firestore decodes into.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func isDate(v interface{}) bool {
	switch d := v.(type) {
	case time.Time:
		return true
	case string:
		if _, err := time.Parse(time.RFC3339, d); err == nil {
			return true
		}
		_, err := time.Parse(time.DateOnly, d)
		return err == nil
	default:
		return false
	}
}

func typeError(want string, v interface{}) error {
	return fmt.Errorf("must be %s, got %T", want, v)
}

func firstFailure(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("%s failed %s", verrs[0].Field(), verrs[0].Tag())
	}
	return err.Error()
}
