// Package validator checks audit lookup parameters and returns per-field
// error details.
package validator

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/auditlens/auditlens/internal/audit/query"
	"github.com/auditlens/auditlens/pkg/config"
	apperrors "github.com/auditlens/auditlens/pkg/errors"
)

const (
	maxIdentifierLength = 256
	maxTitleLength      = 1024

	// maxResultWindow is the index's default index.max_result_window.
	maxResultWindow = 10000
)

// ValidationError holds per-field validation failure messages. It matches
// apperrors.ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateIdentifier checks a document identifier path parameter.
func ValidateIdentifier(id string) error {
	return validatePathParam("uuid", id, maxIdentifierLength)
}

// ValidateTitle checks a free-text title path parameter.
func ValidateTitle(title string) error {
	return validatePathParam("title", title, maxTitleLength)
}

func validatePathParam(name, value string, limit int) error {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return &ValidationError{Fields: map[string]string{name: name + " is required"}}
	case len(v) > limit:
		return &ValidationError{Fields: map[string]string{name: fmt.Sprintf("%s must be at most %d characters", name, limit)}}
	}
	return nil
}

// ParseListParams reads size, from and sort from a query string, applying
// cfg defaults for absent values. A size above cfg.MaxPageSize is clamped,
// not rejected.
func ParseListParams(values url.Values, cfg config.APIConfig) (query.Options, error) {
	errs := make(map[string]string)
	opts := query.Options{Size: cfg.DefaultPageSize}

	if raw := values.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			errs["size"] = "size must be an integer"
		case n <= 0:
			errs["size"] = "size must be positive"
		case cfg.MaxPageSize > 0 && n > cfg.MaxPageSize:
			opts.Size = cfg.MaxPageSize
		default:
			opts.Size = n
		}
	}

	if raw := values.Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			errs["from"] = "from must be an integer"
		case n < 0:
			errs["from"] = "from must not be negative"
		default:
			opts.From = n
		}
	}
	if _, bad := errs["from"]; !bad && opts.From > maxResultWindow-opts.Size {
		errs["from"] = fmt.Sprintf("from + size must not exceed %d", maxResultWindow)
	}

	rawSort := values.Get("sort")
	if rawSort == "" {
		rawSort = cfg.DefaultSort
	}
	s, err := query.ParseSort(rawSort)
	if err != nil {
		errs["sort"] = message(err)
	}
	opts.Sort = s

	if len(errs) > 0 {
		return query.Options{}, &ValidationError{Fields: errs}
	}
	return opts, nil
}

func message(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
