package query

import (
	"net/http"
	"strings"

	apperrors "github.com/auditlens/auditlens/pkg/errors"
)

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Sort names one index field and a direction.
type Sort struct {
	Field string
	Order string
}

func (s Sort) String() string {
	return s.Field + ":" + s.Order
}

func (s Sort) clause() []SortClause {
	return []SortClause{{s.Field: SortOrder{Order: s.Order}}}
}

// ParseSort parses "field:order". A missing order means ascending.
func ParseSort(raw string) (Sort, error) {
	field, order, _ := strings.Cut(strings.TrimSpace(raw), ":")
	s := Sort{Field: strings.TrimSpace(field), Order: strings.ToLower(strings.TrimSpace(order))}
	if s.Order == "" {
		s.Order = OrderAsc
	}
	if err := s.validate(); err != nil {
		return Sort{}, err
	}
	return s, nil
}

func (s Sort) validate() error {
	if s.Field == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "sort field must not be empty")
	}
	if s.Order != OrderAsc && s.Order != OrderDesc {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"sort order must be %q or %q, got %q", OrderAsc, OrderDesc, s.Order)
	}
	return nil
}

// Options controls paging and ordering of an event lookup.
type Options struct {
	Size int
	From int
	Sort Sort
}

// Validate enforces Size > 0, From >= 0 and a well-formed sort.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "size must be positive, got %d", o.Size)
	}
	if o.From < 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "from must not be negative, got %d", o.From)
	}
	return o.Sort.validate()
}
