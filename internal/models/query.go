package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultTopK = 5
	MaxTopK     = 100
)

var validate = validator.New()

// SearchRequest is a text similarity query.
type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k,omitempty" validate:"gte=0"`
}

// Validate checks required fields and applies the default top_k.
// Returns a map of field name to failed tag, or nil when valid.
func (r *SearchRequest) Validate() map[string]string {
	if err := validate.Struct(r); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		out := make(map[string]string, len(errs))
		for _, e := range errs {
			out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return out
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	return nil
}

// ClampTopK bounds k to [1, MaxTopK].
func ClampTopK(k int) int {
	if k < 1 {
		return 1
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}
