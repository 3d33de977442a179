package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type QueryParams struct {
	Prompt         string    `json:"prompt" validate:"required,max=4000"`
	Query          string    `json:"query"`
	Memory         []Message `json:"memory" validate:"omitempty,max=100,dive"`
	ConversationID string    `json:"conversation_id" validate:"omitempty,max=128"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	// the legacy client posts {query} instead of {prompt}
	if params.Prompt == "" && params.Query != "" {
		params.Prompt = params.Query
	}
	return validationErrors(validate.Struct(params))
}

// StructErrors validates any struct with validator tags and flattens the result.
func StructErrors(v any) map[string]string {
	return validationErrors(validate.Struct(v))
}

func validationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	errors := make(map[string]string)
	for _, e := range errs {
		errors[e.Namespace()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return errors
}
