package docstore

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quill/internal/config"
	"quill/internal/domain"
	docstoreSvc "quill/internal/domain/services/docstore"
)

// RequestValidator implements docstoreSvc.Validator with ozzo-validation rules.
// It only inspects the request; existence checks happen in the service.
type RequestValidator struct{}

// NewRequestValidator creates a new request validator
func NewRequestValidator() docstoreSvc.Validator {
	return RequestValidator{}
}

func (RequestValidator) ValidateCreate(req *docstoreSvc.CreateDocumentRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.Title,
			validation.Required,
			validation.RuneLength(1, config.MaxDocumentTitleLength),
		),
		validation.Field(&req.Content, validation.Length(0, config.MaxDocumentContentLength)),
		validation.Field(&req.ParentID, validation.Min(int64(1))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (RequestValidator) ValidateUpdate(req *docstoreSvc.UpdateDocumentRequest) error {
	if req.Title == nil && req.Content == nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, errors.New("nothing to update"))
	}
	err := validation.ValidateStruct(req,
		validation.Field(&req.Title,
			validation.NilOrNotEmpty,
			validation.RuneLength(1, config.MaxDocumentTitleLength),
		),
		validation.Field(&req.Content, validation.Length(0, config.MaxDocumentContentLength)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
