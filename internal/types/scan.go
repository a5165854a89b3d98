package types

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Mode selects how a scan picks its molecules.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
	ModeUpload Mode = "upload"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeAuto, ModeUpload:
		return true
	}
	return false
}

// Upload is a candidate list file picked by the user (.csv or tab separated .txt).
type Upload struct {
	Name    string `json:"name"`
	Content []byte `json:"-"`
}

// ScanRequest is immutable once submitted.
type ScanRequest struct {
	Mode     Mode    `json:"mode" validate:"required,oneof=manual auto upload"`
	TargetID string  `json:"target_id" validate:"required"`
	Smiles   string  `json:"smiles,omitempty" validate:"required_if=Mode manual"`
	File     *Upload `json:"-" validate:"required_if=Mode upload"`
}

// ValidationError reports a malformed request or setting. It never reaches
// the analysis service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator returns the shared struct validator.
func Validator() *validator.Validate { return validate }

var scanFieldMessages = map[string]string{
	"Mode":     "Unknown analysis mode!",
	"TargetID": "Enter Target Protein ID!",
	"Smiles":   "Enter SMILES!",
	"File":     "Select a file!",
}

// NewScanRequest trims the free-text inputs and validates the result.
func NewScanRequest(mode Mode, targetID, smiles string, file *Upload) (ScanRequest, error) {
	req := ScanRequest{
		Mode:     mode,
		TargetID: strings.TrimSpace(targetID),
		Smiles:   strings.TrimSpace(smiles),
		File:     file,
	}
	if mode != ModeManual {
		req.Smiles = ""
		if mode == ModeAuto {
			req.File = nil
		}
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field := fieldErrs[0].Field()
			return ScanRequest{}, &ValidationError{Field: field, Message: scanFieldMessages[field]}
		}
		return ScanRequest{}, &ValidationError{Field: "", Message: err.Error()}
	}
	return req, nil
}
