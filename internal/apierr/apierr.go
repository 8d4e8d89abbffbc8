package apierr

import "fmt"

// Stable machine-readable failure codes the API layer maps to HTTP statuses.
const (
	CodeAssetNotFound           = "asset_not_found"
	CodeLightingPresetNotFound  = "lighting_preset_not_found"
	CodeRenderPresetNotFound    = "render_preset_not_found"
	CodeMaterialVariantNotFound = "material_variant_not_found"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(code string, err error) *Error {
	return &Error{Status: 404, Code: code, Err: err}
}
