package handlers

import "errors"

var (
	errAssetNotFound  = errors.New("asset not found")
	errInvalidAssetID = errors.New("asset id must be a valid uuid")
	errInvalidMaxLOD  = errors.New("maxLod must be a non-negative integer")
)
