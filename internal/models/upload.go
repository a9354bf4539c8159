package models

import "errors"

var ErrMissingImage = errors.New("image field is missing")

// UploadRequest is one multipart upload. FileName is informational only and
// never used to pick a decoder.
type UploadRequest struct {
	ID       string
	FileName string
	Data     []byte

	// Present is false when the request carried no "image" file field.
	// A present field may still hold zero bytes.
	Present bool
}

func (r UploadRequest) Validate() error {
	if !r.Present {
		return ErrMissingImage
	}
	return nil
}

// CaptionResponse is the success envelope for POST /upload
type CaptionResponse struct {
	Description string `json:"description" example:"a red square on a white background"`
}

// ErrorResponse is the failure envelope for POST /upload
type ErrorResponse struct {
	Error string `json:"error" example:"No image file provided"`
}
