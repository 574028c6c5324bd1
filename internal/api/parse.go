package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
)

// multipartMemory is how much of a form is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// IsHTTPError checks whether an error is an *HTTPError.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// CloneForm is a parsed POST /clone body. Close releases the upload.
type CloneForm struct {
	Filename string
	File     multipart.File
	Text     string
	Language string

	form *multipart.Form
}

// Close closes the upload and removes any temporary files backing the form.
func (f *CloneForm) Close() {
	if f.File != nil {
		f.File.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// ParseCloneForm reads the reference_audio, text and language fields.
// maxBytes bounds the whole request body; zero means unlimited.
func ParseCloneForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (*CloneForm, error) {
	if maxBytes > 0 {
		if r.ContentLength > maxBytes {
			return nil, tooLarge(maxBytes)
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, tooLarge(maxBytes)
		case errors.Is(err, http.ErrNotMultipart):
			return nil, missingField("reference_audio")
		default:
			return nil, &HTTPError{Status: http.StatusBadRequest, Message: "Invalid multipart form"}
		}
	}

	form := &CloneForm{form: r.MultipartForm}

	files := r.MultipartForm.File["reference_audio"]
	if len(files) == 0 {
		form.Close()
		return nil, missingField("reference_audio")
	}

	texts, ok := r.MultipartForm.Value["text"]
	if !ok || len(texts) == 0 {
		form.Close()
		return nil, missingField("text")
	}
	form.Text = texts[0]

	if langs := r.MultipartForm.Value["language"]; len(langs) > 0 {
		form.Language = langs[0]
	}

	file, err := files[0].Open()
	if err != nil {
		form.Close()
		return nil, &HTTPError{Status: http.StatusBadRequest, Message: "Invalid file upload"}
	}
	form.File = file
	form.Filename = files[0].Filename

	return form, nil
}

func missingField(name string) *HTTPError {
	return &HTTPError{Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("Field required: %s", name)}
}

func tooLarge(maxBytes int64) *HTTPError {
	return &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: fmt.Sprintf("Upload exceeds %d bytes", maxBytes)}
}
