package entities

import "fmt"

type Stage string

const (
	// StageValidate means the message did not contain a supported link
	StageValidate Stage = "validate"

	// StageAccess means the sender or chat was rejected by the permission gate
	StageAccess Stage = "access"

	// StageDownload covers the extraction tool run
	StageDownload Stage = "download"

	// StageCompress covers the transcoder run
	StageCompress Stage = "compress"

	// StageUpload covers sending the video back to the chat
	StageUpload Stage = "upload"

	// StageDone marks a request whose video was delivered
	StageDone Stage = "done"
)

// StageError is returned by pipeline stages. Err keeps the underlying cause
// for logs and error reports, it is never shown to chat users.
type StageError struct {
	Stage Stage
	Err   error
}

func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Video is a downloaded artifact on local disk.
type Video struct {
	Path string
	Size int64
}
