package domain

import "context"

// ArtifactProcessor renders export targets while preserving order.
// The order of results matches the order of input jobs.
type ArtifactProcessor interface {
	ProcessArtifacts(ctx context.Context, jobs []*ArtifactJob) ([]*Artifact, error)
}

// ArtifactJob is one request path to render during an export
type ArtifactJob struct {
	Path string
}

// Artifact is the result of rendering one ArtifactJob
type Artifact struct {
	Job      *ArtifactJob
	Document *RenderedDocument // nil when the path does not render
	Status   ArtifactStatus
	Error    error
}

// ArtifactStatus represents the status of rendering
type ArtifactStatus string

const (
	ArtifactStatusRendered ArtifactStatus = "rendered"
	ArtifactStatusSkipped  ArtifactStatus = "skipped"
	ArtifactStatusFailed   ArtifactStatus = "failed"
)
