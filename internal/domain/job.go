package domain

import "time"

// Mode enumerates the generation modes a job can run.
type Mode string

const (
	// ModeCatalog produces a single cleaned-up product shot.
	ModeCatalog Mode = "catalog"
	// ModeThematic produces a set of styled marketing shots.
	ModeThematic Mode = "thematic"
	// ModeVideo produces a short presentation clip.
	ModeVideo Mode = "video"
)

// IsValid reports whether the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == ModeCatalog || m == ModeThematic || m == ModeVideo
}

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending             Status = "pending"
	StatusAwaitingTheme       Status = "awaiting_theme"
	StatusAwaitingVideoPrompt Status = "awaiting_video_prompt"
	StatusProcessing          Status = "processing"
	StatusProcessingVideo     Status = "processing_video"
	StatusSuccess             Status = "success"
	StatusSuccessVideo        Status = "success_video"
	StatusError               Status = "error"
)

var validTransitions = map[Status][]Status{
	StatusPending:             {StatusAwaitingTheme, StatusAwaitingVideoPrompt, StatusProcessing, StatusProcessingVideo},
	StatusAwaitingTheme:       {StatusProcessing, StatusAwaitingVideoPrompt, StatusPending},
	StatusAwaitingVideoPrompt: {StatusProcessingVideo, StatusAwaitingTheme, StatusPending},
	StatusProcessing:          {StatusSuccess, StatusError},
	StatusProcessingVideo:     {StatusSuccessVideo, StatusError, StatusPending},
	StatusSuccess:             {StatusPending},
	StatusSuccessVideo:        {StatusPending},
	StatusError:               {StatusPending},
}

// CanTransition reports whether moving a job from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state a reset can leave.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusSuccessVideo || s == StatusError
}

// InFlight reports whether a generation call is currently running for this status.
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusProcessingVideo
}

// SourceImage is the uploaded product photo a job works on.
type SourceImage struct {
	Filename string
	MIME     string
	Data     []byte
}

// Artifact is one generated result image.
type Artifact struct {
	MIME string
	Data []byte
}

// Job tracks one uploaded image through one generation mode. All job state is
// held in memory for the session lifetime; there is no persistence.
type Job struct {
	ID          string
	Source      SourceImage
	Status      Status
	Mode        Mode
	Theme       string
	VideoPrompt string
	Artifacts   []Artifact
	VideoURL    string
	// OperationName is the opaque provider handle for an in-flight video
	// generation. It is round-tripped verbatim on every poll and never
	// interpreted beyond the provider's done flag.
	OperationName string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewJob creates a job in the initial pending state for an uploaded image.
func NewJob(id string, src SourceImage) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Source:    src,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers can read job state without racing the
// store's own mutations.
func (j *Job) Clone() *Job {
	out := *j
	out.Source.Data = append([]byte(nil), j.Source.Data...)
	if j.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(j.Artifacts))
		for i, a := range j.Artifacts {
			out.Artifacts[i] = Artifact{MIME: a.MIME, Data: append([]byte(nil), a.Data...)}
		}
	}
	return &out
}
