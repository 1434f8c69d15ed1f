package orchestrator

import (
	"time"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

// State is a step of the transformation state machine.
type State int

const (
	StateIdle State = iota
	StateQuotaCheck
	StateRejectedLimit
	StateGenerating
	StatePartialRetry
	StateGeneratingFallback
	StateSuccess
	StateFailureNoImage
	StateFailureError
)

var stateNames = map[State]string{
	StateIdle:               "IDLE",
	StateQuotaCheck:         "QUOTA_CHECK",
	StateRejectedLimit:      "REJECTED_LIMIT",
	StateGenerating:         "GENERATING",
	StatePartialRetry:       "PARTIAL_RETRY",
	StateGeneratingFallback: "GENERATING_FALLBACK",
	StateSuccess:            "SUCCESS",
	StateFailureNoImage:     "FAILURE_NO_IMAGE",
	StateFailureError:       "FAILURE_ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s State) Terminal() bool {
	switch s {
	case StateRejectedLimit, StateSuccess, StateFailureNoImage, StateFailureError:
		return true
	}
	return false
}

type Attempt int

const (
	AttemptPrimary Attempt = iota
	AttemptFallback
)

func (a Attempt) String() string {
	if a == AttemptFallback {
		return "fallback"
	}
	return "primary"
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeImage
	OutcomeEmpty
	OutcomeError
	OutcomeStampFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeImage:
		return "image"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	case OutcomeStampFailed:
		return "watermark_failed"
	default:
		return "pending"
	}
}

// Variant records one generation call. Index is the variant's position in
// Session.Variants; primaries come first, the fallback (if any) last.
type Variant struct {
	Index   int
	Style   string
	Attempt Attempt
	Outcome Outcome
	Err     error
	Raw     *models.Image
}

// Result is one delivered image: the watermarked copy for display and the
// raw model output it came from.
type Result struct {
	Index       int
	Style       string
	Raw         *models.Image
	Watermarked *models.Image
}

// Session is the outcome of one Transform call.
type Session struct {
	ID         string
	Era        *models.Era
	Language   models.Language
	Options    models.TransformationOptions
	State      State
	Kind       Kind
	Variants   []Variant
	Results    []Result
	Remaining  int
	StartedAt  time.Time
	FinishedAt time.Time

	epoch uint64
}

func (s *Session) Succeeded() bool {
	return s.State == StateSuccess
}

// UsedFallback reports whether the fallback round ran.
func (s *Session) UsedFallback() bool {
	for _, v := range s.Variants {
		if v.Attempt == AttemptFallback {
			return true
		}
	}
	return false
}

func (s *Session) Watermarked() []*models.Image {
	out := make([]*models.Image, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Watermarked
	}
	return out
}

func (s *Session) Raw() []*models.Image {
	out := make([]*models.Image, len(s.Results))
	for i, r := range s.Results {
		out[i] = r.Raw
	}
	return out
}
