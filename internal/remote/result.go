package remote

import "net/http"

// Operation names a remote endpoint.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpModify   Operation = "modify"
	OpCost     Operation = "cost"
	OpAsk      Operation = "ask"
	OpGherkin  Operation = "gherkin"
)

func (o Operation) Path() string {
	switch o {
	case OpGenerate:
		return "/generate"
	case OpModify:
		return "/modify"
	case OpCost:
		return "/generate/cost"
	case OpAsk:
		return "/generate/ask"
	case OpGherkin:
		return "/generate/gherkin"
	default:
		return "/" + string(o)
	}
}

// failureMessage is the generic text shown for transport failures.
func (o Operation) failureMessage() string {
	switch o {
	case OpGenerate:
		return "Failed to generate diagram. Please try again later."
	case OpModify:
		return "Failed to modify diagram. Please try again later."
	case OpCost:
		return "Failed to get cost estimate. Please try again later."
	case OpAsk:
		return "Failed to ask question. Please try again later."
	case OpGherkin:
		return "Failed to generate Gherkin scenarios. Please try again later."
	default:
		return "Request failed. Please try again later."
	}
}

// Outcome discriminates a Result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeServiceError
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServiceError:
		return "service_error"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Response is the union of every endpoint's JSON body.
type Response struct {
	Error            string `json:"error,omitempty"`
	Diagram          string `json:"diagram,omitempty"`
	Explanation      string `json:"explanation,omitempty"`
	TokenCount       int    `json:"token_count,omitempty"`
	RequiresAPIKey   bool   `json:"requires_api_key,omitempty"`
	Cost             string `json:"cost,omitempty"`
	Answer           string `json:"answer,omitempty"`
	GherkinScenarios string `json:"gherkin_scenarios,omitempty"`
}

// Result is the normalized outcome of one remote call.
type Result struct {
	Operation  Operation
	Outcome    Outcome
	StatusCode int
	Response   Response
	// Message is user-visible for every non-OK outcome.
	Message string
	// Cause is set for transport failures and is never shown to users.
	Cause error
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Err converts a non-OK result into a classified *Error; it is nil for OK.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeRateLimited:
		return NewError(ErrRateLimited, r.Message, nil)
	case OutcomeServiceError:
		return NewError(ErrServiceDeclared, r.Message, nil)
	default:
		return NewError(ErrTransportFailure, r.Message, r.Cause)
	}
}

func rateLimited(op Operation) Result {
	return Result{
		Operation:  op,
		Outcome:    OutcomeRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Message:    RateLimitMessage,
	}
}

func transportFailure(op Operation, status int, cause error) Result {
	return Result{
		Operation:  op,
		Outcome:    OutcomeTransportFailure,
		StatusCode: status,
		Message:    op.failureMessage(),
		Cause:      cause,
	}
}
