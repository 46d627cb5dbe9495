package domain

type PageRequest struct {
	Page         int     `json:"page"`
	PageSize     int     `json:"page_size"`
	Filters      Filters `json:"filters"`
	ForceRefresh bool    `json:"force_refresh"`
	// ActorID scopes myOrders / availableOrders on the server side.
	ActorID string `json:"actor_id,omitempty"`
}

type ActionKind string

const (
	ActionTake    ActionKind = "take"
	ActionRelease ActionKind = "release"
	ActionAdvance ActionKind = "advance"
	ActionCancel  ActionKind = "cancel"
)

type ActionRequest struct {
	OrderID      string     `json:"order_id"`
	Kind         ActionKind `json:"kind"`
	Comment      string     `json:"comment,omitempty"`
	TargetStatus Status     `json:"target_status,omitempty"`
	Actor        Actor      `json:"actor"`
}

// Result is what every command returns; commands never panic across the
// boundary. Silent marks errors that are logged but not shown to the user.
type Result struct {
	Success bool  `json:"success"`
	Err     error `json:"-"`
	Silent  bool  `json:"silent,omitempty"`
}

func OK() Result { return Result{Success: true} }

func Fail(err error) Result {
	return Result{Err: err, Silent: ClassifyError(err) == KindUnauthorized}
}

// Message is the user-facing error text, empty on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
