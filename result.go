package waitlist_gate

import "time"

// Kind classifies the outcome of a submission.
type Kind int

const (
	Accepted Kind = iota
	InvalidFormat
	TooShort
	TooLong
	DisposableDomain
	RateLimited
	Duplicate
	PersistenceFailure
	UnexpectedFailure
	BotRejected
)

var kindStrings = map[Kind]string{
	Accepted:           "Accepted",
	InvalidFormat:      "InvalidFormat",
	TooShort:           "TooShort",
	TooLong:            "TooLong",
	DisposableDomain:   "DisposableDomain",
	RateLimited:        "RateLimited",
	Duplicate:          "Duplicate",
	PersistenceFailure: "PersistenceFailure",
	UnexpectedFailure:  "UnexpectedFailure",
	BotRejected:        "BotRejected",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "Unknown"
}

// User-facing messages. Callers present them verbatim.
const (
	MsgInvalidFormat      = "Please enter a valid email address."
	MsgTooShort           = "Email address is too short."
	MsgTooLong            = "Email address is too long."
	MsgDisposableDomain   = "Please use a permanent email address."
	MsgDuplicate          = "This email is already on the waitlist!"
	MsgPersistenceFailure = "Something went wrong. Please try again."
	MsgUnexpectedFailure  = "Connection error. Please try again."
	MsgBotRejected        = "Submission rejected."
	msgRateLimitedPrefix  = "Too many attempts."
)

// Result is the only value a submission hands back to its caller.
// Kind is kept for logging and transport mapping and is never serialized,
// so a silently accepted bot is indistinguishable from a genuine signup.
// RetryAfter is set on RateLimited results only.
type Result struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Kind       Kind          `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

func succeeded() Result {
	return Result{Success: true, Kind: Accepted}
}

func failed(kind Kind, msg string) Result {
	return Result{Success: false, Error: msg, Kind: kind}
}
