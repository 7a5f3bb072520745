package waitlist_gate

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eigerteam/waitlist_gate/internal/logger"
)

var (
	_ http.Handler = &httpSubmitHandler{}
	_ Extractor    = &httpHeaderExtractor{}
	_ Extractor    = &remoteAddrExtractor{}
)

const (
	maxPayloadBytes  = 16 << 10
	maxHoneypotBytes = 1024

	retryAfterHeader = "Retry-After"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Extractor extracts the client key a submission is rate limited under.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

type httpHeaderExtractor struct {
	headers []string
}

// Extract extracts values from HTTP headers to build the key.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		// if we can't find a value for a header we should return an error
		if value := strings.TrimSpace(r.Header.Get(key)); value != "" {
			values = append(values, value)
		} else {
			return "", fmt.Errorf("header %v must have a value set", key)
		}
	}

	return strings.Join(values, "-"), nil
}

// NewHttpHeaderExtractor keys submissions by the given request headers,
// typically an installation id the page stores locally.
func NewHttpHeaderExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

type remoteAddrExtractor struct{}

// Extract returns the host part of the request's remote address.
func (remoteAddrExtractor) Extract(r *http.Request) (string, error) {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host, nil
	}
	if addr == "" {
		return "", fmt.Errorf("request has no remote address")
	}
	return addr, nil
}

// NewRemoteAddrExtractor keys submissions by remote address. Put it behind
// a real-IP middleware when running behind a proxy.
func NewRemoteAddrExtractor() Extractor {
	return &remoteAddrExtractor{}
}

// SubmitHandlerConfig holds the wiring of the HTTP submission endpoint.
// A nil Extractor counts every caller against the default record.
type SubmitHandlerConfig struct {
	Gate      *Gate
	Extractor Extractor
}

// Website is the honeypot and carries no validation: any answer that differs
// for a filled honeypot would tell a bot it was caught.
type submitPayload struct {
	Email   string `json:"email" validate:"required"`
	Website string `json:"website"`
}

type httpSubmitHandler struct {
	config *SubmitHandlerConfig
}

// NewHTTPSubmitHandler serves POST requests carrying {"email", "website"},
// where website is the hidden honeypot field, and answers with the
// submission Result as JSON.
func NewHTTPSubmitHandler(config *SubmitHandlerConfig) http.Handler {
	return &httpSubmitHandler{config: config}
}

// ServeHTTP decodes the payload, runs the gate and writes the Result.
func (h *httpSubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeResult(w, http.StatusMethodNotAllowed, failed(InvalidFormat, http.StatusText(http.StatusMethodNotAllowed)))
		return
	}

	var payload submitPayload
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeResult(w, http.StatusBadRequest, failed(InvalidFormat, "Invalid request body."))
		return
	}

	payload.Email = strings.TrimSpace(payload.Email)
	if len(payload.Website) > maxHoneypotBytes {
		payload.Website = payload.Website[:maxHoneypotBytes]
	}
	// a filled honeypot goes straight to the gate, whatever the email holds
	if !IsBot(payload.Website) {
		if err := validate.Struct(payload); err != nil {
			h.writeResult(w, http.StatusBadRequest, failed(InvalidFormat, MsgInvalidFormat))
			return
		}
	}

	client := ""
	if h.config.Extractor != nil {
		key, err := h.config.Extractor.Extract(r)
		if err != nil {
			h.writeResult(w, http.StatusBadRequest, failed(InvalidFormat, fmt.Sprintf("failed to extract client key from request: %v", err)))
			return
		}
		client = key
	}

	result := h.config.Gate.SubmitFrom(r.Context(), client, payload.Email, payload.Website)
	if !result.Success && result.Error == "" {
		result.Error = MsgPersistenceFailure
	}

	if result.Kind == RateLimited {
		w.Header().Set(retryAfterHeader, retryAfterSeconds(result.RetryAfter))
	}

	h.writeResult(w, statusFor(result.Kind), result)
}

func (h *httpSubmitHandler) writeResult(w http.ResponseWriter, status int, result Result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("failed to write submission result", "error", err)
	}
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func statusFor(kind Kind) int {
	switch kind {
	case Accepted:
		return http.StatusOK
	case InvalidFormat, TooShort, TooLong, DisposableDomain:
		return http.StatusBadRequest
	case BotRejected:
		return http.StatusForbidden
	case Duplicate:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case UnexpectedFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
