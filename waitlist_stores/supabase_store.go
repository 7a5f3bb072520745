package waitlist_stores

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eigerteam/waitlist_gate"
	"github.com/eigerteam/waitlist_gate/internal/httpretry"
	"github.com/eigerteam/waitlist_gate/internal/logger"
)

var (
	_ waitlist_gate.Store = &SupabaseStore{}
)

const (
	placeholderSupabaseURL = "https://placeholder.supabase.co"
	placeholderSupabaseKey = "placeholder-key"
)

// SupabaseConfig points the store at a Supabase project.
type SupabaseConfig struct {
	URL     string
	AnonKey string
	// Table defaults to "waitlist".
	Table string
}

// SupabaseStore talks to a Supabase table through its PostgREST API.
type SupabaseStore struct {
	baseURL string
	anonKey string
	table   string
	client  httpretry.HTTPDoer
	// writer sends inserts exactly once. A retried POST whose first attempt
	// committed would come back as a conflict on the user's own row.
	writer httpretry.HTTPDoer
}

// supabaseError is the PostgREST error body.
type supabaseError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *supabaseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("supabase: status %d", e.Status)
	}
	return fmt.Sprintf("supabase: status %d: %s (%s)", e.Status, e.Message, e.Code)
}

// NewSupabaseStore builds a store over client; a nil client gets the default
// retrying client. Reads go through client while inserts bypass its retries.
// Missing credentials are logged and replaced with
// placeholders so the process still starts, and every call then fails.
func NewSupabaseStore(cfg SupabaseConfig, client httpretry.HTTPDoer) *SupabaseStore {
	if cfg.URL == "" || cfg.AnonKey == "" {
		logger.Warn("supabase credentials not found, set SUPABASE_URL and SUPABASE_ANON_KEY")
	}
	if cfg.URL == "" {
		cfg.URL = placeholderSupabaseURL
	}
	if cfg.AnonKey == "" {
		cfg.AnonKey = placeholderSupabaseKey
	}
	if cfg.Table == "" {
		cfg.Table = "waitlist"
	}
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		table:   cfg.Table,
		client:  client,
		writer:  withoutRetries(client),
	}
}

func withoutRetries(client httpretry.HTTPDoer) httpretry.HTTPDoer {
	if rc, ok := client.(interface{ Unwrap() httpretry.HTTPDoer }); ok {
		return rc.Unwrap()
	}
	return client
}

func (s *SupabaseStore) Exists(ctx context.Context, email string) (bool, error) {
	q := url.Values{}
	q.Set("select", "email")
	q.Set("email", "eq."+email)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint()+"?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("building supabase request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("querying supabase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, decodeSupabaseError(resp)
	}

	var rows []struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return false, fmt.Errorf("decoding supabase response: %w", err)
	}
	return len(rows) > 0, nil
}

// Insert posts entry once. A conflict on the email column yields
// waitlist_gate.ErrDuplicate; a failed attempt is reported, never repeated.
func (s *SupabaseStore) Insert(ctx context.Context, entry waitlist_gate.Entry) error {
	body, err := json.Marshal([]map[string]string{{
		"email":      entry.Email,
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}})
	if err != nil {
		return fmt.Errorf("encoding waitlist entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building supabase request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.writer.Do(req)
	if err != nil {
		return fmt.Errorf("inserting into supabase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := decodeSupabaseError(resp)
	if apiErr.Status == http.StatusConflict || apiErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %v", waitlist_gate.ErrDuplicate, apiErr)
	}
	return apiErr
}

func (s *SupabaseStore) endpoint() string {
	return s.baseURL + "/rest/v1/" + url.PathEscape(s.table)
}

func (s *SupabaseStore) authorize(req *http.Request) {
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+s.anonKey)
}

func decodeSupabaseError(resp *http.Response) *supabaseError {
	apiErr := &supabaseError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if len(raw) > 0 && json.Unmarshal(raw, apiErr) != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
