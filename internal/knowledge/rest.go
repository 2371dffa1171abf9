package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single store round trip.
const DefaultTimeout = 10 * time.Second

// RESTConfig configures a PostgREST-compatible store (e.g. Supabase).
type RESTConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Tables  map[string]string
}

// RESTStore queries a PostgREST endpoint over HTTPS.
type RESTStore struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	tables  Tables
	client  *http.Client
	logger  *zap.Logger
}

// NewRESTStore creates a REST-backed store.
func NewRESTStore(cfg RESTConfig, logger *zap.Logger) *RESTStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &RESTStore{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		tables:  NewTables(cfg.Tables),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch implements Store.
func (s *RESTStore) Fetch(ctx context.Context, q Query) Result {
	start := time.Now()
	records, err := s.fetch(ctx, q)
	res := Result{Records: records, Elapsed: time.Since(start), Err: err, Source: "rest"}
	if err != nil {
		res.Records = nil
		s.logger.Warn("store fetch failed",
			zap.String("resource", q.Resource),
			zap.String("function", q.Function),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(err))
	}
	return res
}

func (s *RESTStore) fetch(ctx context.Context, q Query) ([]json.RawMessage, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		httpReq *http.Request
		err     error
	)
	if q.Function != "" {
		body, mErr := json.Marshal(rpcParams(q.RPC))
		if mErr != nil {
			return nil, fmt.Errorf("marshal rpc params: %w", mErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost,
			s.baseURL+"/rest/v1/rpc/"+q.Function, bytes.NewReader(body))
	} else {
		target, tErr := s.tableURL(q)
		if tErr != nil {
			return nil, tErr
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("apikey", s.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return splitRecords(body)
}

func (s *RESTStore) tableURL(q Query) (string, error) {
	table, err := s.tables.Resolve(q.Resource)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	if q.Filter != nil {
		params.Set(q.Filter.Field, "eq."+q.Filter.Value)
	}
	if len(q.Select) > 0 {
		params.Set("select", strings.Join(q.Select, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	target := s.baseURL + "/rest/v1/" + table
	if enc := params.Encode(); enc != "" {
		target += "?" + enc
	}
	return target, nil
}

func rpcParams(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return map[string]interface{}{}
	}
	return p
}

// splitRecords accepts either a JSON array of records or a single object,
// which PostgREST returns for scalar-returning functions.
func splitRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}
	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return records, nil
	case '{':
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected payload", ErrMalformedResponse)
	}
}
