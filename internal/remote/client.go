package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxlog/voxsync/internal/record"
)

// requestTimeout is deliberately long: a single save may carry a large audio
// payload, so per-call timeouts are measured in minutes, not seconds.
const requestTimeout = 30 * time.Minute

// Client is the HTTP implementation of [Store], speaking the record-store
// wire API:
//
//	PUT    /v1/records/{name}   save (409 on version conflict)
//	GET    /v1/records/{name}   fetch
//	DELETE /v1/records/{name}   delete
//	GET    /v1/records?type=T   best-effort filtered query
//	GET    /v1/changes          zone change feed (every live record)
//	GET    /v1/account          account status probe
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the record store at baseURL, authenticating
// with the given bearer token.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: requestTimeout},
		log:     logger,
	}
}

// Save implements Store.Save.
func (c *Client) Save(ctx context.Context, rec *record.Remote) (*record.Remote, error) {
	body, err := json.Marshal(toWire(rec))
	if err != nil {
		return nil, fmt.Errorf("encoding record %q: %w", rec.Name, err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/v1/records/"+url.PathEscape(rec.Name), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(resp)
	}

	var wr wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, &StoreError{Kind: KindPermanent, Msg: "malformed save response", Err: err}
	}
	return fromWire(&wr), nil
}

// Delete implements Store.Delete.
func (c *Client) Delete(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/records/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError(resp)
	}
	return nil
}

// Fetch implements Store.Fetch. Absent records return (nil, nil).
func (c *Client) Fetch(ctx context.Context, name string) (*record.Remote, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var wr wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, &StoreError{Kind: KindPermanent, Msg: "malformed fetch response", Err: err}
	}
	return fromWire(&wr), nil
}

// Query implements Store.Query. Best-effort: servers without a query index
// for the type report it, which surfaces here as a StoreError the discovery
// tiers fall through.
func (c *Client) Query(ctx context.Context, recordType string) ([]*record.Remote, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/records?type="+url.QueryEscape(recordType), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var body struct {
		Records []wireRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &StoreError{Kind: KindPermanent, Msg: "malformed query response", Err: err}
	}

	out := make([]*record.Remote, 0, len(body.Records))
	for i := range body.Records {
		out = append(out, fromWire(&body.Records[i]))
	}
	return out, nil
}

// ZoneChanges implements Store.ZoneChanges. The change feed is decoded as a
// stream so large zones never buffer fully in memory.
func (c *Client) ZoneChanges(ctx context.Context, fn func(*record.Remote) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/changes", nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	// Opening bracket of the record array.
	if _, err := dec.Token(); err != nil {
		return &StoreError{Kind: KindPermanent, Msg: "malformed change feed", Err: err}
	}
	for dec.More() {
		var wr wireRecord
		if err := dec.Decode(&wr); err != nil {
			return &StoreError{Kind: KindPermanent, Msg: "malformed change feed entry", Err: err}
		}
		if err := fn(fromWire(&wr)); err != nil {
			return err
		}
	}
	return nil
}

// AccountStatus implements Store.AccountStatus.
func (c *Client) AccountStatus(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/account", nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return c.statusError(resp)
}

// --- transport ---------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &StoreError{Kind: KindPermanent, Msg: "building request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &StoreError{Kind: KindUnavailable, Msg: "request cancelled", Err: err}
		}
		// Connection-level failures are transient network errors.
		return nil, &StoreError{Kind: KindTransient, Msg: "network error", Err: err}
	}
	return resp, nil
}

// statusError maps an HTTP failure status to the store error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return &StoreError{Kind: KindVersionConflict, Msg: msg}

	case resp.StatusCode == http.StatusNotFound:
		return &StoreError{Kind: KindNotFound, Msg: msg}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &StoreError{Kind: KindAccount, Msg: msg}

	case resp.StatusCode == http.StatusUnprocessableEntity && body.Code == "unknown-record-type":
		return &StoreError{Kind: KindUnknownType, Msg: msg}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &StoreError{Kind: KindTransient, Msg: msg, RetryAfter: retryAfter(resp)}

	case resp.StatusCode == http.StatusServiceUnavailable:
		return &StoreError{Kind: KindUnavailable, Msg: msg, RetryAfter: retryAfter(resp)}

	case resp.StatusCode >= 500:
		return &StoreError{Kind: KindTransient, Msg: msg}

	default:
		return &StoreError{Kind: KindPermanent, Msg: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

// --- wire encoding -----------------------------------------------------------

// wireValue is the self-describing JSON encoding of a single field value.
// Exactly one member is set.
type wireValue struct {
	S *string    `json:"s,omitempty"`
	I *int64     `json:"i,omitempty"`
	F *float64   `json:"f,omitempty"`
	B *bool      `json:"b,omitempty"`
	D []byte     `json:"d,omitempty"`
	T *time.Time `json:"t,omitempty"`
}

type wireRecord struct {
	Name   string               `json:"name"`
	Type   string               `json:"type"`
	Fields map[string]wireValue `json:"fields"`
}

func toWire(rec *record.Remote) *wireRecord {
	wr := &wireRecord{Name: rec.Name, Type: rec.Type, Fields: make(map[string]wireValue, len(rec.Fields))}
	for k, v := range rec.Fields {
		switch tv := v.(type) {
		case string:
			wr.Fields[k] = wireValue{S: &tv}
		case int64:
			wr.Fields[k] = wireValue{I: &tv}
		case float64:
			wr.Fields[k] = wireValue{F: &tv}
		case bool:
			wr.Fields[k] = wireValue{B: &tv}
		case []byte:
			wr.Fields[k] = wireValue{D: tv}
		case time.Time:
			t := tv.UTC()
			wr.Fields[k] = wireValue{T: &t}
		}
	}
	return wr
}

func fromWire(wr *wireRecord) *record.Remote {
	rec := record.New(wr.Name, wr.Type)
	for k, v := range wr.Fields {
		switch {
		case v.S != nil:
			rec.Fields[k] = *v.S
		case v.I != nil:
			rec.Fields[k] = *v.I
		case v.F != nil:
			rec.Fields[k] = *v.F
		case v.B != nil:
			rec.Fields[k] = *v.B
		case v.D != nil:
			rec.Fields[k] = v.D
		case v.T != nil:
			rec.Fields[k] = v.T.UTC()
		}
	}
	return rec
}
