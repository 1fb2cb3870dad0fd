// Package gcpclients holds the REST adapters for the Google Cloud APIs the
// service depends on: Resource Manager for policy reads and writes, Asset
// Inventory for eligibility discovery, Cloud Identity for group expansion,
// IAM Credentials for token signing, and Pub/Sub for event publication.
// Every adapter authenticates with application default credentials and runs
// its calls through a per-service circuit breaker.
package gcpclients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/google"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// requestReasonHeader attributes a policy mutation in the cloud audit log.
const requestReasonHeader = "x-goog-request-reason"

const defaultTimeout = 20 * time.Second

// errEtagConflict marks a write rejected because the policy changed since
// the corresponding read.
var errEtagConflict = errors.New("policy etag conflict")

// restClient is the shared transport: an authenticated HTTP client plus a
// circuit breaker scoped to one upstream service.
type restClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient builds an HTTP client authenticated with application
// default credentials and the cloud-platform scope.
func NewHTTPClient(ctx context.Context) (*http.Client, error) {
	client, err := google.DefaultClient(ctx, cloudPlatformScope)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "application default credentials are not available")
	}
	client.Timeout = defaultTimeout
	return client, nil
}

func newRESTClient(httpClient *http.Client, service string) *restClient {
	return &restClient{
		http: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    service,
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// do performs one JSON request. in may be nil for bodyless requests, out
// may be nil when the response body is irrelevant. Transport failures and
// 5xx responses count against the breaker; client errors do not.
func (c *restClient) do(ctx context.Context, method, url string, in, out any, requestReason string) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "encoding the request body failed")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "building the request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	if requestReason != "" {
		req.Header.Set(requestReasonHeader, requestReason)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%s responded with status %d", c.breaker.Name(), resp.StatusCode)
		}
		return &restResponse{status: resp.StatusCode, payload: payload}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.Wrap(apperr.Unavailable, err, "%s is temporarily unavailable", c.breaker.Name())
		}
		return apperr.Wrap(apperr.Unavailable, err, "calling %s failed", c.breaker.Name())
	}

	resp := result.(*restResponse)
	if resp.status >= 400 {
		return mapStatus(resp.status, c.breaker.Name(), resp.payload)
	}
	if out != nil {
		if err := json.Unmarshal(resp.payload, out); err != nil {
			return apperr.Wrap(apperr.Internal, err, "decoding the %s response failed", c.breaker.Name())
		}
	}
	return nil
}

type restResponse struct {
	status  int
	payload []byte
}

// mapStatus converts an HTTP error status into the application error
// taxonomy. Etag conflicts stay classifiable for the provisioning retry
// loop.
func mapStatus(status int, service string, payload []byte) error {
	detail := errorDetail(payload)
	switch status {
	case http.StatusUnauthorized:
		return apperr.New(apperr.Unauthenticated, "%s rejected the credentials: %s", service, detail)
	case http.StatusForbidden:
		return apperr.New(apperr.AccessDenied, "%s denied the request: %s", service, detail)
	case http.StatusNotFound:
		return apperr.New(apperr.NotFound, "%s: %s", service, detail)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return apperr.Wrap(apperr.AlreadyExists, errEtagConflict, "%s: %s", service, detail)
	case http.StatusTooManyRequests:
		return apperr.New(apperr.QuotaExceeded, "%s quota exhausted: %s", service, detail)
	default:
		if status >= 500 {
			return apperr.New(apperr.Unavailable, "%s responded with status %d: %s", service, status, detail)
		}
		return apperr.New(apperr.InvalidArgument, "%s rejected the request: %s", service, detail)
	}
}

// errorDetail extracts the message of a googleapis error envelope.
func errorDetail(payload []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(payload) == 0 {
		return "no error detail"
	}
	if len(payload) > 200 {
		payload = payload[:200]
	}
	return string(payload)
}
