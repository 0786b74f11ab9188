package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
)

const (
	maxResponseBytes = 32 << 20
	maxErrorBody     = 2048
)

type response struct {
	status      int
	contentType string
	body        []byte
}

func (r *response) isImage() bool {
	if strings.HasPrefix(r.contentType, "image/") {
		return true
	}
	return strings.HasPrefix(imageref.DetectMIME(r.body), "image/")
}

func (r *response) isJSON() bool {
	return strings.Contains(r.contentType, "json") || json.Valid(r.body)
}

// send performs req and maps the status code onto failure kinds. describe
// extracts a human message from a vendor error body; it may return "".
func send(client *http.Client, req *http.Request, op string, describe func([]byte) string) (*response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failure.Wrap(failure.VendorError, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, failure.Wrap(failure.VendorError, op, "read response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return &response{
			status:      resp.StatusCode,
			contentType: strings.ToLower(resp.Header.Get("Content-Type")),
			body:        body,
		}, nil
	}

	msg := ""
	if describe != nil {
		msg = describe(body)
	}
	e := &failure.Error{
		Op:         op,
		Message:    msg,
		StatusCode: resp.StatusCode,
		Body:       truncate(string(body), maxErrorBody),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = failure.Unauthorized
		if e.Message == "" {
			e.Message = "credentials rejected"
		}
	case http.StatusTooManyRequests:
		e.Kind = failure.RateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if e.Message == "" {
			e.Message = "rate limited"
		}
	default:
		e.Kind = failure.VendorError
		if e.Message == "" {
			e.Message = "unexpected response"
		}
	}
	return nil, e
}

// decodeImage turns a 2xx body into a reference: raw image bytes go
// straight to the converter, JSON bodies are handed to extract, which
// returns either a base64 payload or a hosted URL.
func decodeImage(ctx context.Context, conv *imageref.Converter, op string, resp *response, extract func([]byte) (b64, url string)) (imageref.Ref, error) {
	var (
		ref imageref.Ref
		err error
	)

	switch {
	case resp.isImage():
		ref, err = conv.FromBytes(resp.body)
	case extract != nil && resp.isJSON():
		b64, url := extract(resp.body)
		switch {
		case b64 != "":
			ref, err = conv.FromBase64(b64)
		case url != "":
			ref, err = conv.FromRemote(ctx, url)
		default:
			return imageref.Ref{}, &failure.Error{
				Kind:    failure.DecodeFailure,
				Op:      op,
				Message: "no output image in response",
				Body:    truncate(string(resp.body), maxErrorBody),
			}
		}
	default:
		return imageref.Ref{}, failure.New(failure.DecodeFailure, op, fmt.Sprintf("unexpected content type %q", resp.contentType))
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return imageref.Ref{}, err
		}
		return imageref.Ref{}, failure.Wrap(failure.DecodeFailure, op, "convert response image", err)
	}
	return ref, nil
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
