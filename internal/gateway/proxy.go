package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/satyanetra/satyanetra/internal/model"
	"github.com/satyanetra/satyanetra/pkg/satyanetra"
)

const snippetLen = 200

// Markers the hosting platform puts in a body when the backend ran out of time.
var timeoutMarkers = []string{"FUNCTION_INVOCATION_TIMEOUT", "TIMEOUT"}

const (
	msgBackendHTMLIngest = "The backend returned an error page instead of data. This usually means:\n\n" +
		"1. The backend URL is incorrect or the endpoint doesn't exist\n" +
		"2. The backend is experiencing issues\n" +
		"3. There's a routing problem\n\n" +
		"Please check the backend configuration or try Demo Mode."
	msgBackendHTML    = "Backend returned an error page. The endpoint may not exist or the backend is misconfigured."
	msgBackendTimeout = "The backend is taking too long to process this request. This usually happens when:\n\n" +
		"1. The product has many reviews to analyze\n" +
		"2. The backend is waking up from sleep\n" +
		"3. The AI analysis is taking longer than expected\n\n" +
		"Please try:\n" +
		"- A product with fewer reviews\n" +
		"- Waiting a minute and trying again\n" +
		"- Using Demo Mode to see how the app works"
	msgRequestTimeout = "The request took too long (>%d seconds). The backend may be processing a large number of reviews. " +
		"Please try a different product or use Demo Mode."
	msgNonJSON     = "Backend returned non-JSON response"
	msgRateLimited = "Too many analyses from this address. Please wait a minute and try again."
)

// route describes one forwarded backend call.
type route struct {
	name    string
	method  string
	path    string
	body    []byte
	timeout time.Duration
	// distinctTimeout reports the proxy's own deadline as request_timeout/504
	// instead of a generic proxy failure.
	distinctTimeout bool
	htmlMessage     string
}

// handleOptions answers OPTIONS with 204. CORS preflight headers are
// already set by the cors middleware, which passes preflights through.
func handleOptions(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL      any `json:"url"`
		Platform any `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.log.Warn("gateway: decode ingest body", zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, satyanetra.Envelope{
			Error:   satyanetra.CodeProxyError,
			Message: err.Error(),
		})
		return
	}

	rawURL, ok := body.URL.(string)
	if !ok || rawURL == "" {
		writeEnvelope(w, http.StatusBadRequest, satyanetra.Envelope{
			Error:   satyanetra.CodeMissingURL,
			Kind:    satyanetra.KindValidation,
			Message: "A product URL is required.",
		})
		return
	}

	if !g.limiter.Allow(clientKey(r)) {
		writeEnvelope(w, http.StatusTooManyRequests, satyanetra.Envelope{
			Error:   satyanetra.CodeRateLimited,
			Kind:    satyanetra.KindRateLimited,
			Message: msgRateLimited,
		})
		return
	}

	platform := body.Platform
	if platform == nil {
		platform = model.DefaultPlatform
	}
	payload, err := json.Marshal(map[string]any{"url": rawURL, "platform": platform})
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, satyanetra.Envelope{
			Error:   satyanetra.CodeProxyError,
			Message: err.Error(),
		})
		return
	}

	g.forward(w, r, route{
		name:            "ingest",
		method:          http.MethodPost,
		path:            "/api/ingest",
		body:            payload,
		timeout:         g.ingestTimeout,
		distinctTimeout: true,
		htmlMessage:     msgBackendHTMLIngest,
	})
}

func (g *Gateway) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	g.forward(w, r, route{
		name:        "job_status",
		method:      http.MethodGet,
		path:        "/api/score/status/" + url.PathEscape(jobID),
		timeout:     g.statusTimeout,
		htmlMessage: msgBackendHTML,
	})
}

func (g *Gateway) handleProductScore(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	g.forward(w, r, route{
		name:        "product_score",
		method:      http.MethodGet,
		path:        "/api/score/" + url.PathEscape(productID),
		timeout:     g.statusTimeout,
		htmlMessage: msgBackendHTML,
	})
}

// forward sends rt to the backend and writes the normalized answer.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, rt route) {
	log := g.log.With(
		zap.String("route", rt.name),
		zap.String("request_id", RequestIDFrom(r.Context())),
	)

	ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
	defer cancel()

	status, body, err := g.send(ctx, rt)
	if err != nil {
		if rt.distinctTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Error("gateway: backend request timed out", zap.Duration("timeout", rt.timeout))
			writeEnvelope(w, http.StatusGatewayTimeout, satyanetra.Envelope{
				Error:   satyanetra.CodeRequestTimeout,
				Kind:    satyanetra.KindTimeout,
				Message: fmt.Sprintf(msgRequestTimeout, int(rt.timeout.Seconds())),
			})
			return
		}
		log.Error("gateway: backend request failed", zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, satyanetra.Envelope{
			Error:   satyanetra.CodeProxyError,
			Kind:    satyanetra.KindNetwork,
			Message: "Failed to connect to backend: " + rootMessage(err),
		})
		return
	}

	log.Debug("gateway: backend response",
		zap.Int("status", status),
		zap.String("body", snippet(body)),
	)

	out := Normalize(status, body, rt.htmlMessage)
	if out.Envelope != nil {
		log.Warn("gateway: normalized backend response",
			zap.Int("backend_status", status),
			zap.String("code", out.Envelope.Error),
		)
		writeEnvelope(w, out.Status, *out.Envelope)
		return
	}
	writeRaw(w, out.Status, out.Body)
}

func (g *Gateway) send(ctx context.Context, rt route) (int, []byte, error) {
	var reader io.Reader
	if rt.body != nil {
		reader = bytes.NewReader(rt.body)
	}
	req, err := http.NewRequestWithContext(ctx, rt.method, g.backend+rt.path, reader)
	if err != nil {
		return 0, nil, eris.Wrap(err, "gateway: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set(requestIDHeader, id)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, eris.Wrap(err, "gateway: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, eris.Wrap(err, "gateway: read response body")
	}
	return resp.StatusCode, data, nil
}

// Normalized is the answer the gateway gives for one backend response:
// either the backend body relayed verbatim or a structured envelope.
type Normalized struct {
	Status   int
	Body     []byte
	Envelope *satyanetra.Envelope
}

// Normalize applies the gateway's response rules in order: HTML pages,
// timeout markers, JSON passthrough, then non-JSON fallbacks.
func Normalize(status int, body []byte, htmlMessage string) Normalized {
	text := strings.TrimSpace(string(body))

	if isHTML(text) {
		if htmlMessage == "" {
			htmlMessage = msgBackendHTML
		}
		return Normalized{
			Status: http.StatusBadGateway,
			Envelope: &satyanetra.Envelope{
				Error:   satyanetra.CodeBackendError,
				Kind:    satyanetra.KindBackendMalformed,
				Message: htmlMessage,
				Detail:  snippet(body),
			},
		}
	}

	for _, m := range timeoutMarkers {
		if strings.Contains(text, m) {
			return Normalized{
				Status: http.StatusGatewayTimeout,
				Envelope: &satyanetra.Envelope{
					Error:   satyanetra.CodeBackendTimeout,
					Kind:    satyanetra.KindTimeout,
					Message: msgBackendTimeout,
					Detail:  snippet(body),
				},
			}
		}
	}

	if json.Valid(body) {
		return Normalized{Status: status, Body: body}
	}

	if status < 200 || status >= 300 {
		msg := snippet(body)
		if msg == "" {
			msg = fmt.Sprintf("Backend returned %d", status)
		}
		return Normalized{
			Status: status,
			Envelope: &satyanetra.Envelope{
				Error:   satyanetra.CodeBackendError,
				Kind:    satyanetra.KindHTTP,
				Message: msg,
				Status:  status,
			},
		}
	}

	return Normalized{
		Status: http.StatusInternalServerError,
		Envelope: &satyanetra.Envelope{
			Error:   satyanetra.CodeInvalidResponse,
			Kind:    satyanetra.KindBackendMalformed,
			Message: msgNonJSON,
			Detail:  snippet(body),
		},
	}
}

func isHTML(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

// snippet returns at most the first snippetLen characters of body.
func snippet(body []byte) string {
	r := []rune(string(body))
	if len(r) > snippetLen {
		r = r[:snippetLen]
	}
	return string(r)
}

// rootMessage strips eris wrapping context down to the underlying cause.
func rootMessage(err error) string {
	if cause := eris.Cause(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

func writeEnvelope(w http.ResponseWriter, status int, env satyanetra.Envelope) {
	writeJSON(w, status, env)
}
