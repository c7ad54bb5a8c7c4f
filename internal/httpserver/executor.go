package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/eventbus"
	"github.com/httpmock/interceptor/internal/model"
	"github.com/httpmock/interceptor/internal/rules"
	"github.com/httpmock/interceptor/internal/transform"
)

// upstreamError distinguishes a failed passthrough/forward-to hop (502) from
// any other step-execution failure (500), per the error taxonomy in §7.
type upstreamError struct{ err error }

func (u *upstreamError) Error() string { return u.err.Error() }
func (u *upstreamError) Unwrap() error { return u.err }

type abortEvent struct {
	RequestID string
	Err       error
}

// outcome is what executing a matched rule's step yields: a response to
// write, or an instruction to close the connection / hold it open silently.
type outcome struct {
	response  *model.Response
	closeConn bool
	timeout   bool
}

func defaultReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// processRequest runs the full match-execute-emit flow for one request,
// matching the event ordering in §4.7: request fires as soon as the request
// is parsed, then either response or abort fires once the outcome is known.
func (s *Server) processRequest(ctx context.Context, req *model.Request, dest *dispatcher.Destination, scheme model.Scheme) outcome {
	s.Bus.Emit(eventbus.EventRequest, req)

	rule := s.Rules.Match(req)
	if rule == nil {
		body := s.Rules.ExplainNoMatch(req)
		resp := &model.Response{
			RequestID:     req.ID,
			StatusCode:    http.StatusServiceUnavailable,
			StatusMessage: http.StatusText(http.StatusServiceUnavailable),
			Headers:       model.NewHeaders([]model.HeaderField{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}}),
			Body:          model.NewBody([]byte(body), "text/plain"),
		}
		s.Bus.Emit(eventbus.EventResponse, resp)
		return outcome{response: resp}
	}
	req.MatchedRuleID = rule.ID

	resp, closeConn, timeout, err := s.executeStep(ctx, req, dest, scheme, rule.Step)
	if err != nil {
		if ctx.Err() != nil {
			// The downstream client went away before a response was ready.
			s.Bus.Emit(eventbus.EventAbort, abortEvent{RequestID: req.ID, Err: err})
			return outcome{closeConn: true}
		}
		resp = errorResponse(req.ID, err)
		s.Bus.Emit(eventbus.EventResponse, resp)
		return outcome{response: resp}
	}
	if closeConn || timeout {
		return outcome{closeConn: closeConn, timeout: timeout}
	}
	s.Bus.Emit(eventbus.EventResponse, resp)
	return outcome{response: resp}
}

func errorResponse(requestID string, err error) *model.Response {
	status := http.StatusInternalServerError
	if _, ok := err.(*upstreamError); ok {
		status = http.StatusBadGateway
	}
	return &model.Response{
		RequestID:     requestID,
		StatusCode:    status,
		StatusMessage: http.StatusText(status),
		Headers:       model.NewHeaders([]model.HeaderField{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}}),
		Body:          model.NewBody([]byte(err.Error()), "text/plain"),
	}
}

// executeStep carries out whichever step variant the matched rule attached,
// per the per-step behaviours summarised in §3/§4.4/§4.5.
func (s *Server) executeStep(ctx context.Context, req *model.Request, dest *dispatcher.Destination, scheme model.Scheme, step rules.HTTPStep) (*model.Response, bool, bool, error) {
	switch st := step.(type) {
	case *rules.FixedResponseStep:
		body, err := st.Body.Resolve(s.readFile())
		if err != nil {
			return nil, false, false, err
		}
		headers := model.NewHeaders(st.Headers)
		var trailers *model.Headers
		if len(st.Trailers) > 0 {
			trailers = model.NewHeaders(st.Trailers)
		}
		return &model.Response{
			RequestID:     req.ID,
			StatusCode:    st.StatusCode,
			StatusMessage: st.StatusMessage,
			Headers:       headers,
			Trailers:      trailers,
			Body:          model.NewBody(body, headers.Get("Content-Type")),
		}, false, false, nil

	case *rules.JSONStep:
		data, err := json.Marshal(st.Value)
		if err != nil {
			return nil, false, false, err
		}
		headers := model.NewHeaders([]model.HeaderField{{Name: "Content-Type", Value: "application/json"}})
		return &model.Response{
			RequestID:  req.ID,
			StatusCode: st.StatusCode,
			Headers:    headers,
			Body:       model.NewBody(data, "application/json"),
		}, false, false, nil

	case *rules.CallbackStep:
		resp, err := st.Callback(req)
		if err != nil {
			return nil, false, false, err
		}
		return resp, false, false, nil

	case *rules.StreamStep:
		body, err := st.Body.Resolve(s.readFile())
		if err != nil {
			return nil, false, false, err
		}
		headers := model.NewHeaders(st.Headers)
		return &model.Response{
			RequestID:  req.ID,
			StatusCode: st.StatusCode,
			Headers:    headers,
			Body:       model.NewBody(body, headers.Get("Content-Type")),
		}, false, false, nil

	case *rules.ForwardToStep:
		passStep := &rules.PassthroughStep{
			TransformRequest: &transform.Spec{
				ReplaceHost: &transform.HostReplacement{Target: st.TargetHost, UpdateHostHeader: st.UpdateHostHeader},
			},
		}
		result := s.Pipeline.Execute(ctx, req, st.TargetScheme, st.TargetHost, st.TargetPort, passStep)
		if result.Err != nil {
			return nil, false, false, &upstreamError{err: result.Err}
		}
		return result.Response, false, false, nil

	case *rules.PassthroughStep:
		result := s.Pipeline.Execute(ctx, req, string(scheme), req.Host, req.Port, st)
		if result.Err != nil {
			return nil, false, false, &upstreamError{err: result.Err}
		}
		return result.Response, false, false, nil

	case *rules.CloseConnectionStep:
		return nil, true, false, nil

	case *rules.TimeoutStep:
		return nil, false, true, nil

	case *rules.DelayStep:
		timer := time.NewTimer(st.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, false, false, ctx.Err()
		}
		inner, ok := st.Inner.(rules.HTTPStep)
		if !ok {
			return nil, false, false, fmt.Errorf("httpserver: delay step's inner step is not an http step")
		}
		return s.executeStep(ctx, req, dest, scheme, inner)

	default:
		return nil, false, false, fmt.Errorf("httpserver: unrecognised step type %T", step)
	}
}

func (s *Server) readFile() func(string) ([]byte, error) {
	if s.ReadFile != nil {
		return s.ReadFile
	}
	return defaultReadFile
}
