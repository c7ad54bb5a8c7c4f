package httpserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/model"
)

// toModelRequest builds the unified Request snapshot from a parsed
// net/http request plus the dispatcher's default-destination context,
// matching the fields named in §3.
func toModelRequest(r *http.Request, dest *dispatcher.Destination, scheme model.Scheme, proto model.Protocol) (*model.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()

	host, port := requestAuthority(r, dest, scheme)

	var fields []model.HeaderField
	for name, values := range r.Header {
		for _, v := range values {
			fields = append(fields, model.HeaderField{Name: name, Value: v})
		}
	}
	headers := model.NewHeaders(fields)

	var trailers *model.Headers
	if len(r.Trailer) > 0 {
		var tf []model.HeaderField
		for name, values := range r.Trailer {
			for _, v := range values {
				tf = append(tf, model.HeaderField{Name: name, Value: v})
			}
		}
		trailers = model.NewHeaders(tf)
	}

	req := &model.Request{
		ID:       model.NewRequestID(),
		Protocol: proto,
		Scheme:   scheme,
		Method:   r.Method,
		Host:     host,
		Port:     port,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Headers:  headers,
		Trailers: trailers,
		Body:     model.NewBody(body, headers.Get("Content-Type")),
		Tags:     map[string]string{},
	}
	req.Timing.Start = nowFunc()
	req.Timing.BodyReceived = nowFunc()
	return req, nil
}

func requestAuthority(r *http.Request, dest *dispatcher.Destination, scheme model.Scheme) (string, int) {
	authority := r.Host
	if authority == "" && dest != nil {
		authority = dest.Host
	}
	host, portStr, err := splitAuthority(authority)
	if err != nil {
		port := defaultPortFor(scheme)
		if dest != nil && dest.Port != 0 {
			port = dest.Port
		}
		return authority, port
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil {
		port = defaultPortFor(scheme)
	}
	return host, port
}

func splitAuthority(authority string) (string, string, error) {
	for i := len(authority) - 1; i >= 0; i-- {
		if authority[i] == ':' {
			return authority[:i], authority[i+1:], nil
		}
		if authority[i] == ']' { // IPv6 literal with no port
			break
		}
	}
	return "", "", errNoPort
}

var errNoPort = httpNoPortError{}

type httpNoPortError struct{}

func (httpNoPortError) Error() string { return "no port in authority" }

func defaultPortFor(scheme model.Scheme) int {
	switch scheme {
	case model.SchemeHTTPS, model.SchemeWSS:
		return 443
	default:
		return 80
	}
}

// writeModelResponse renders a Response back onto the wire using the
// client's HTTP version, applying the default-header policy from §4.4:
// "Date, Transfer-Encoding: chunked" are injected whenever the step
// supplied no headers of its own; when the step supplies any explicit
// headers, no defaults are injected and framing is by Content-Length.
func writeModelResponse(w io.Writer, resp *model.Response, protoMajor, protoMinor int) error {
	headers := resp.Headers
	useDefaults := headers == nil || len(headers.Raw()) == 0
	if useDefaults {
		headers = model.NewHeaders([]model.HeaderField{
			{Name: "Date", Value: nowFunc().UTC().Format(http.TimeFormat)},
		})
	}

	httpResp := &http.Response{
		StatusCode: resp.StatusCode,
		Status:     statusLine(resp.StatusCode, resp.StatusMessage),
		ProtoMajor: protoMajor,
		ProtoMinor: protoMinor,
		Header:     headersToHTTP(headers),
	}
	body := resp.Body.Buffer()
	if useDefaults {
		// http.Response.Write decides chunked-vs-Content-Length framing from
		// the TransferEncoding field, not from a literal header entry; set
		// it directly and leave ContentLength unknown (-1) so Write emits
		// "Transfer-Encoding: chunked" itself rather than Content-Length.
		httpResp.TransferEncoding = []string{"chunked"}
		httpResp.ContentLength = -1
	} else {
		httpResp.ContentLength = int64(len(body))
	}
	httpResp.Body = io.NopCloser(newBytesReader(body))

	return httpResp.Write(w)
}

func statusLine(code int, message string) string {
	if message == "" {
		message = http.StatusText(code)
	}
	return strconv.Itoa(code) + " " + message
}

func headersToHTTP(h *model.Headers) http.Header {
	out := make(http.Header)
	for _, f := range h.Raw() {
		out.Add(f.Name, f.Value)
	}
	return out
}
