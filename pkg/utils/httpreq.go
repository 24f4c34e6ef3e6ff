package utils

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const EnvAPIAddr = "TELEMETRY_API_ADDR"

type reqOpts struct {
	addr   string
	method string
	query  string
	body   io.Reader
}

type ReqOpt func(opts *reqOpts)

func WithReqAddr(addr string) ReqOpt {
	return func(opts *reqOpts) {
		if !strings.HasPrefix(addr, "http") {
			opts.addr = "http://" + addr
		} else {
			opts.addr = addr
		}
	}
}

func WithReqMethod(method string) ReqOpt {
	return func(opts *reqOpts) { opts.method = method }
}

func WithReqQuery(s string) ReqOpt {
	return func(opts *reqOpts) {
		if s == "" {
			return
		}
		if opts.query != "" {
			opts.query = fmt.Sprintf("%s&%s", opts.query, s)
		} else {
			opts.query = s
		}
	}
}

func WithReqQueryKV(k string, v any) ReqOpt {
	return WithReqQuery(url.Values{k: []string{fmt.Sprint(v)}}.Encode())
}

func WithReqBody(body io.Reader) ReqOpt {
	return func(opts *reqOpts) { opts.body = body }
}

type BodyToValue[T any] func(body []byte) (*T, error)

func NewHTTPRequestMessage[T any](uri string, b2v BodyToValue[T], opts ...ReqOpt) (*T, error) {
	resp, err := NewHTTPRequest(uri, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}
	VerbosePrintln("")
	VerbosePrintln(addPrefixToHTTPLine(string(data), "< "))

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return b2v(data)
}

func NewHTTPRequest(uri string, opts ...ReqOpt) (*http.Response, error) {
	var o reqOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.method == "" {
		o.method = http.MethodGet
	}

	// Env overrides the address given by the caller.
	if addr := os.Getenv(EnvAPIAddr); addr != "" {
		WithReqAddr(addr)(&o)
	}
	if o.addr == "" {
		return nil, errors.New("empty api address")
	}

	return newHTTPReq(uri, &o)
}

func newHTTPReq(reqURI string, opts *reqOpts) (*http.Response, error) {
	reqURI, err := url.JoinPath(opts.addr, reqURI)
	if err != nil {
		return nil, err
	}

	reqURL := reqURI
	if opts.query != "" {
		reqURL = fmt.Sprintf("%s?%s", reqURI, opts.query)
	}
	req, err := http.NewRequest(opts.method, reqURL, opts.body)
	if err != nil {
		return nil, err
	}
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := httputil.DumpRequest(req, true)
	if err != nil {
		return nil, err
	}
	VerbosePrintln(addPrefixToHTTPLine(string(data), "> "))

	client := http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
		Timeout: time.Second * 10,
	}
	return client.Do(req)
}

func addPrefixToHTTPLine(s, prefix string) string {
	lines := strings.Split(s, "\r\n")
	for k, line := range lines {
		lines[k] = prefix + line
	}
	return strings.Join(lines, "\r\n")
}
