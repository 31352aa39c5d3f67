package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

var ErrUnknownScheme = errors.New("no handler for URL scheme")

// URLHandler opens URLs of one scheme.
type URLHandler interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// URLHandlerFunc adapts a function to URLHandler.
type URLHandlerFunc func(ctx context.Context, u *url.URL) (io.ReadCloser, error)

func (fn URLHandlerFunc) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	return fn(ctx, u)
}

// fileHandler serves file:// URLs from the host file system.
var fileHandler = URLHandlerFunc(func(_ context.Context, u *url.URL) (io.ReadCloser, error) {
	return os.Open(u.Path)
})

// httpHandler fetches http(s) URLs through the proxy of the frame current
// in ctx.
var httpHandler = URLHandlerFunc(func(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client := &http.Client{Transport: &http.Transport{Proxy: ProxyForRequest(ctx)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u.Redacted(), resp.Status)
	}
	return resp.Body, nil
})

func defaultHandlers() map[string]URLHandler {
	return map[string]URLHandler{
		"file":  fileHandler,
		"http":  httpHandler,
		"https": httpHandler,
	}
}

// SetURLHandler installs a handler for scheme in this frame. Children forked
// earlier keep the handlers they were created with.
func (f *Frame) SetURLHandler(scheme string, h URLHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := make(map[string]URLHandler, len(f.handlers)+1)
	for k, v := range f.handlers {
		next[k] = v
	}
	if h == nil {
		delete(next, scheme)
	} else {
		next[scheme] = h
	}
	f.handlers = next
}

// URLHandler returns the handler for scheme.
func (f *Frame) URLHandler(scheme string) (URLHandler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handlers[scheme]
	return h, ok
}
