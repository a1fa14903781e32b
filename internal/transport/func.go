package transport

import "context"

// Func adapts a single function into a Client. Tests script backends with it.
type Func func(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error)

func (f Func) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return f(ctx, "GET", url, headers, nil)
}

func (f Func) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return f(ctx, "POST", url, headers, body)
}
