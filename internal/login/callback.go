package login

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"
)

const DefaultCallbackTimeout = 2 * time.Minute

var ErrCallbackTimeout = errors.New("timed out waiting for the browser callback")

type callbackResult struct {
	code string
	err  error
}

// CallbackListener is a one-shot OAuth redirect receiver. It owns its port
// from Listen until Wait returns.
type CallbackListener struct {
	ln     net.Listener
	path   string
	state  string
	server *http.Server
	result chan callbackResult
}

// Listen binds addr and serves path, accepting only redirects carrying
// state.
func Listen(addr, path, state string) (*CallbackListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind callback listener on %s: %w", addr, err)
	}
	l := &CallbackListener{
		ln:     ln,
		path:   path,
		state:  state,
		result: make(chan callbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handle)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go l.server.Serve(ln)
	return l, nil
}

// Addr is the bound address, useful when listening on port 0.
func (l *CallbackListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("state") != l.state {
		writeOAuthHTML(w, http.StatusBadRequest, "State mismatch. Start the login again from the terminal.")
		return
	}
	if msg := q.Get("error"); msg != "" {
		if d := q.Get("error_description"); d != "" {
			msg += ": " + d
		}
		writeOAuthHTML(w, http.StatusForbidden, msg)
		l.deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", msg)})
		return
	}
	code := q.Get("code")
	if code == "" {
		writeOAuthHTML(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}
	writeOAuthHTML(w, http.StatusOK, "You can close this tab and return to the terminal.")
	l.deliver(callbackResult{code: code})
}

func (l *CallbackListener) deliver(r callbackResult) {
	select {
	case l.result <- r:
	default:
	}
}

// Wait blocks until a valid redirect arrives or ctx ends, then releases the
// port.
func (l *CallbackListener) Wait(ctx context.Context) (string, error) {
	defer l.Close()
	select {
	case r := <-l.result:
		return r.code, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrCallbackTimeout
		}
		return "", ctx.Err()
	}
}

func (l *CallbackListener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func writeOAuthHTML(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	status := "Login failed"
	color := "#b91c1c"
	if code == http.StatusOK {
		status = "Login successful"
		color = "#166534"
	}
	_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>llmeter</title></head><body style=\"font-family:Segoe UI,Arial,sans-serif;padding:24px;\"><h2 style=\"color:%s\">%s</h2><p>%s</p></body></html>", color, status, html.EscapeString(message))
}
