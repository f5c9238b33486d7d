package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

const maxOutput = 4096

// RegisterBuiltins installs the tasks available without any plugin code:
// shell.main, http.get, http.post, http.head and echo.main.
func RegisterBuiltins(t *Table, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	h := &httpTask{client: client}

	t.Register("shell", "main", Shell)
	t.Register("http", "get", h.do(http.MethodGet))
	t.Register("http", "post", h.do(http.MethodPost))
	t.Register("http", "head", h.do(http.MethodHead))
	t.Register("echo", "main", Echo)
}

// Echo returns its arguments unchanged.
func Echo(_ context.Context, args []any) (any, error) {
	if args == nil {
		return []any{}, nil
	}
	return args, nil
}

// Shell runs args[0] with the remaining args and reports its exit code and
// combined output. A non-zero exit is a failure.
func Shell(ctx context.Context, args []any) (any, error) {
	if len(args) == 0 {
		return nil, errors.New("shell task requires a command")
	}
	argv := stringArgs(args)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	output := truncate(strings.TrimSpace(string(out)))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command %q exited with status %d: %s", argv[0], exitErr.ExitCode(), output)
		}
		return nil, fmt.Errorf("failed to run command %q: %w", argv[0], err)
	}

	return map[string]any{
		"exitCode": 0,
		"output":   output,
	}, nil
}

type httpTask struct {
	client *http.Client
}

func (h *httpTask) do(method string) HandlerFunc {
	return func(ctx context.Context, args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("http %s requires a URL", strings.ToLower(method))
		}
		argv := stringArgs(args)

		var body io.Reader
		if method == http.MethodPost && len(argv) > 1 {
			body = bytes.NewBufferString(argv[1])
		}

		req, err := http.NewRequestWithContext(ctx, method, argv[0], body)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutput+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		text := truncate(string(data))

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%s %s returned %d: %s", method, argv[0], resp.StatusCode, text)
		}
		return map[string]any{
			"status": resp.StatusCode,
			"body":   text,
		}, nil
	}
}

func stringArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	cut := maxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
