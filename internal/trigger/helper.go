package trigger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"bugbase/internal/template"
)

// maxHelperErrors bounds how many failed interactions a helper tolerates
// before giving up early, so one bad connection cannot hang a batch.
const maxHelperErrors = 20

// maxHelperBodySize limits how much of a response body a url helper reads.
const maxHelperBodySize = 10 * 1024 * 1024 // 10MB

// Value is the single result a helper worker reports. Valid is false
// when the worker finished its protocol but could not read a final
// value; a worker that was terminated or never connected reports
// nothing at all.
type Value struct {
	Num   int64
	Valid bool
}

// Helper is one concurrent client action against the server under test.
// Run returns the worker's single result, or an error when it has
// nothing to report (terminated, never connected). Helpers are created
// per run and not reused.
type Helper interface {
	Run(ctx context.Context) (Value, error)
}

// A preparer resets shared server state before the workers start.
type preparer interface {
	Prepare(ctx context.Context) error
}

// URLFetcher fetches a URL in a loop. The URL may contain an
// ${iteration} placeholder substituted per request. Its result is the
// number of completed fetches, or, when Extract is set, the value at
// that JSON path in the last response body.
type URLFetcher struct {
	URL        string
	Iterations int
	Client     *http.Client
	Limiter    *rate.Limiter // optional throttle, nil = unlimited
	Extract    string        // optional gjson path
}

func (f *URLFetcher) Run(ctx context.Context) (Value, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	errorCount := 0
	completed := 0
	var lastBody []byte

	for i := 0; i < f.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		if f.Limiter != nil {
			if err := f.Limiter.Wait(ctx); err != nil {
				return Value{}, err
			}
		}

		url, err := template.Substitute(f.URL, template.Variables{"iteration": i})
		if err != nil {
			return Value{}, err
		}

		body, err := f.fetch(ctx, client, url)
		if err != nil {
			errorCount++
			if errorCount > maxHelperErrors {
				break
			}
			continue
		}
		completed++
		lastBody = body
	}

	if f.Extract != "" {
		if lastBody == nil {
			return Value{}, nil
		}
		res := gjson.GetBytes(lastBody, f.Extract)
		if !res.Exists() {
			return Value{}, nil
		}
		return Value{Num: res.Int(), Valid: true}, nil
	}
	return Value{Num: int64(completed), Valid: true}, nil
}

func (f *URLFetcher) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxHelperBodySize))
	_, _ = io.Copy(io.Discard, resp.Body) // drain errors are ignorable
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return body, nil
}

// CounterClient increments a shared counter on the server under test
// over a line-based text protocol ("set k v" / "incr k" / "get k") and
// reports the final counter value it observes. Increment errors are
// tolerated: the tested bug makes concurrent increments race, and the
// classification downstream distinguishes that case.
type CounterClient struct {
	Addr       string
	Key        string
	Iterations int
	OpTimeout  time.Duration // per-operation deadline, defaults to 5s
}

func (c *CounterClient) opTimeout() time.Duration {
	if c.OpTimeout > 0 {
		return c.OpTimeout
	}
	return 5 * time.Second
}

// Prepare resets the counter to zero over its own short connection.
func (c *CounterClient) Prepare(ctx context.Context) error {
	conn, reader, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("preparing counter %q: %w", c.Key, err)
	}
	defer conn.Close()

	if _, err := c.roundTrip(conn, reader, fmt.Sprintf("set %s 0", c.Key)); err != nil {
		return fmt.Errorf("resetting counter %q: %w", c.Key, err)
	}
	return nil
}

func (c *CounterClient) Run(ctx context.Context) (Value, error) {
	conn, reader, err := c.dial(ctx)
	if err != nil {
		return Value{}, err
	}
	defer conn.Close()

	for i := 0; i < c.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		// Failed increments are expected under the race being triggered.
		_, _ = c.roundTrip(conn, reader, "incr "+c.Key)
	}

	reply, err := c.roundTrip(conn, reader, "get "+c.Key)
	if err != nil {
		return Value{}, nil // finished the protocol, no readable final value
	}
	n, err := strconv.ParseInt(strings.TrimSpace(reply), 10, 64)
	if err != nil {
		return Value{}, nil
	}
	return Value{Num: n, Valid: true}, nil
}

func (c *CounterClient) dial(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, nil, err
	}
	return conn, bufio.NewReader(conn), nil
}

func (c *CounterClient) roundTrip(conn net.Conn, reader *bufio.Reader, line string) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(c.opTimeout())); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return "", err
	}
	reply, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "ERROR") {
		return "", fmt.Errorf("server error for %q", line)
	}
	return reply, nil
}
