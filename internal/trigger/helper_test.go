package trigger

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// counterServer is a minimal in-test rendition of the line protocol the
// counter helper speaks.
type counterServer struct {
	ln net.Listener

	mu     sync.Mutex
	values map[string]int64
	racy   bool // drop every other increment, like the bug under test
	calls  int
}

func startCounterServer(t *testing.T, racy bool) *counterServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &counterServer{ln: ln, values: make(map[string]int64), racy: racy}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *counterServer) addr() string { return s.ln.Addr().String() }

func (s *counterServer) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			fmt.Fprintf(conn, "ERROR\n")
			continue
		}
		s.mu.Lock()
		switch fields[0] {
		case "set":
			if len(fields) < 3 {
				fmt.Fprintf(conn, "ERROR\n")
				s.mu.Unlock()
				continue
			}
			v, _ := strconv.ParseInt(fields[2], 10, 64)
			s.values[fields[1]] = v
			fmt.Fprintf(conn, "STORED\n")
		case "incr":
			s.calls++
			if s.racy && s.calls%2 == 0 {
				// Lost update: acknowledge without incrementing.
				fmt.Fprintf(conn, "%d\n", s.values[fields[1]])
				break
			}
			s.values[fields[1]]++
			fmt.Fprintf(conn, "%d\n", s.values[fields[1]])
		case "get":
			fmt.Fprintf(conn, "%d\n", s.values[fields[1]])
		default:
			fmt.Fprintf(conn, "ERROR\n")
		}
		s.mu.Unlock()
	}
}

func TestCounterClient_ReachesTarget(t *testing.T) {
	srv := startCounterServer(t, false)
	c := &CounterClient{Addr: srv.addr(), Key: "test", Iterations: 50}

	if err := c.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	v, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Valid || v.Num != 50 {
		t.Errorf("expected valid 50, got %+v", v)
	}
}

func TestCounterClient_LostUpdatesStillReport(t *testing.T) {
	srv := startCounterServer(t, true)
	c := &CounterClient{Addr: srv.addr(), Key: "test", Iterations: 50}

	if err := c.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	v, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Valid {
		t.Fatal("expected a valid report despite lost updates")
	}
	if v.Num >= 50 {
		t.Errorf("expected under-counted value, got %d", v.Num)
	}
}

func TestCounterClient_NoServer(t *testing.T) {
	c := &CounterClient{Addr: "127.0.0.1:1", Key: "test", Iterations: 1}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error when nothing listens")
	}
}

func TestURLFetcher_CountsCompletions(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.RawQuery] = true
		mu.Unlock()
	}))
	defer ts.Close()

	f := &URLFetcher{URL: ts.URL + "/?i=${iteration}", Iterations: 5}
	v, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Valid || v.Num != 5 {
		t.Errorf("expected valid 5 completions, got %+v", v)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 5; i++ {
		if !seen[fmt.Sprintf("i=%d", i)] {
			t.Errorf("iteration %d was not substituted into the URL", i)
		}
	}
}

func TestURLFetcher_Extract(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stats":{"count":42}}`)
	}))
	defer ts.Close()

	f := &URLFetcher{URL: ts.URL, Iterations: 3, Extract: "stats.count"}
	v, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Valid || v.Num != 42 {
		t.Errorf("expected extracted 42, got %+v", v)
	}
}

func TestURLFetcher_ExtractMissingPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer ts.Close()

	f := &URLFetcher{URL: ts.URL, Iterations: 1, Extract: "stats.count"}
	v, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Valid {
		t.Errorf("expected invalid value for missing path, got %+v", v)
	}
}

func TestURLFetcher_ServerErrorsNotCounted(t *testing.T) {
	n := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		if n%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer ts.Close()

	f := &URLFetcher{URL: ts.URL, Iterations: 6}
	v, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.Valid || v.Num != 3 {
		t.Errorf("expected 3 completions, got %+v", v)
	}
}
