/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cachetest runs an in-process Redis stand-in for cache tests. It
// speaks enough RESP2 for the commands the cache and the Redis output
// transport issue. PUBLISH does not fan out; it records the message and
// reports the subscriber count set with SetSubscribers.
package cachetest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Server is a single-process key/value store reachable over TCP.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
	subs    map[string]int
	pubs    map[string][]string
	conns   map[net.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewServer starts a server on a loopback port. It is shut down with the
// test.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:      ln,
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
		subs:    make(map[string]int),
		pubs:    make(map[string][]string),
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Client returns a go-redis client connected to the server. Retries are off
// so a stopped server surfaces as an error on the first command.
func (s *Server) Client(t testing.TB) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:             s.Addr(),
		DisableIndentity: true,
		MaxRetries:       -1,
		DialTimeout:      time.Second,
		ReadTimeout:      time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Has reports whether key is stored.
func (s *Server) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// Set stores a raw value, bypassing the protocol.
func (s *Server) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	delete(s.expires, key)
}

// SetSubscribers sets the receiver count PUBLISH reports for channel.
func (s *Server) SetSubscribers(channel string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[channel] = n
}

// Published returns the messages published on channel, oldest first.
func (s *Server) Published(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pubs[channel]...)
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		s.exec(w, args)
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected request %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		head, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(head, "$") {
			return nil, fmt.Errorf("unexpected argument %q", head)
		}
		size, err := strconv.Atoi(head[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\r\n")
	if line == "" {
		return "", errors.New("empty line")
	}
	return line, nil
}

func (s *Server) exec(w *bufio.Writer, args []string) {
	if len(args) == 0 {
		writeError(w, "ERR empty command")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	switch strings.ToUpper(args[0]) {
	case "PING":
		fmt.Fprint(w, "+PONG\r\n")
	case "GET":
		if len(args) != 2 {
			writeError(w, "ERR wrong number of arguments for 'get'")
			return
		}
		v, ok := s.data[args[1]]
		if !ok {
			fmt.Fprint(w, "$-1\r\n")
			return
		}
		writeBulk(w, v)
	case "SET":
		s.set(w, args[1:])
	case "DEL":
		n := 0
		for _, key := range args[1:] {
			if _, ok := s.data[key]; ok {
				delete(s.data, key)
				delete(s.expires, key)
				n++
			}
		}
		fmt.Fprintf(w, ":%d\r\n", n)
	case "TTL":
		if len(args) != 2 {
			writeError(w, "ERR wrong number of arguments for 'ttl'")
			return
		}
		fmt.Fprintf(w, ":%d\r\n", s.ttlLocked(args[1]))
	case "PUBLISH":
		if len(args) != 3 {
			writeError(w, "ERR wrong number of arguments for 'publish'")
			return
		}
		s.pubs[args[1]] = append(s.pubs[args[1]], args[2])
		fmt.Fprintf(w, ":%d\r\n", s.subs[args[1]])
	case "SCAN":
		s.scan(w, args[1:])
	case "CLIENT", "SELECT":
		fmt.Fprint(w, "+OK\r\n")
	default:
		writeError(w, "ERR unknown command '"+args[0]+"'")
	}
}

func (s *Server) set(w *bufio.Writer, args []string) {
	if len(args) < 2 {
		writeError(w, "ERR wrong number of arguments for 'set'")
		return
	}
	key, value := args[0], args[1]
	var ttl time.Duration
	for i := 2; i+1 < len(args); i += 2 {
		n, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil {
			writeError(w, "ERR value is not an integer or out of range")
			return
		}
		switch strings.ToUpper(args[i]) {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		}
	}
	s.data[key] = value
	if ttl > 0 {
		s.expires[key] = time.Now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	fmt.Fprint(w, "+OK\r\n")
}

// scan returns every matching key in one page.
func (s *Server) scan(w *bufio.Writer, args []string) {
	pattern := "*"
	for i := 1; i+1 < len(args); i += 2 {
		if strings.EqualFold(args[i], "MATCH") {
			pattern = args[i+1]
		}
	}
	var keys []string
	for key := range s.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	fmt.Fprint(w, "*2\r\n")
	writeBulk(w, "0")
	fmt.Fprintf(w, "*%d\r\n", len(keys))
	for _, key := range keys {
		writeBulk(w, key)
	}
}

func (s *Server) ttlLocked(key string) int64 {
	if _, ok := s.data[key]; !ok {
		return -2
	}
	at, ok := s.expires[key]
	if !ok {
		return -1
	}
	return int64(time.Until(at).Round(time.Second) / time.Second)
}

func (s *Server) expireLocked() {
	now := time.Now()
	for key, at := range s.expires {
		if !now.Before(at) {
			delete(s.data, key)
			delete(s.expires, key)
		}
	}
}

func writeBulk(w *bufio.Writer, v string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v)
}

func writeError(w *bufio.Writer, msg string) {
	fmt.Fprintf(w, "-%s\r\n", msg)
}
