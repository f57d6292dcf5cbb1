package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lrucache/v1/presets"
)

func proxyCmd(a *app) *cobra.Command {
	var (
		addr    string
		backend string
	)
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the cache over the Redis protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCache(backend, nil)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return errors.Join(fmt.Errorf("failed to listen: %w", err), c.Close(context.Background()))
			}
			a.logger.Info("lrucache: proxy listening", "addr", ln.Addr().String(), "backend", backend)

			srv := newProxyServer(c, a.logger)
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				_ = ln.Close()
			}()

			err = srv.serve(ln)
			srv.wait()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Join(err, c.Close(ctx))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0:6380", "Address to listen on")
	cmd.Flags().StringVar(&backend, "backend", "memory", "Value source: memory or redis")
	return cmd
}

type proxyServer struct {
	cache  *presets.Cache[string]
	logger *slog.Logger
	conns  sync.WaitGroup
}

func newProxyServer(c *presets.Cache[string], logger *slog.Logger) *proxyServer {
	return &proxyServer{cache: c, logger: logger}
}

// serve accepts connections until ln is closed.
func (s *proxyServer) serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("lrucache: accept failed", "error", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handle(conn)
		}()
	}
}

func (s *proxyServer) wait() {
	s.conns.Wait()
}

func (s *proxyServer) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	rr := newRESPReader(reader)
	rw := newRESPWriter(bufio.NewWriter(conn))
	ctx := context.Background()

	for {
		args, err := rr.readCommand()
		if err != nil {
			if errors.Is(err, errInvalidProtocol) {
				rw.writeError(err.Error())
				_ = rw.flush()
			} else if !errors.Is(err, io.EOF) {
				s.logger.Debug("lrucache: read error", "error", err)
			}
			return
		}
		quit := s.execute(ctx, rw, args)

		// answer pipelined commands in one flush
		for !quit && reader.Buffered() > 0 {
			if args, err = rr.readCommand(); err != nil {
				_ = rw.flush()
				return
			}
			quit = s.execute(ctx, rw, args)
		}
		if err := rw.flush(); err != nil || quit {
			return
		}
	}
}

// execute runs one command and reports whether the client asked to quit.
func (s *proxyServer) execute(ctx context.Context, w *respWriter, args [][]byte) bool {
	if len(args) == 0 {
		return false
	}
	cmd := strings.ToUpper(string(args[0]))
	arity := func(n int) bool {
		if len(args) < n {
			w.writeError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd)))
			return false
		}
		return true
	}

	switch cmd {
	case "GET":
		if !arity(2) {
			break
		}
		if val, ok := s.cache.Get(ctx, string(args[1])); ok {
			w.writeBulk([]byte(val))
		} else {
			w.writeNull()
		}
	case "SET":
		if !arity(3) {
			break
		}
		key, val := string(args[1]), string(args[2])
		if err := s.cache.Store.Set(ctx, key, val); err != nil {
			w.writeError("ERR " + err.Error())
			break
		}
		s.cache.Put(ctx, key, val)
		w.writeSimpleString("OK")
	case "DEL":
		if !arity(2) {
			break
		}
		var n int64
		for _, k := range args[1:] {
			if s.cache.Invalidate(ctx, string(k)) {
				n++
			}
		}
		w.writeInt(n)
	case "DBSIZE":
		w.writeInt(int64(s.cache.Size()))
	case "KEYS":
		if !arity(2) {
			break
		}
		pattern := string(args[1])
		var matched []string
		for _, k := range s.cache.Keys() {
			if ok, _ := path.Match(pattern, k); ok {
				matched = append(matched, k)
			}
		}
		w.writeArrayHeader(len(matched))
		for _, k := range matched {
			w.writeBulk([]byte(k))
		}
	case "FLUSHALL", "FLUSHDB":
		s.cache.Reset()
		w.writeSimpleString("OK")
	case "PING":
		if len(args) > 1 {
			w.writeBulk(args[1])
		} else {
			w.writeSimpleString("PONG")
		}
	case "ECHO":
		if arity(2) {
			w.writeBulk(args[1])
		}
	case "INFO":
		st := s.cache.Stats()
		w.writeBulk([]byte(fmt.Sprintf(
			"# Server\r\nredis_version:6.0.0\r\n# Stats\r\nkeyspace_hits:%d\r\nkeyspace_misses:%d\r\nevicted_keys:%d\r\nexpired_keys:%d\r\n# Keyspace\r\nkeys:%d\r\n",
			st.Hits, st.Misses, st.Evictions, st.Expirations, s.cache.Size())))
	case "COMMAND", "CLIENT":
		w.writeSimpleString("OK")
	case "QUIT":
		w.writeSimpleString("OK")
		return true
	default:
		w.writeError(fmt.Sprintf("ERR unknown command '%s'", cmd))
	}
	return false
}
