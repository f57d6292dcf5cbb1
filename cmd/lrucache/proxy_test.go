package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/presets"
)

func startProxy(t *testing.T) (net.Conn, *presets.Cache[string]) {
	t.Helper()
	c, err := presets.NewInMemoryStandalone[string]("proxy", cache.WithMaxCapacity[string, string](2))
	if err != nil {
		t.Fatalf("NewInMemoryStandalone: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := newProxyServer(c, discardLogger())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
		srv.wait()
		_ = c.Close(context.Background())
	})
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, c
}

func command(args ...string) string {
	var b strings.Builder
	b.WriteString("*" + strconv.Itoa(len(args)) + "\r\n")
	for _, a := range args {
		b.WriteString("$" + strconv.Itoa(len(a)) + "\r\n" + a + "\r\n")
	}
	return b.String()
}

func expectReply(t *testing.T, rd *bufio.Reader, want string) {
	t.Helper()
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(rd, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf) != want {
		t.Fatalf("expected %q, got %q", want, buf)
	}
}

func TestProxyCommands(t *testing.T) {
	conn, c := startProxy(t)
	rd := bufio.NewReader(conn)

	send := func(s string) {
		t.Helper()
		if _, err := io.WriteString(conn, s); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(command("SET", "foo", "bar"))
	expectReply(t, rd, "+OK\r\n")

	// pipelined
	send(command("GET", "foo") + command("DBSIZE") + "PING\r\n" + command("GET", "nope"))
	expectReply(t, rd, "$3\r\nbar\r\n:1\r\n+PONG\r\n$-1\r\n")

	send(command("SET", "a", "1") + command("SET", "b", "2"))
	expectReply(t, rd, "+OK\r\n+OK\r\n")
	if got := c.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected foo evicted, got %v", got)
	}

	send(command("KEYS", "*"))
	expectReply(t, rd, "*2\r\n$1\r\na\r\n$1\r\nb\r\n")

	send(command("DEL", "a", "zzz"))
	expectReply(t, rd, ":1\r\n")

	send(command("GET"))
	expectReply(t, rd, "-ERR wrong number of arguments for 'get' command\r\n")

	send(command("NOPE"))
	expectReply(t, rd, "-ERR unknown command 'NOPE'\r\n")

	send(command("FLUSHALL"))
	expectReply(t, rd, "+OK\r\n")
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}

	send("ECHO  hello\r\n")
	expectReply(t, rd, "$5\r\nhello\r\n")

	send(command("QUIT"))
	expectReply(t, rd, "+OK\r\n")
	if _, err := rd.ReadByte(); err != io.EOF {
		t.Fatalf("expected connection closed, got %v", err)
	}
}

func TestProxyProtocolError(t *testing.T) {
	conn, _ := startProxy(t)
	rd := bufio.NewReader(conn)
	if _, err := io.WriteString(conn, "*1\r\n+GET\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectReply(t, rd, "-ERR protocol error\r\n")
}
