package main

import (
	"bufio"
	"errors"
	"io"
	"strconv"
)

var errInvalidProtocol = errors.New("ERR protocol error")

// maxBulkLen bounds a single bulk string read from a client.
const maxBulkLen = 512 << 20

// maxArgs bounds the element count of a multi-bulk command.
const maxArgs = 1 << 20

// respReader parses RESP commands from a buffered connection.
type respReader struct {
	rd *bufio.Reader
}

func newRESPReader(rd *bufio.Reader) *respReader {
	return &respReader{rd: rd}
}

// readLine returns a CRLF terminated line without the terminator.
func (r *respReader) readLine() ([]byte, error) {
	line, err := r.rd.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errInvalidProtocol
	}
	return line[:len(line)-2], nil
}

// readCommand reads either a multi-bulk command or an inline one such as
// "PING\r\n".
func (r *respReader) readCommand() ([][]byte, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		return splitInline(line), nil
	}

	count, err := strconv.Atoi(string(line[1:]))
	if err != nil || count < 0 || count > maxArgs {
		return nil, errInvalidProtocol
	}

	args := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		line, err = r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 || line[0] != '$' {
			return nil, errInvalidProtocol
		}
		length, err := strconv.Atoi(string(line[1:]))
		if err != nil || length > maxBulkLen {
			return nil, errInvalidProtocol
		}
		if length < 0 {
			args = append(args, nil)
			continue
		}

		data := make([]byte, length+2)
		if _, err := io.ReadFull(r.rd, data); err != nil {
			return nil, err
		}
		if data[length] != '\r' || data[length+1] != '\n' {
			return nil, errInvalidProtocol
		}
		args = append(args, data[:length])
	}
	return args, nil
}

func splitInline(line []byte) [][]byte {
	var args [][]byte
	start := -1
	for i, b := range line {
		if b == ' ' || b == '\t' {
			if start >= 0 {
				args = append(args, append([]byte(nil), line[start:i]...))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		args = append(args, append([]byte(nil), line[start:]...))
	}
	return args
}

// respWriter writes RESP replies without going through fmt.
type respWriter struct {
	wr      *bufio.Writer
	scratch []byte // reused for integer formatting
}

func newRESPWriter(wr *bufio.Writer) *respWriter {
	return &respWriter{
		wr:      wr,
		scratch: make([]byte, 0, 32),
	}
}

func (w *respWriter) writeError(msg string) {
	w.wr.WriteByte('-')
	w.wr.WriteString(msg)
	w.wr.WriteString("\r\n")
}

func (w *respWriter) writeSimpleString(msg string) {
	w.wr.WriteByte('+')
	w.wr.WriteString(msg)
	w.wr.WriteString("\r\n")
}

func (w *respWriter) writeBulk(data []byte) {
	w.writePrefixed('$', int64(len(data)))
	w.wr.Write(data)
	w.wr.WriteString("\r\n")
}

func (w *respWriter) writeNull() {
	w.wr.WriteString("$-1\r\n")
}

func (w *respWriter) writeInt(n int64) {
	w.writePrefixed(':', n)
}

func (w *respWriter) writeArrayHeader(n int) {
	w.writePrefixed('*', int64(n))
}

func (w *respWriter) writePrefixed(prefix byte, n int64) {
	w.wr.WriteByte(prefix)
	w.scratch = strconv.AppendInt(w.scratch[:0], n, 10)
	w.wr.Write(w.scratch)
	w.wr.WriteString("\r\n")
}

func (w *respWriter) flush() error {
	return w.wr.Flush()
}
