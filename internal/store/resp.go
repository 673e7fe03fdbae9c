package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// replyType enumerates the subset of RESP types needed by the store.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// respConn wraps a network connection with RESP encode/decode helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (rc *respConn) close() {
	_ = rc.conn.Close()
}

func (rc *respConn) writeCommand(command string, args ...[]byte) error {
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.writeTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(rc.writer, "*%d\r\n", len(args)+1); err != nil {
		return err
	}
	parts := make([][]byte, 0, len(args)+1)
	parts = append(parts, []byte(command))
	parts = append(parts, args...)
	for _, part := range parts {
		if _, err := fmt.Fprintf(rc.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := rc.writer.Write(part); err != nil {
			return err
		}
		if _, err := rc.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return rc.writer.Flush()
}

func (rc *respConn) readReply() (respReply, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := rc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := rc.readLine()
		return respReply{typ: replySimpleString, data: line}, err
	case '-':
		line, err := rc.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case ':':
		line, err := rc.readLine()
		return respReply{typ: replyInteger, data: line}, err
	case '$':
		line, err := rc.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(rc.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := rc.expectCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{typ: replyBulkString, data: buf}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (rc *respConn) readLine() ([]byte, error) {
	line, err := rc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (rc *respConn) expectCRLF() error {
	b1, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}
