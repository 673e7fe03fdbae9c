package store

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

const (
	alertLogKey        = "greenflow:alerts"
	aggregateKeyPrefix = "greenflow:aggregate:"
)

// ValkeyStore persists alerts and aggregate snapshots to a Valkey/Redis
// compatible server. Alerts accumulate in a trimmed list; aggregates are
// stored per metric with a TTL.
type ValkeyStore struct {
	cfg Config
}

// Config holds connection parameters and retention settings for the store.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	AlertLogSize int
	AggregateTTL time.Duration
}

// NewValkeyStore creates a Store using the supplied configuration. It pings
// the target to fail fast on bad credentials or connectivity.
func NewValkeyStore(cfg Config) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	normaliseConfig(&cfg)
	s := &ValkeyStore{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := s.ping(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// PersistAlert appends the alert to the durable alert log, trimming it to
// the configured size.
func (s *ValkeyStore) PersistAlert(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return &StorageError{Op: "persist alert", Err: err}
	}

	err = s.withConn(ctx, func(rc *respConn) error {
		if err := rc.writeCommand("LPUSH", []byte(alertLogKey), payload); err != nil {
			return err
		}
		if _, err := rc.readReply(); err != nil {
			return err
		}
		stop := strconv.Itoa(s.cfg.AlertLogSize - 1)
		if err := rc.writeCommand("LTRIM", []byte(alertLogKey), []byte("0"), []byte(stop)); err != nil {
			return err
		}
		_, err := rc.readReply()
		return err
	})
	if err != nil {
		return &StorageError{Op: "persist alert", Err: err}
	}
	return nil
}

// PersistAggregate stores the latest snapshot for its metric with a TTL.
func (s *ValkeyStore) PersistAggregate(ctx context.Context, snap models.AggregateSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return &StorageError{Op: "persist aggregate", Err: err}
	}

	key := aggregateKeyPrefix + string(snap.Metric)
	err = s.withConn(ctx, func(rc *respConn) error {
		args := [][]byte{[]byte(key), payload}
		if s.cfg.AggregateTTL > 0 {
			ms := strconv.FormatInt(s.cfg.AggregateTTL.Milliseconds(), 10)
			args = append(args, []byte("PX"), []byte(ms))
		}
		if err := rc.writeCommand("SET", args...); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "persist aggregate", Err: err}
	}
	return nil
}

// Close closes the store (no-op for the stateless per-call connection model).
func (s *ValkeyStore) Close() error { return nil }

func (s *ValkeyStore) ping(ctx context.Context) error {
	return s.withConn(ctx, func(rc *respConn) error {
		if err := rc.writeCommand("PING"); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

func (s *ValkeyStore) withConn(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	retries := s.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rc, err := s.dial(ctx)
		if err == nil {
			err = s.bootstrap(rc)
			if err == nil {
				err = fn(rc)
			}
			rc.close()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry(err) && attempt < retries-1 {
			time.Sleep(backoff(attempt))
			continue
		}
		return err
	}
	return lastErr
}

func (s *ValkeyStore) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, s.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		host := hostForTLS(s.cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", s.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  s.cfg.ReadTimeout,
		writeTimeout: s.cfg.WriteTimeout,
	}, nil
}

func (s *ValkeyStore) bootstrap(rc *respConn) error {
	if s.cfg.Password != "" {
		args := make([][]byte, 0, 2)
		if s.cfg.Username != "" {
			args = append(args, []byte(s.cfg.Username))
		}
		args = append(args, []byte(s.cfg.Password))
		if err := rc.writeCommand("AUTH", args...); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if s.cfg.DB > 0 {
		if err := rc.writeCommand("SELECT", []byte(strconv.Itoa(s.cfg.DB))); err != nil {
			return err
		}
		reply, err := rc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func normaliseConfig(cfg *Config) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.AlertLogSize <= 0 {
		cfg.AlertLogSize = 1000
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func backoff(attempt int) time.Duration {
	base := 25 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func shouldRetry(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
