// Package sdk provides the client-side library for the collections ledger.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// maxAttempts bounds retries of idempotent commands after a transport error.
const maxAttempts = 3

// RemoteError is an ERR reply from the daemon. It unwraps to the matching
// sentinel, so errors.Is(err, ErrLocked) works across the wire.
type RemoteError struct {
	Code    schema.Code
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return schema.CodeError(e.Code)
}

// Client is a remote client for the collections daemon.
// It implements the Collections interface.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	// actor last announced with USER on the current connection
	actor  string
	logger *slog.Logger
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote daemon.
// If COLLECTIONS_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr, logger: slog.Default()}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.actor = ""

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv("COLLECTIONS_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // the daemon uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// roundTrip sends one command and reads one reply. The caller holds c.mu.
func (c *Client) roundTrip(cmd string) (string, error) {
	if c.conn == nil {
		if err := c.reconnect(); err != nil {
			return "", fmt.Errorf("reconnect failed: %w", err)
		}
	}
	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	if _, err := fmt.Fprint(c.conn, cmd+"\n"); err != nil {
		return "", err
	}
	resp, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// send runs cmd, retrying transport failures up to attempts times with
// backoff. ERR replies are returned at once as *RemoteError.
// A non-empty actor is announced with USER first.
func (c *Client) send(cmd, actor string, attempts int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < attempts; i++ {
		var resp string
		resp, err = c.session(cmd, actor)
		if err == nil {
			if rest, ok := strings.CutPrefix(resp, "ERR "); ok {
				code, msg, _ := strings.Cut(rest, " ")
				return "", &RemoteError{Code: schema.Code(code), Message: msg}
			}
			return resp, nil
		}

		c.logger.Warn("collections sdk: request failed, reconnecting", "attempt", i+1, "error", err)
		if closeErr := c.reconnect(); closeErr != nil {
			c.logger.Warn("collections sdk: reconnect failed", "error", closeErr)
		}
		// Wait before retrying (linear backoff)
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}
	return "", fmt.Errorf("failed after %d attempts. last error: %w", attempts, err)
}

// session announces the actor when it changed, then runs cmd.
func (c *Client) session(cmd, actor string) (string, error) {
	if actor != "" && actor != c.actor {
		resp, err := c.roundTrip("USER " + actor)
		if err != nil {
			return "", err
		}
		if resp != "OK" {
			return resp, nil
		}
		c.actor = actor
	}
	return c.roundTrip(cmd)
}

func decodeOK[T any](resp string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(strings.TrimPrefix(resp, "OK ")), &v)
	return v, err
}

func (c *Client) Get(recordID int64) (schema.Record, error) {
	resp, err := c.send(fmt.Sprintf("GET %d", recordID), "", maxAttempts)
	if err != nil {
		return schema.Record{}, err
	}
	return decodeOK[schema.Record](resp)
}

func (c *Client) List(q schema.Query) ([]schema.Record, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	resp, err := c.send("LIST "+string(body), "", maxAttempts)
	if err != nil {
		return nil, err
	}
	return decodeOK[[]schema.Record](resp)
}

func (c *Client) History(externalID string) ([]schema.Record, error) {
	resp, err := c.send("HISTORY "+externalID, "", maxAttempts)
	if err != nil {
		return nil, err
	}
	return decodeOK[[]schema.Record](resp)
}

func (c *Client) Stats() (schema.Stats, error) {
	resp, err := c.send("STATS", "", maxAttempts)
	if err != nil {
		return schema.Stats{}, err
	}
	return decodeOK[schema.Stats](resp)
}

// Update is retried on transport errors. Re-applying a patch yields the
// same field values; only version and last_updated_at move.
func (c *Client) Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return schema.Record{}, err
	}
	resp, err := c.send(fmt.Sprintf("UPDATE %d %s", recordID, body), ctxutil.ActorFromContext(ctx), maxAttempts)
	if err != nil {
		return schema.Record{}, err
	}
	return decodeOK[schema.Record](resp)
}

// Ingest is sent once. A retry could store the batch twice.
func (c *Client) Ingest(ctx context.Context, rows []map[string]any) (schema.IngestResult, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return schema.IngestResult{}, err
	}
	resp, err := c.send("INGEST "+string(body), ctxutil.ActorFromContext(ctx), 1)
	if err != nil {
		return schema.IngestResult{}, err
	}
	return decodeOK[schema.IngestResult](resp)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}
