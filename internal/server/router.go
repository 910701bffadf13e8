// Package server exposes the ledger over a newline-delimited TCP protocol.
//
// Each request is one line: a command word followed by its arguments.
// Each reply is one line: "OK", "OK <json>", "PONG" or "ERR <CODE> <message>".
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/mutation"
	"github.com/celerix-dev/celerix-collections/internal/query"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// CodeBadRequest is sent for malformed or unknown commands.
const CodeBadRequest schema.Code = "BAD_REQUEST"

// Ingester stores a batch of rows.
type Ingester interface {
	Ingest(ctx context.Context, rows []ingest.Row) schema.IngestResult
}

// Editor applies a patch to one record.
type Editor interface {
	Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error)
}

type Router struct {
	store    engine.Reader
	pipeline Ingester
	gateway  Editor
	cert     *tls.Certificate
	logger   *slog.Logger

	maxConns       int
	connTimeout    time.Duration
	commandTimeout time.Duration
	defaultActor   string

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMaxConns bounds concurrently served connections.
func WithMaxConns(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxConns = n
		}
	}
}

// WithConnTimeout bounds the lifetime of one connection.
func WithConnTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.connTimeout = d
		}
	}
}

// WithDefaultActor sets the actor used until a connection sends USER.
func WithDefaultActor(actor string) Option {
	return func(r *Router) { r.defaultActor = actor }
}

func NewRouter(store engine.Reader, pipeline Ingester, gateway Editor, opts ...Option) *Router {
	r := &Router{
		store:          store,
		pipeline:       pipeline,
		gateway:        gateway,
		logger:         slog.Default(),
		maxConns:       100,
		connTimeout:    5 * time.Minute,
		commandTimeout: 30 * time.Second,
		defaultActor:   ctxutil.DefaultActor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen serves addr until Stop is called. It returns nil after Stop.
func (r *Router) Listen(addr string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	defer listener.Close()

	r.logger.Info("tcp listener started", "addr", listener.Addr().String(), "tls", r.cert != nil)

	semaphore := make(chan struct{}, r.maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if r.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("tcp accept failed", "error", err)
			continue
		}

		conn.SetDeadline(time.Now().Add(r.connTimeout))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.handleConnection(c)
		}(conn)
	}
}

// Stop closes the listener. Open connections finish their current command.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	actor := r.defaultActor

	for {
		// Set a deadline for the next command
		conn.SetReadDeadline(time.Now().Add(r.commandTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		command, args, _ := strings.Cut(line, " ")
		args = strings.TrimSpace(args)
		ctx := ctxutil.WithActor(context.Background(), actor)

		switch strings.ToUpper(command) {
		case "PING":
			fmt.Fprintln(conn, "PONG")

		case "USER":
			if args == "" || strings.ContainsAny(args, " \t") {
				replyErr(conn, CodeBadRequest, "usage: USER <name>")
				continue
			}
			actor = args
			fmt.Fprintln(conn, "OK")

		case "GET":
			id, err := parseID(args)
			if err != nil {
				replyErr(conn, CodeBadRequest, "usage: GET <record_id>")
				continue
			}
			rec, err := r.store.Get(id)
			r.reply(conn, rec, err)

		case "LIST":
			var q schema.Query
			if args != "" {
				if err := json.Unmarshal([]byte(args), &q); err != nil {
					replyErr(conn, CodeBadRequest, "invalid query json")
					continue
				}
			}
			opts, err := query.Compile(q)
			if err != nil {
				r.reply(conn, nil, err)
				continue
			}
			r.reply(conn, query.Run(r.store.List(), opts), nil)

		case "HISTORY":
			if args == "" {
				replyErr(conn, CodeBadRequest, "usage: HISTORY <id>")
				continue
			}
			list, err := r.store.History(args)
			r.reply(conn, list, err)

		case "STATS":
			r.reply(conn, r.store.Stats(), nil)

		case "UPDATE":
			rawID, body, _ := strings.Cut(args, " ")
			id, err := parseID(rawID)
			if err != nil {
				replyErr(conn, CodeBadRequest, "usage: UPDATE <record_id> <json patch>")
				continue
			}
			patch, err := mutation.DecodePatch([]byte(body))
			if err != nil {
				r.reply(conn, nil, err)
				continue
			}
			rec, err := r.gateway.Update(ctx, id, patch)
			r.reply(conn, rec, err)

		case "INGEST":
			var cells []map[string]any
			if err := json.Unmarshal([]byte(args), &cells); err != nil {
				replyErr(conn, CodeBadRequest, "usage: INGEST <json array of rows>")
				continue
			}
			r.reply(conn, r.pipeline.Ingest(ctx, ingest.RowsFromMaps(cells)), nil)

		case "QUIT":
			return

		default:
			replyErr(conn, CodeBadRequest, "unknown command "+strconv.Quote(command))
		}
	}
}

func (r *Router) reply(w io.Writer, v any, err error) {
	if err != nil {
		code := schema.ErrorCode(err)
		if code == schema.CodeInternal {
			r.logger.Error("tcp command failed", "error", err)
		}
		replyErr(w, code, err.Error())
		return
	}
	res, err := json.Marshal(v)
	if err != nil {
		replyErr(w, schema.CodeInternal, "internal error")
		return
	}
	fmt.Fprintln(w, "OK", string(res))
}

func replyErr(w io.Writer, code schema.Code, msg string) {
	msg = strings.ReplaceAll(msg, "\n", " ")
	fmt.Fprintln(w, "ERR", string(code), msg)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record_id %q", s)
	}
	return id, nil
}
