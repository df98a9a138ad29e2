package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/zipsea/cruisesync/internal/config"
)

// ftpConn is the slice of the FTP control connection the pool manages.
// *ftp.ServerConn satisfies it through serverConn; tests substitute fakes.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	NoOp() error
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn.
type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// pooledConn is one pool slot holding at most one persistent FTP connection.
type pooledConn struct {
	conn ftpConn
}

// FTPClient implements Client over a fixed-size pool of persistent FTP
// connections. Callers block on the pool channel until a connection frees up;
// the pool never grows past the configured size because the remote server
// enforces a per-account connection ceiling.
type FTPClient struct {
	cfg    config.FTP
	dial   func() (ftpConn, error)
	pool   chan *pooledConn
	closed chan struct{}
	logger *zap.SugaredLogger
}

// NewFTPClient creates the pool. Connections are dialed lazily on first use so
// constructing the client never touches the network.
func NewFTPClient(cfg config.FTP, logger *zap.SugaredLogger) *FTPClient {
	size := cfg.PoolSize
	if size <= 0 {
		size = config.DefaultFTPPoolSize
	}
	pool := make(chan *pooledConn, size)
	for i := 0; i < size; i++ {
		pool <- &pooledConn{} // dialed on demand
	}
	c := &FTPClient{
		cfg:    cfg,
		pool:   pool,
		closed: make(chan struct{}),
		logger: logger,
	}
	c.dial = c.dialServer
	return c
}

// Close quits every pooled connection.
func (c *FTPClient) Close() {
	close(c.closed)
	for i := 0; i < cap(c.pool); i++ {
		pc := <-c.pool
		if pc.conn != nil {
			_ = pc.conn.Quit()
		}
	}
}

// acquire blocks until a pooled connection is available, then health-checks it
// with a NOOP and reconnects transparently if the check fails.
func (c *FTPClient) acquire(ctx context.Context) (*pooledConn, error) {
	select {
	case <-c.closed:
		return nil, ErrPoolClosed
	default:
	}

	var pc *pooledConn
	select {
	case pc = <-c.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrPoolClosed
	}

	if pc.conn != nil {
		if err := pc.conn.NoOp(); err != nil {
			c.logger.Warnw("ftp connection failed health check, reconnecting", "error", err)
			_ = pc.conn.Quit()
			pc.conn = nil
		}
	}

	if pc.conn == nil {
		conn, err := c.dial()
		if err != nil {
			c.release(pc)
			return nil, err
		}
		pc.conn = conn
	}

	return pc, nil
}

func (c *FTPClient) release(pc *pooledConn) {
	c.pool <- pc
}

// abandon returns the slot to the pool without its connection. The connection
// is quit only after the in-flight operation has returned, so it is never
// touched from two goroutines at once.
func (c *FTPClient) abandon(pc *pooledConn, conn ftpConn, done <-chan error) {
	pc.conn = nil
	c.pool <- pc
	go func() {
		<-done
		if conn != nil {
			_ = conn.Quit()
		}
	}()
}

func (c *FTPClient) dialServer() (ftpConn, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(c.cfg.FetchTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if err := conn.Login(c.cfg.User, c.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}
	return serverConn{conn}, nil
}

// List returns the entries of a remote directory. A missing directory comes
// back as ErrNotExist so callers can tell it apart from transport failures.
func (c *FTPClient) List(ctx context.Context, path string) ([]Entry, error) {
	var entries []Entry
	err := c.withConn(ctx, func(conn ftpConn) error {
		raw, err := conn.List(path)
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, e := range raw {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			entries = append(entries, Entry{
				Name:  e.Name,
				IsDir: e.Type == ftp.EntryTypeFolder,
				Size:  int64(e.Size),
			})
		}
		return nil
	})
	if err != nil {
		return nil, translateNotExist(err)
	}
	return entries, nil
}

// Fetch downloads a file, retrying transient failures up to the configured
// bound with a fixed delay. A missing file fails immediately; exhausting the
// bound returns a *FetchError naming the path and the last underlying error.
func (c *FTPClient) Fetch(ctx context.Context, path string) ([]byte, error) {
	retries := c.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		var data []byte
		err := c.withConn(ctx, func(conn ftpConn) error {
			resp, err := conn.Retr(path)
			if err != nil {
				return err
			}
			defer resp.Close()
			data, err = io.ReadAll(resp)
			return err
		})
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = translateNotExist(err)
		if errors.Is(err, ErrNotExist) {
			return nil, &FetchError{Path: path, Err: err}
		}
		lastErr = err
		c.logger.Warnw("ftp fetch failed", "path", path, "attempt", attempt, "error", err)
		if attempt < retries {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &FetchError{Path: path, Err: lastErr}
}

// withConn runs op on a pooled connection under the fetch timeout. When the
// timeout fires mid-transfer the connection is abandoned rather than reused.
func (c *FTPClient) withConn(ctx context.Context, op func(ftpConn) error) error {
	pc, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	conn := pc.conn

	timeout := c.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- op(conn)
	}()

	select {
	case err := <-done:
		// A server-side error (e.g. 550) leaves the connection usable; the
		// NOOP health check on the next acquire catches truly dead ones.
		c.release(pc)
		return err
	case <-time.After(timeout):
		c.abandon(pc, conn, done)
		return fmt.Errorf("remote operation timed out after %s", timeout)
	case <-ctx.Done():
		c.abandon(pc, conn, done)
		return ctx.Err()
	}
}

// translateNotExist maps an FTP 550 reply onto ErrNotExist.
func translateNotExist(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return err
}
