package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfathom/scanward/internal/config"
	"github.com/openfathom/scanward/internal/logging"
	"github.com/openfathom/scanward/internal/metrics"
	"github.com/openfathom/scanward/internal/otp"
)

// maxLoginAttempts bounds legacy credential retries before the
// connection is dropped.
const maxLoginAttempts = 3

var activeSessions int64

// connOutbound delivers parser-queued commands to the scanner socket.
// The parser runs on the same goroutine as the read loop, so a mutex is
// enough to serialize command writes against credential and greeting
// lines.
type connOutbound struct {
	mu   sync.Mutex
	conn net.Conn
}

func (o *connOutbound) Enqueue(command string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := io.WriteString(o.conn, command+"\n")
	return err
}

// cacheModeFromConfig maps the configured cache mode string to the
// session cache mode.
func cacheModeFromConfig(mode string) otp.CacheMode {
	switch mode {
	case config.CacheModeRebuild:
		return otp.CacheRebuild
	case config.CacheModeUpdate:
		return otp.CacheUpdate
	default:
		return otp.CacheNone
	}
}

// scannerConn is the per-connection protocol driver.
type scannerConn struct {
	id            string
	conn          net.Conn
	out           *connOutbound
	session       *otp.Session
	scanner       config.ScannerConfig
	logger        *logging.Logger
	loginAttempts int
}

// serveConnection runs the full protocol exchange with one scanner. It
// returns when the scanner says goodbye, the link drops or a fatal
// parse error invalidates the stream.
func (d *Daemon) serveConnection(ctx context.Context, conn net.Conn, id string) error {
	defer func() { _ = conn.Close() }()

	scanner := d.GetConfig().Scanner
	logger := logging.Default().WithSession(id)

	count := atomic.AddInt64(&activeSessions, 1)
	metrics.SetActiveSessions(int(count))
	metrics.SetActiveSessionsPrometheus(int(count))
	start := time.Now()
	outcome := "disconnected"
	defer func() {
		count := atomic.AddInt64(&activeSessions, -1)
		metrics.SetActiveSessions(int(count))
		metrics.SetActiveSessionsPrometheus(int(count))
		metrics.GetGlobalMetrics().IncrementSessionsTotal(outcome)
		metrics.GetGlobalMetrics().RecordSessionDuration(time.Since(start))
	}()

	out := &connOutbound{conn: conn}
	sc := &scannerConn{
		id:      id,
		conn:    conn,
		out:     out,
		scanner: scanner,
		logger:  logger,
		session: otp.NewSession(otp.Options{
			ID:         id,
			Legacy:     d.GetConfig().IsLegacyProtocol(),
			CacheMode:  cacheModeFromConfig(scanner.CacheMode),
			BufferSize: scanner.BufferSize,
			Stores:     d.store.Stores(),
			Outbound:   out,
			Logger:     logger,
		}),
	}

	if err := out.Enqueue(fmt.Sprintf("< OTP/%s >", scanner.ProtocolVersion)); err != nil {
		outcome = "write_error"
		return fmt.Errorf("failed to send greeting: %w", err)
	}
	sc.session.VersionSent()

	buf := make([]byte, scanner.ReadSize)

	for {
		if ctx.Err() != nil {
			outcome = "canceled"
			return ctx.Err()
		}

		if scanner.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(scanner.ReadTimeout)); err != nil {
				outcome = "read_error"
				return fmt.Errorf("failed to set read deadline: %w", err)
			}
		}

		n, readErr := conn.Read(buf)
		if n > 0 {
			done, result, err := sc.exchange(ctx, buf[:n])
			if done {
				outcome = result
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				outcome = "disconnected"
				logger.InfoParser("Scanner disconnected", id)
				return nil
			}
			if ctx.Err() != nil {
				outcome = "canceled"
				return ctx.Err()
			}
			outcome = "read_error"
			return fmt.Errorf("scanner read failed: %w", readErr)
		}
	}
}

// exchange feeds one chunk to the parser and answers whatever the
// session asks for: credential prompts are satisfied and the already
// buffered follow-up is re-parsed before reading the socket again.
func (sc *scannerConn) exchange(ctx context.Context, data []byte) (done bool, outcome string, err error) {
	for {
		verdict, parseErr := sc.session.Parse(ctx, data)
		data = nil
		if parseErr != nil {
			sc.logger.ErrorParser("Dropping scanner connection", sc.id, parseErr)
			return true, "protocol_error", parseErr
		}

		switch verdict {
		case otp.VerdictGoodbye:
			sc.logger.InfoParser("Scanner session finished", sc.id)
			return true, "goodbye", nil

		case otp.VerdictBadLogin:
			sc.loginAttempts++
			if sc.loginAttempts >= maxLoginAttempts {
				return true, "bad_login",
					fmt.Errorf("scanner rejected credentials %d times", sc.loginAttempts)
			}
			sc.logger.Warn("Retrying scanner login", "attempt", sc.loginAttempts+1)
			// Input beyond the rejection notice is stashed; re-parse it.
			continue

		case otp.VerdictScannerLoading:
			current, total := sc.session.LoadingProgress()
			sc.logger.Info("Scanner still loading, backing off",
				"loaded", current, "total", total,
				"retry_delay", sc.scanner.LoadingRetryDelay.String())
			select {
			case <-time.After(sc.scanner.LoadingRetryDelay):
			case <-ctx.Done():
				return true, "canceled", ctx.Err()
			}
			continue
		}

		switch sc.session.Phase() {
		case otp.PhaseGotUser:
			if err := sc.out.Enqueue(sc.scanner.Username); err != nil {
				return true, "write_error", fmt.Errorf("failed to send username: %w", err)
			}
			sc.session.UserSent()

		case otp.PhaseGotPassword:
			if err := sc.out.Enqueue(sc.scanner.Password); err != nil {
				return true, "write_error", fmt.Errorf("failed to send password: %w", err)
			}
			sc.session.PasswordSent()

		default:
			// Nothing pending; read more from the socket.
			return false, "", nil
		}
	}
}
