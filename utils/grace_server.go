package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	gracefulEnvKey     = "STOREFRONT_GRACEFUL"
	gracefulEnvValue   = gracefulEnvKey + "=1"
	gracefulListenerFD = 3
)

// ServerOptions tunes the graceful server. Zero values fall back to defaults.
type ServerOptions struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// OnShutdown runs after the HTTP server has drained, before Serve returns.
	OnShutdown func()
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = o.ReadTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	return o
}

// Server wraps http.Server with signal driven shutdown and SIGUSR2 re-exec.
type Server struct {
	*http.Server

	opts     ServerOptions
	logger   *zap.Logger
	inherit  bool
	tcp      net.Listener // raw listener, passed to the child on restart
	signals  chan os.Signal
	stopOnce sync.Once
	done     chan struct{}
}

// NewServer builds a Server; when started by a parent process it reuses the inherited socket.
func NewServer(addr string, handler http.Handler, logger *zap.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts:    opts,
		logger:  logger,
		inherit: os.Getenv(gracefulEnvKey) != "",
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// ListenAndServe serves plain HTTP until a shutdown signal arrives.
func (srv *Server) ListenAndServe() error {
	ln, err := srv.listen(srv.Addr, ":http")
	if err != nil {
		return err
	}
	return srv.serve(ln)
}

// ListenAndServeTLS serves HTTPS with the given key pair.
func (srv *Server) ListenAndServeTLS(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	cfg := &tls.Config{}
	if srv.TLSConfig != nil {
		cfg = srv.TLSConfig.Clone()
	}
	if cfg.NextProtos == nil {
		cfg.NextProtos = []string{"http/1.1"}
	}
	cfg.Certificates = []tls.Certificate{cert}

	ln, err := srv.listen(srv.Addr, ":https")
	if err != nil {
		return err
	}
	return srv.serve(tls.NewListener(ln, cfg))
}

// ListenAddr returns the bound address once listening, or nil.
func (srv *Server) ListenAddr() net.Addr {
	if srv.tcp == nil {
		return nil
	}
	return srv.tcp.Addr()
}

// Stop drains in-flight requests and releases Serve. Safe to call more than once.
func (srv *Server) Stop() {
	srv.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.logger.Error("http server shutdown", zap.Error(err))
		} else {
			srv.logger.Info("http server drained")
		}
		if srv.opts.OnShutdown != nil {
			srv.opts.OnShutdown()
		}
		signal.Stop(srv.signals)
		close(srv.done)
	})
}

func (srv *Server) serve(ln net.Listener) error {
	signal.Notify(srv.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	go srv.handleSignals()

	err := srv.Server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		signal.Stop(srv.signals)
		return err
	}
	<-srv.done
	signal.Stop(srv.signals)
	return nil
}

func (srv *Server) listen(addr, fallback string) (net.Listener, error) {
	if addr == "" {
		addr = fallback
	}
	var (
		ln  net.Listener
		err error
	)
	if srv.inherit {
		ln, err = net.FileListener(os.NewFile(gracefulListenerFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
	} else if ln, err = net.Listen("tcp", addr); err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv.tcp = ln
	return ln, nil
}

func (srv *Server) handleSignals() {
	for {
		select {
		case <-srv.done:
			return
		case sig := <-srv.signals:
			switch sig {
			case syscall.SIGUSR2:
				pid, err := srv.fork()
				if err != nil {
					srv.logger.Error("restart failed, still serving", zap.Error(err))
					continue
				}
				srv.logger.Info("restarted, handing over listener", zap.Int("pid", pid))
			default:
				srv.logger.Info("shutting down", zap.String("signal", sig.String()))
			}
			go srv.Stop()
			return
		}
	}
}

// fork re-executes the binary with the listening socket as fd 3.
func (srv *Server) fork() (int, error) {
	tcpLn, ok := srv.tcp.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("listener %T cannot be handed over", srv.tcp)
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	env := make([]string, 0, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if e != gracefulEnvValue {
			env = append(env, e)
		}
	}
	env = append(env, gracefulEnvValue)

	pid, err := syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
	if err != nil {
		return 0, fmt.Errorf("forkexec: %w", err)
	}
	return pid, nil
}

// GraceServer serves handler over HTTP until SIGINT/SIGTERM, re-executing on SIGUSR2.
func GraceServer(addr string, handler http.Handler, logger *zap.Logger, opts ServerOptions) error {
	return NewServer(addr, handler, logger, opts).ListenAndServe()
}

// GraceServerTLS is GraceServer over HTTPS.
func GraceServerTLS(addr, certFile, keyFile string, handler http.Handler, logger *zap.Logger, opts ServerOptions) error {
	return NewServer(addr, handler, logger, opts).ListenAndServeTLS(certFile, keyFile)
}
