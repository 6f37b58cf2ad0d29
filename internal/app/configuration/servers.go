package configuration

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/stub"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrAlreadyRunning = errors.New("stub already running")

var servers sync.Map
var listeners sync.Map
var hostPaths sync.Map

// StartServer serves doc at address. Several stubs may share a host when
// each has its own path; a stub with no path owns the whole host.
func StartServer(address *url.URL, doc contract.Document, files TLSFiles) (*stub.Stub, error) {
	prefix := strings.TrimRight(address.Path, "/")
	key := address.Host + prefix
	if _, found := hostPaths.Load(key); found {
		return nil, errors.Wrapf(ErrAlreadyRunning, "at %s", address.String())
	}

	s := stub.New(doc)
	rootServer, loaded := loadServer(address.Host)
	if !loaded {
		server, err := newServer(address, files)
		if err != nil {
			return nil, err
		}
		if err := listen(server, files); err != nil {
			return nil, err
		}
		servers.Store(address.Host, server)
		rootServer = server
	} else if prefix == "" {
		// don't allow a root stub on a host already serving path stubs
		return nil, errors.Wrapf(ErrAlreadyRunning, "at %s", address.String())
	}

	hostPaths.Store(key, s)
	s.SetupRoutes(rootServer.Handler.(*echo.Echo), prefix)
	log.Infof("serving %d interactions of %s at %s", len(doc.Interactions), doc.Provider, address.String())
	return s, nil
}

// LoadStub returns the stub running at address, if any.
func LoadStub(address *url.URL) (*stub.Stub, bool) {
	s, ok := hostPaths.Load(address.Host + strings.TrimRight(address.Path, "/"))
	if !ok {
		return nil, false
	}
	return s.(*stub.Stub), true
}

func loadServer(addr string) (*http.Server, bool) {
	server, loaded := servers.Load(addr)
	if !loaded {
		return nil, false
	}
	return server.(*http.Server), loaded
}

func listen(server *http.Server, files TLSFiles) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", server.Addr)
	}
	listeners.Store(server.Addr, ln)

	go func() {
		var err error
		if files.Enabled() {
			err = server.ServeTLS(ln, files.CertFile, files.KeyFile)
		} else {
			err = server.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed && !errors.Is(err, net.ErrClosed) {
			log.Error(err)
		}
	}()
	return nil
}

func ShutdownAllServers(ctx context.Context) {
	servers.Range(func(key, _ interface{}) bool {
		server, loaded := servers.LoadAndDelete(key)
		if loaded {
			if err := server.(*http.Server).Shutdown(ctx); err != nil {
				log.Error(err)
			}
		}
		// Serve may not have picked up the listener yet
		if ln, loaded := listeners.LoadAndDelete(key); loaded {
			if err := ln.(net.Listener).Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Error(err)
			}
		}
		return true
	})

	hostPaths.Range(func(key, value any) bool {
		hostPaths.Delete(key)
		return true
	})
}

func newServer(address *url.URL, files TLSFiles) (*http.Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := http.Server{
		Addr:    address.Host,
		Handler: e,
	}

	if files.CAFile != "" {
		if !files.Enabled() {
			return nil, errors.New("cannot run in mTLS mode without TLS cert and key")
		}

		caCertFile, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "error reading CA certificate")
		}
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(caCertFile)
		s.TLSConfig = &tls.Config{
			ClientAuth: tls.RequireAndVerifyClientCert,
			ClientCAs:  certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &s, nil
}
