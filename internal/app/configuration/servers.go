package configuration

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactverifier"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var servers sync.Map
var hostPaths sync.Map

// StartServer serves the verification API at url. Several APIs can share a host when they are
// served on different paths.
func StartServer(url *url.URL, server ServerConfig, config *pactverifier.Config) error {
	rootServer, loaded := loadServer(url.Host)
	if !loaded {
		var err error
		rootServer, err = newServer(url, server, config)
		if err != nil {
			return err
		}
		servers.Store(url.Host, rootServer)
		go func() {
			var err error
			if server.TLSCertFile != "" && server.TLSKeyFile != "" {
				err = rootServer.ListenAndServeTLS(server.TLSCertFile, server.TLSKeyFile)
			} else {
				err = rootServer.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				log.Error(err)
			}
		}()
		return nil
	}

	if strings.TrimLeft(url.Path, "/") == "" {
		// don't allow two servers on the same address, with empty path
		return fmt.Errorf("verifier already running at %s", url.String())
	}

	// This is a new path for an existing server, so add another rewrite rule
	e := rootServer.Handler.(*echo.Echo)

	// don't allow two servers on the same address, with same path
	if _, found := hostPaths.Load(url.Host + url.Path); found {
		return fmt.Errorf("verifier already running at %s", url.String())
	}
	hostPaths.Store(url.Host+url.Path, true)
	addRewrite(e, url.Path)

	return nil
}

func loadServer(addr string) (*http.Server, bool) {
	server, loaded := servers.Load(addr)
	if !loaded {
		return nil, false
	}
	return server.(*http.Server), loaded
}

func ShutdownAllServers(ctx context.Context) {
	servers.Range(func(key, _ interface{}) bool {
		server, loaded := servers.LoadAndDelete(key)
		if loaded {
			if err := server.(*http.Server).Shutdown(ctx); err != nil {
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

func newServer(url *url.URL, server ServerConfig, config *pactverifier.Config) (*http.Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	pactverifier.SetupRoutes(e, config)

	s := http.Server{
		Addr:    url.Host,
		Handler: e,
	}

	if server.TLSCAFile != "" {
		if server.TLSCertFile == "" || server.TLSKeyFile == "" {
			return nil, errors.New("cannot run in mTLS mode without TLS cert and key")
		}

		caCertFile, err := os.ReadFile(server.TLSCAFile)
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

	if strings.TrimLeft(url.Path, "/") != "" {
		hostPaths.Store(url.Host+url.Path, true)
		addRewrite(e, url.Path)
	}

	return &s, nil
}

func addRewrite(e *echo.Echo, path string) {
	e.Pre(middleware.Rewrite(map[string]string{
		path + "/*": "/$1",
	}))
}
