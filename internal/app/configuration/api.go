package configuration

import (
	"net/url"

	"github.com/form3tech-oss/pact-verifier/internal/app/pactverifier"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defaultServerAddress = "http://:8080"

// ServeVerificationAPI starts the verification API on every configured server address.
func ServeVerificationAPI(config Config) error {
	opts, err := config.VerifierOptions()
	if err != nil {
		return err
	}
	api := &pactverifier.Config{
		WaitDelay:    config.Server.WaitDelay,
		WaitDuration: config.Server.WaitDuration,
		Options:      opts,
	}

	addresses := config.Server.Addresses
	if len(addresses) == 0 {
		addresses = []string{defaultServerAddress}
	}
	for _, address := range addresses {
		u, err := url.Parse(address)
		if err != nil {
			return errors.Wrapf(err, "invalid server address '%s'", address)
		}
		log.Infof("serving verification api on %s", u)
		if err := StartServer(u, config.Server, api); err != nil {
			return err
		}
	}
	return nil
}
