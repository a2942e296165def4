// Package pactverifier serves verifications over HTTP: pacts are submitted, verified in the
// background against the configured provider and their reports fetched or waited for.
package pactverifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/httpresponse"
	"github.com/form3tech-oss/pact-verifier/internal/app/matching"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/form3tech-oss/pact-verifier/internal/app/verification"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultDelay    = 500 * time.Millisecond
	defaultDuration = 15 * time.Second
)

type Config struct {
	WaitDelay    time.Duration // Default delay between checks of the wait endpoint
	WaitDuration time.Duration // Default duration of the wait endpoint
	Options      verification.Options
	Client       verification.HTTPDoer
	States       verification.StateChanger
}

type api struct {
	config   *Config
	runs     *Runs
	notify   *notify
	delay    time.Duration
	duration time.Duration
}

// SetupRoutes registers the verification API on e.
func SetupRoutes(e *echo.Echo, config *Config) {
	a := &api{
		config:   config,
		runs:     &Runs{},
		notify:   newNotify(),
		delay:    config.WaitDelay,
		duration: config.WaitDuration,
	}
	if a.delay == 0 {
		a.delay = defaultDelay
	}
	if a.duration == 0 {
		a.duration = defaultDuration
	}

	e.GET("/ready", a.readinessHandler)
	e.POST("/verifications", a.postVerificationsHandler)
	e.GET("/verifications", a.listVerificationsHandler)
	e.DELETE("/verifications", a.deleteVerificationsHandler)
	e.GET("/verifications/wait", a.waitAllHandler)
	e.GET("/verifications/:id", a.getVerificationHandler)
	e.GET("/verifications/:id/wait", a.waitVerificationHandler)
	e.POST("/matches", a.matchesHandler)
}

func (a *api) readinessHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (a *api) postVerificationsHandler(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read pact. %s", err.Error()))
	}

	p, err := pact.Load(data, "api")
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to load pact. %s", err.Error()))
	}
	if pending, _ := strconv.ParseBool(c.QueryParam("pending")); pending {
		p.Pending = true
	}

	opts := a.config.Options
	if provider := c.QueryParam("provider"); provider != "" {
		u, err := url.Parse(provider)
		if err != nil {
			return c.JSON(http.StatusBadRequest, httpresponse.Errorf("invalid provider url. %s", err.Error()))
		}
		opts.ProviderURL = u
	}

	verifier, err := verification.New(opts, a.config.Client, a.config.States)
	if err != nil {
		var configErr *verification.ConfigurationError
		if errors.As(err, &configErr) {
			return c.JSON(http.StatusBadRequest, httpresponse.Error(configErr.Error()))
		}
		return c.JSON(http.StatusInternalServerError, httpresponse.Errorf("unable to create verifier. %s", err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := newRun(p.Consumer.Name, p.Provider.Name, cancel)
	a.runs.Store(run)

	log.WithFields(log.Fields{
		"run":      run.ID(),
		"consumer": p.Consumer.Name,
		"provider": p.Provider.Name,
	}).Infof("starting verification of %d interactions", len(p.Interactions))

	go func() {
		defer cancel()
		report := verifier.Verify(ctx, p)
		run.complete(report, ctx.Err() != nil)
		a.notify.Notify()
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"id": run.ID()})
}

func (a *api) listVerificationsHandler(c echo.Context) error {
	docs := []RunDocument{}
	for _, run := range a.runs.All() {
		docs = append(docs, run.Document())
	}
	return c.JSON(http.StatusOK, docs)
}

func (a *api) deleteVerificationsHandler(c echo.Context) error {
	log.Info("deleting verifications")
	a.runs.Clear()
	a.notify.Notify()
	return c.NoContent(http.StatusNoContent)
}

func (a *api) getVerificationHandler(c echo.Context) error {
	run, ok := a.runs.Load(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Errorf("unable to find verification '%s'", c.Param("id")))
	}
	return c.JSON(http.StatusOK, run.Document())
}

func (a *api) waitVerificationHandler(c echo.Context) error {
	id := c.Param("id")
	run, ok := a.runs.Load(id)
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Errorf("cannot wait for verification '%s', verification not found.", id))
	}

	duration := a.duration
	if timeout := c.QueryParam("timeout"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return c.JSON(http.StatusBadRequest, httpresponse.Errorf("invalid timeout '%s'. %s", timeout, err.Error()))
		}
		duration = d
	}

	log.WithField("wait_for", id).Info("waiting")
	retryFor(c.Request().Context(), func(timeLeft time.Duration) bool {
		log.WithFields(log.Fields{
			"wait_for":       id,
			"time_remaining": timeLeft,
		}).Debug("retry")
		if run.Done() {
			return true
		}
		if timeLeft > 0 {
			a.notify.Wait(timeLeft)
		}
		return run.Done()
	}, a.delay, duration)

	if !run.Done() {
		return c.JSON(http.StatusRequestTimeout, httpresponse.Error("timeout waiting for verification to complete"))
	}
	return c.JSON(http.StatusOK, run.Document())
}

func (a *api) waitAllHandler(c echo.Context) error {
	log.Info("waiting for all")
	retryFor(c.Request().Context(), func(timeLeft time.Duration) bool {
		if a.runs.AllDone() {
			return true
		}
		if timeLeft > 0 {
			a.notify.Wait(timeLeft)
		}
		return a.runs.AllDone()
	}, a.delay, a.duration)

	if !a.runs.AllDone() {
		for _, run := range a.runs.All() {
			if !run.Done() {
				log.Infof("verification '%s' of %s is still running", run.ID(), run.consumer)
			}
		}
		return c.JSON(http.StatusRequestTimeout, httpresponse.Error("timeout waiting for verifications to complete"))
	}
	return c.NoContent(http.StatusOK)
}

func (a *api) matchesHandler(c echo.Context) error {
	var body matchRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read match request. %s", err.Error()))
	}

	p, err := pact.Load(body.Pact, "api")
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to load pact. %s", err.Error()))
	}
	interaction, ok := findInteraction(p, body.Interaction)
	if !ok {
		return c.JSON(http.StatusNotFound, httpresponse.Errorf("unable to find interaction '%s'", body.Interaction))
	}

	req, err := body.Request.toRequest()
	if err != nil {
		return c.JSON(http.StatusBadRequest, httpresponse.Errorf("unable to read request. %s", err.Error()))
	}

	mismatches := matching.MatchRequest(interaction.Request, req, matching.Options{SpecVersion: interaction.SpecVersion.Major()})
	if mismatches == nil {
		mismatches = []matching.Mismatch{}
	}
	return c.JSON(http.StatusOK, matchResult{
		Interaction: interaction.Description,
		Matched:     len(mismatches) == 0,
		Mismatches:  mismatches,
	})
}
