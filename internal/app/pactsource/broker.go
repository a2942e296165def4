package pactsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	latestProviderPactsRel  = "pb:latest-provider-pacts"
	pactsForVerificationRel = "pb:provider-pacts-for-verification"

	defaultBrokerAttempts = 3
	defaultBrokerDelay    = 200 * time.Millisecond
)

var templateToken = regexp.MustCompile(`\{(\w+)\}`)

// HTTPDoer sends requests to the broker. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConsumerVersionSelector selects the consumer versions whose pacts are verified.
type ConsumerVersionSelector struct {
	Tag                string `json:"tag,omitempty" yaml:"tag"`
	Branch             string `json:"branch,omitempty" yaml:"branch"`
	Latest             bool   `json:"latest,omitempty" yaml:"latest"`
	Consumer           string `json:"consumer,omitempty" yaml:"consumer"`
	MainBranch         bool   `json:"mainBranch,omitempty" yaml:"mainBranch"`
	DeployedOrReleased bool   `json:"deployedOrReleased,omitempty" yaml:"deployedOrReleased"`
}

type BrokerConfig struct {
	URL      *url.URL
	Provider string
	Username string
	Password string
	Token    string
	// Selectors switch the broker client to the pacts for verification API.
	Selectors       []ConsumerVersionSelector
	ProviderTags    []string
	ProviderBranch  string
	IncludePending  bool
	IncludeWIPSince string
	Attempts        uint
	Delay           time.Duration
}

// NotFoundError is returned when the broker answers 404.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pact broker resource '%s' was not found", e.URL)
}

// Broker fetches pacts from a pact broker by following its HAL links.
type Broker struct {
	config BrokerConfig
	client HTTPDoer
}

func NewBroker(config BrokerConfig, client HTTPDoer) (*Broker, error) {
	if config.URL == nil || config.URL.Host == "" {
		return nil, errors.New("pact broker url is required")
	}
	if config.Provider == "" {
		return nil, errors.New("provider name is required to fetch pacts from a broker")
	}
	if config.Attempts == 0 {
		config.Attempts = defaultBrokerAttempts
	}
	if config.Delay == 0 {
		config.Delay = defaultBrokerDelay
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Broker{config: config, client: client}, nil
}

// Pacts fetches the pacts to verify: the pacts for verification when selectors, pending or WIP
// pacts are configured, the latest pact of every consumer otherwise.
func (b *Broker) Pacts(ctx context.Context) ([]*pact.Pact, error) {
	if len(b.config.Selectors) > 0 || b.config.IncludePending || b.config.IncludeWIPSince != "" {
		return b.PactsForVerification(ctx)
	}
	return b.LatestPacts(ctx)
}

// LatestPacts fetches the latest pact of every consumer of the provider.
func (b *Broker) LatestPacts(ctx context.Context) ([]*pact.Pact, error) {
	root, err := b.get(ctx, "/")
	if err != nil {
		return nil, err
	}

	href, err := b.link(root, latestProviderPactsRel)
	if err != nil {
		return nil, err
	}
	index, err := b.get(ctx, href)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return nil, errors.Errorf("no pacts for provider '%s' were found in the pact broker", b.config.Provider)
		}
		return nil, err
	}

	links := gjson.GetBytes(index, "_links.pacts")
	if !links.IsArray() {
		links = member(gjson.GetBytes(index, "_links"), "pb:pacts")
	}
	if !links.IsArray() {
		return nil, errors.Errorf("pact broker response has no pacts links")
	}

	var pacts []*pact.Pact
	for _, link := range links.Array() {
		pactHref := link.Get("href").String()
		if pactHref == "" && link.Type == gjson.String {
			pactHref = link.String()
		}
		if pactHref == "" {
			return nil, errors.New("pact broker returned a pact link without href")
		}
		p, err := b.fetchPact(ctx, pactHref)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}
	return pacts, nil
}

type pactsForVerificationRequest struct {
	ConsumerVersionSelectors []ConsumerVersionSelector `json:"consumerVersionSelectors,omitempty"`
	ProviderVersionTags      []string                  `json:"providerVersionTags,omitempty"`
	ProviderVersionBranch    string                    `json:"providerVersionBranch,omitempty"`
	IncludePendingStatus     bool                      `json:"includePendingStatus"`
	IncludeWipPactsSince     string                    `json:"includeWipPactsSince,omitempty"`
}

// PactsForVerification asks the broker which pacts to verify and marks pending and work in
// progress pacts as such.
func (b *Broker) PactsForVerification(ctx context.Context) ([]*pact.Pact, error) {
	root, err := b.get(ctx, "/")
	if err != nil {
		return nil, err
	}
	href, err := b.link(root, pactsForVerificationRel)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(pactsForVerificationRequest{
		ConsumerVersionSelectors: b.config.Selectors,
		ProviderVersionTags:      b.config.ProviderTags,
		ProviderVersionBranch:    b.config.ProviderBranch,
		IncludePendingStatus:     b.config.IncludePending,
		IncludeWipPactsSince:     b.config.IncludeWIPSince,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode pacts for verification request")
	}

	response, err := b.do(ctx, http.MethodPost, href, payload)
	if err != nil {
		return nil, err
	}

	var pacts []*pact.Pact
	for _, entry := range gjson.GetBytes(response, "_embedded.pacts").Array() {
		pactHref := entry.Get("_links.self.href").String()
		if pactHref == "" {
			return nil, errors.New("pact for verification has no self link")
		}
		p, err := b.fetchPact(ctx, pactHref)
		if err != nil {
			return nil, err
		}
		p.Pending = entry.Get("verificationProperties.pending").Bool()
		p.WIP = entry.Get("verificationProperties.wip").Bool()
		for _, note := range entry.Get("verificationProperties.notices.#.text").Array() {
			log.WithField("pact", pactHref).Info(note.String())
		}
		pacts = append(pacts, p)
	}
	return pacts, nil
}

func (b *Broker) fetchPact(ctx context.Context, href string) (*pact.Pact, error) {
	data, err := b.get(ctx, href)
	if err != nil {
		return nil, err
	}
	return pact.Load(data, b.resolve(href))
}

// link returns the href of rel in a HAL document, filling templated hrefs.
func (b *Broker) link(doc []byte, rel string) (string, error) {
	links := gjson.GetBytes(doc, "_links")
	if !links.Exists() {
		return "", errors.Errorf("expected a HAL response from the pact broker, but got a response with no '_links'")
	}
	link := member(links, rel)
	if !link.Exists() {
		var names []string
		links.ForEach(func(key, _ gjson.Result) bool {
			names = append(names, key.String())
			return true
		})
		return "", errors.Errorf("link '%s' was not found in the response, only the following links were found: %s", rel, strings.Join(names, ", "))
	}

	href := link.Get("href").String()
	if href == "" {
		return "", errors.Errorf("link '%s' has no href", rel)
	}
	if link.Get("templated").Bool() {
		values := map[string]string{"provider": b.config.Provider}
		href = templateToken.ReplaceAllStringFunc(href, func(token string) string {
			name := token[1 : len(token)-1]
			if v, ok := values[name]; ok {
				return url.PathEscape(v)
			}
			log.Warnf("no value for '%s' in link '%s'", name, rel)
			return token
		})
	}
	return href, nil
}

// member looks up key without interpreting it as a path.
func member(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found = v
			return false
		}
		return true
	})
	return found
}

// resolve maps an href onto the configured broker URL. Only the path and query of absolute hrefs
// are kept, so brokers behind proxies can advertise their internal host.
func (b *Broker) resolve(href string) string {
	target, err := url.Parse(href)
	if err != nil {
		return strings.TrimRight(b.config.URL.String(), "/") + href
	}
	base := *b.config.URL
	base.Path = strings.TrimRight(base.Path, "/")
	if target.IsAbs() {
		target.Scheme, target.Host = "", ""
		if base.Path != "" && strings.HasPrefix(target.Path, base.Path+"/") {
			target.Path = strings.TrimPrefix(target.Path, base.Path)
		}
	}
	base.Path += "/" + strings.TrimLeft(target.Path, "/")
	base.RawPath = ""
	base.RawQuery = target.RawQuery
	return base.String()
}

func (b *Broker) get(ctx context.Context, href string) ([]byte, error) {
	return b.do(ctx, http.MethodGet, href, nil)
}

func (b *Broker) do(ctx context.Context, method, href string, payload []byte) ([]byte, error) {
	target := b.resolve(href)
	var body []byte
	var last error
	err := retry.Do(func() error {
		var permanent bool
		body, permanent, last = b.send(ctx, method, target, payload)
		if permanent {
			return retry.Unrecoverable(last)
		}
		return last
	},
		retry.Attempts(b.config.Attempts),
		retry.Delay(b.config.Delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("url", target).Debugf("pact broker request failed, attempt %d: %s", n+1, err)
		}),
	)
	if err != nil && last != nil {
		return nil, last
	}
	return body, err
}

// send performs a single broker request. permanent reports errors that a retry cannot fix.
func (b *Broker) send(ctx context.Context, method, target string, payload []byte) (data []byte, permanent bool, err error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, true, errors.Wrap(err, "unable to create pact broker request")
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case b.config.Token != "":
		req.Header.Set("Authorization", "Bearer "+b.config.Token)
	case b.config.Username != "":
		req.SetBasicAuth(b.config.Username, b.config.Password)
	}

	log.Debugf("fetching %s %s from the pact broker", method, target)
	res, err := b.client.Do(req)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to access pact broker at '%s'", target)
	}
	defer res.Body.Close()

	data, err = io.ReadAll(res.Body)
	if err != nil {
		return nil, false, errors.Wrapf(err, "unable to read pact broker response from '%s'", target)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, true, &NotFoundError{URL: target}
	case res.StatusCode >= 500:
		return nil, false, errors.Errorf("request to pact broker '%s' failed: %d", target, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, true, errors.Errorf("request to pact broker '%s' failed: %d", target, res.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/hal+json" {
		return nil, true, errors.Errorf("did not get a HAL response from the pact broker at '%s', content type is '%s'", target, res.Header.Get("Content-Type"))
	}
	if !gjson.ValidBytes(data) {
		return nil, true, errors.Errorf("did not get a valid HAL response body from the pact broker at '%s'", target)
	}
	return data, false, nil
}
