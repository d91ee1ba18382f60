// Package publish notifies the remote version tracker of new package
// versions and pushes snippet edits straight into the server database.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// DefaultTimeout bounds one publish call.
const DefaultTimeout = 5 * time.Second

const maxLoggedBody = 512

// Config configures the Notifier.
type Config struct {
	Enabled bool
	URL     string
	Auth    string
	Timeout time.Duration
}

type payload struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Notifier posts (name, version) pairs to the publish endpoint, at most
// once per distinct version of a title.
type Notifier struct {
	config Config
	client *http.Client
	logger logging.Logger

	mu        sync.Mutex
	published map[string]string
}

// NewNotifier creates a Notifier. client may be nil.
func NewNotifier(config Config, client *http.Client, logger logging.Logger) *Notifier {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Notifier{
		config:    config,
		client:    client,
		logger:    logger.WithComponent("publish"),
		published: make(map[string]string),
	}
}

// Enabled reports whether publishing is configured.
func (n *Notifier) Enabled() bool {
	return n.config.Enabled
}

// claim records version as the last published one for title and reports
// whether it differs from the previous record.
func (n *Notifier) claim(title, version string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.published[title]; ok && last == version {
		return false
	}
	n.published[title] = version
	return true
}

// Publish sends title and version unless that pair was the last one sent
// for title. Failures are logged and never returned to the caller.
func (n *Notifier) Publish(ctx context.Context, title, version string) {
	if !n.config.Enabled {
		return
	}
	if title == "" || version == "" {
		n.logger.Warn(ctx, nil, "cannot publish version, title or version missing", "title", title, "version", version)
		return
	}
	if !n.claim(title, version) {
		n.logger.Debug(ctx, "version already published", "title", title, "version", version)
		return
	}

	body, err := n.post(ctx, title, version)
	if err != nil {
		n.logger.Warn(ctx, err, "publish version failed", "title", title, "version", version)
		return
	}
	n.logger.Info(ctx, "version published", "title", title, "version", version, "response", body)
}

func (n *Notifier) post(ctx context.Context, title, version string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	data, err := json.Marshal(payload{Name: title, Version: version})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(n.config.URL, "/") + "/" + n.config.Auth
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", errors.NewRemoteError("PUBLISH_REQUEST", "build publish request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", errors.NewRemoteError("PUBLISH", "post version", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewRemoteError("PUBLISH_STATUS", fmt.Sprintf("publish endpoint answered %d: %s", resp.StatusCode, raw), nil)
	}
	return string(raw), nil
}
