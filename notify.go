package provchain

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Event type tags on the notification surface.
const (
	EventChainHead  = "chain_head"
	EventVerifyOK   = "verify_ok"
	EventVerifyFail = "verify_fail"
)

// HeadEvent is emitted after every successful append.
type HeadEvent struct {
	Type        string `json:"type"`
	Index       uint64 `json:"index"`
	Timestamp   string `json:"timestamp"`
	ArtifactRef string `json:"artifact_ref"`
	EntryHash   string `json:"entry_hash"`
}

// VerifyEvent is emitted after every completed verification run. FailedAt and
// Reason are set only on verify_fail.
type VerifyEvent struct {
	Type     string `json:"type"`
	Count    uint64 `json:"count"`
	FailedAt uint64 `json:"failed_at,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
}

// Notifier consumes append and verification outcomes for display. It is a
// sink only: delivery must never fail an append or a verification, so
// implementations swallow and log their own errors.
type Notifier interface {
	ChainHead(HeadEvent)
	VerifyOutcome(VerifyEvent)
}

// LogNotifier writes events to a logrus logger.
type LogNotifier struct{ Log *logrus.Logger }

func (n *LogNotifier) ChainHead(ev HeadEvent) {
	n.Log.WithFields(logrus.Fields{
		"index":        ev.Index,
		"artifact_ref": ev.ArtifactRef,
		"entry_hash":   shortHash(ev.EntryHash),
	}).Info("chain head advanced")
}

func (n *LogNotifier) VerifyOutcome(ev VerifyEvent) {
	if ev.Type == EventVerifyOK {
		n.Log.WithField("count", ev.Count).Info("chain verified")
		return
	}
	n.Log.WithFields(logrus.Fields{
		"count":     ev.Count,
		"failed_at": ev.FailedAt,
		"reason":    ev.Reason,
	}).Warn("chain verification failed")
}

// WebhookNotifier POSTs events as JSON to a collaborator endpoint (the
// notification dashboard). Delivery is best effort.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Log    *logrus.Logger
}

// NewWebhookNotifier creates a webhook sink with a bounded request timeout.
func NewWebhookNotifier(url string, log *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

func (n *WebhookNotifier) ChainHead(ev HeadEvent) { n.post(ev) }

func (n *WebhookNotifier) VerifyOutcome(ev VerifyEvent) { n.post(ev) }

func (n *WebhookNotifier) post(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		n.Log.WithError(err).Warn("encode notification")
		return
	}
	resp, err := n.Client.Post(n.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		n.Log.WithError(err).Warn("deliver notification")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		n.Log.WithField("status", resp.StatusCode).Warn("notification rejected")
	}
}

// MultiNotifier fans events out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) ChainHead(ev HeadEvent) {
	for _, n := range m {
		n.ChainHead(ev)
	}
}

func (m MultiNotifier) VerifyOutcome(ev VerifyEvent) {
	for _, n := range m {
		n.VerifyOutcome(ev)
	}
}
