// Package notify posts operator notifications to a configured webhook.
// The transport is a single "title + body" JSON post; the builders in
// messages.go produce Slack-style markdown bodies.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/contracts"
)

const postTimeout = 10 * time.Second

// Notifier posts messages to the chain's notification webhook. A
// notifier with no URL configured swallows every message.
type Notifier struct {
	url              string
	chainID          int64
	chainName        string
	explorerURL      string
	riskDashboardURL string
	mentionIDs       []string
	watchlist        map[string]bool
	borrowThreshold  float64

	evc  *contracts.EVC
	http *http.Client
	log  *logrus.Entry
}

func New(cfg *config.Chain, evc *contracts.EVC, log *logrus.Entry) *Notifier {
	watchlist := make(map[string]bool, len(cfg.WatchlistVaults))
	for addr := range cfg.WatchlistVaults {
		watchlist[strings.ToLower(addr.Hex())] = true
	}
	return &Notifier{
		url:              cfg.NotificationURL,
		chainID:          cfg.ChainID,
		chainName:        cfg.Name,
		explorerURL:      cfg.ExplorerURL,
		riskDashboardURL: cfg.RiskDashboardURL,
		mentionIDs:       cfg.MentionIDs,
		watchlist:        watchlist,
		borrowThreshold:  cfg.BorrowValueThreshold,
		evc:              evc,
		http:             &http.Client{Timeout: postTimeout},
		log:              log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

type payload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Post sends one message. Delivery failures are logged, never
// propagated: notifications are best-effort.
func (n *Notifier) Post(title, body string) {
	n.log.WithField("title", title).Infof("notification:\n%s", body)
	if !n.Enabled() {
		return
	}

	buf, err := json.Marshal(payload{ID: uuid.NewString(), Title: title, Body: body})
	if err != nil {
		n.log.WithError(err).Error("encode notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(buf))
	if err != nil {
		n.log.WithError(err).Error("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.log.WithError(err).Error("post notification")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.WithField("status", resp.StatusCode).Error("notification rejected")
	}
}

// mentions renders the configured Slack mention ids.
func (n *Notifier) mentions() string {
	parts := make([]string, len(n.mentionIDs))
	for i, id := range n.mentionIDs {
		parts[i] = fmt.Sprintf("<@%s>", id)
	}
	return strings.Join(parts, " ")
}

// Watched reports whether an address is on the explicit report
// watchlist.
func (n *Notifier) Watched(addr string) bool {
	return n.watchlist[strings.ToLower(addr)]
}
