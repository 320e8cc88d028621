// Package notifycore is the durable Postgres LISTEN/NOTIFY subscriber that
// fans events out to this service's own HTTP endpoints. It uses
// jackc/pgx/v5 directly (not GORM, which has no LISTEN/NOTIFY support) and
// reconnects with jittered exponential backoff. The backoff loop's
// attempt-counting reset-on-success shape is grounded on the teacher's
// pkg/database.CircuitBreaker state machine, adapted from failure-counting
// (open/half-open/closed) to reconnect-attempt-counting, since a listener
// has no "half open trial" concept — only "try again, maybe slower".
package notifycore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// SelfCallUserAgent is the literal contract string the ingress logger
// recognizes and skips. The literal string is load-bearing, not its
// language implication.
const SelfCallUserAgent = "trigger-robot/1.0 (Rust)"

const (
	entityActivityChannel = "entity-activity"
	rotationEndedChannel  = "rotation-ended"

	leaveFanOutDelay = 2 * time.Minute
)

// entityActivityPayload is the JSON body delivered on the entity-activity
// channel. All three fields are required; a payload missing one is dropped
// with a warning rather than fanned out with empty placeholders.
type entityActivityPayload struct {
	EntityID    string `json:"entity_id"`
	ContainerID string `json:"container_id"`
	EventName   string `json:"event_name"`
}

func (p entityActivityPayload) missingField() string {
	switch {
	case p.EntityID == "":
		return "entity_id"
	case p.ContainerID == "":
		return "container_id"
	case p.EventName == "":
		return "event_name"
	default:
		return ""
	}
}

// rotationEndedPayload is the JSON body delivered on the rotation-ended
// channel. All three fields are required.
type rotationEndedPayload struct {
	ContainerID  string `json:"container_id"`
	RotationName string `json:"rotation_name"`
	PlayerCount  *int   `json:"player_count"`
}

func (p rotationEndedPayload) missingField() string {
	switch {
	case p.ContainerID == "":
		return "container_id"
	case p.RotationName == "":
		return "rotation_name"
	case p.PlayerCount == nil:
		return "player_count"
	default:
		return ""
	}
}

// FanOutTarget is one self-call the listener issues after a qualifying
// notification. URLTemplate carries `{container-id}`/`{entity-id}` or
// `{container-id}`/`{rotation-name}` placeholders, substituted with the
// real notification payload before the request is sent (spec §4.6/§6).
type FanOutTarget struct {
	Name        string
	URLTemplate string
}

// render substitutes placeholders in the target's URL template with the
// given values, keyed without braces (e.g. "container-id" for
// "{container-id}").
func (t FanOutTarget) render(values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t.URLTemplate)
}

// Config controls channel subscriptions and fan-out targets.
type Config struct {
	ConnString           string
	SelfCallBaseURL      string
	EntityActivityFanOut []FanOutTarget
	RotationEndedFanOut  []FanOutTarget
}

// Listener owns one LISTEN connection and the HTTP client used for fan-out.
type Listener struct {
	cfg    Config
	log    logging.Logger
	client *http.Client
}

func NewListener(cfg Config, log logging.Logger) *Listener {
	return &Listener{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run subscribes to both channels and blocks, reconnecting with jittered
// exponential backoff until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		subscribed, err := l.runOnce(ctx)
		if subscribed {
			attempt = 0
		}
		if err != nil {
			l.log.Error("notifycore: listen connection dropped", err, logging.Int("attempt", attempt))
			if waitErr := l.backoff(ctx, attempt); waitErr != nil {
				return
			}
			attempt++
			continue
		}
	}
}

func (l *Listener) backoff(ctx context.Context, attempt int) error {
	capped := attempt
	if capped > 5 {
		capped = 5
	}
	delay := time.Duration(1<<capped) * time.Second
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay + jitter):
		return nil
	}
}

// runOnce connects, subscribes and delivers notifications until the
// connection fails. subscribed reports whether the connection got as far as
// subscribing to every channel, which is what resets the backoff counter.
func (l *Listener) runOnce(ctx context.Context) (subscribed bool, err error) {
	conn, err := pgx.Connect(ctx, l.cfg.ConnString)
	if err != nil {
		return false, fmt.Errorf("notifycore: connect: %w", err)
	}
	defer conn.Close(ctx)

	for _, channel := range []string{entityActivityChannel, rotationEndedChannel} {
		if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %q", channel)); err != nil {
			return false, fmt.Errorf("notifycore: listen %s: %w", channel, err)
		}
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("notifycore: wait: %w", err)
		}
		l.handle(ctx, notification)
	}
}

func (l *Listener) handle(ctx context.Context, n *pgconn.Notification) {
	switch n.Channel {
	case entityActivityChannel:
		l.handleEntityActivity(ctx, n.Payload)
	case rotationEndedChannel:
		l.handleRotationEnded(ctx, n.Payload)
	default:
		l.log.Warn("notifycore: unknown channel, ignoring", logging.String("channel", n.Channel))
	}
}

func (l *Listener) handleEntityActivity(ctx context.Context, raw string) {
	var payload entityActivityPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		l.log.Warn("notifycore: malformed entity-activity payload", logging.Err(err))
		return
	}
	if missing := payload.missingField(); missing != "" {
		l.log.Warn("notifycore: entity-activity payload missing required field, dropping",
			logging.String("field", missing))
		return
	}

	if payload.EventName != "leave" {
		return
	}

	targets := l.cfg.EntityActivityFanOut
	values := map[string]string{
		"container-id": payload.ContainerID,
		"entity-id":    payload.EntityID,
	}
	time.AfterFunc(leaveFanOutDelay, func() {
		l.fanOutSequential(context.Background(), targets, values)
	})
}

func (l *Listener) handleRotationEnded(ctx context.Context, raw string) {
	var payload rotationEndedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		l.log.Warn("notifycore: malformed rotation-ended payload", logging.Err(err))
		return
	}
	if missing := payload.missingField(); missing != "" {
		l.log.Warn("notifycore: rotation-ended payload missing required field, dropping",
			logging.String("field", missing))
		return
	}

	values := map[string]string{
		"container-id":  payload.ContainerID,
		"rotation-name": payload.RotationName,
		"player-count":  strconv.Itoa(*payload.PlayerCount),
	}
	l.fanOutSequential(ctx, l.cfg.RotationEndedFanOut, values)
}

// fanOutSequential issues each self-call one after another rather than
// concurrently, matching the debounced/ordered intent of a single delayed
// rollup rather than a burst of requests. Each target's URL template is
// rendered with the triggering payload's values before the call. Self-calls
// are GET, since they warm read endpoints rather than mutate anything.
func (l *Listener) fanOutSequential(ctx context.Context, targets []FanOutTarget, values map[string]string) {
	for _, target := range targets {
		url := target.render(values)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			l.log.Warn("notifycore: fan-out request build failed", logging.String("target", target.Name), logging.Err(err))
			continue
		}
		req.Header.Set("User-Agent", SelfCallUserAgent)

		resp, err := l.client.Do(req)
		if err != nil {
			l.log.Warn("notifycore: fan-out request failed", logging.String("target", target.Name), logging.Err(err))
			continue
		}
		resp.Body.Close()
	}
}
