package im

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/nodeforge/fabricd/pkg/exchange"
	imsg "github.com/nodeforge/fabricd/pkg/im/message"
	"github.com/nodeforge/fabricd/pkg/metrics"
	"github.com/nodeforge/fabricd/pkg/tlv"
	"github.com/pion/logging"
)

// reportPollInterval is how often runReportLoop re-reads the subscribed
// paths to check for a change. It is independent of, and finer-grained
// than, any single subscription's negotiated min/max interval: the min
// and max intervals gate when a detected change (or keep-alive) is allowed
// to go out, not how often the server looks for one.
const reportPollInterval = 500 * time.Millisecond

// Subscription interval bounds, Spec Section 8.5.1 "Subscribe Interaction".
const (
	// MinIntervalFloorCeiling is the smallest accepted MaxIntervalCeiling.
	MinIntervalFloorCeiling = 1 * time.Second

	// DefaultMaxIntervalCeiling caps the negotiated max interval when the
	// subscriber did not request something smaller.
	DefaultMaxIntervalCeiling = 60 * time.Second

	// MaxMaxIntervalCeiling is the largest max interval this node accepts.
	MaxMaxIntervalCeiling = 1 * time.Hour
)

// Subscription errors.
var (
	ErrSubscriptionNotFound     = errors.New("subscription: not found")
	ErrTooManySubscriptions     = errors.New("subscription: resource exhausted")
	ErrInvalidSubscribeInterval = errors.New("subscription: MinIntervalFloor exceeds MaxIntervalCeiling")
)

// DefaultMaxSubscriptions bounds the number of concurrent subscriptions this
// node will service, per Spec Section 8.5.1's "SUBSCRIPTION_MAX_" budgets.
const DefaultMaxSubscriptions = 8

// subscription tracks one live SubscribeRequest->ReportData relationship.
// It owns the exchange the SubscribeRequest arrived on: Matter subscriptions
// are scoped to a single exchange for their lifetime (Spec 8.5.1), so
// periodic reports are pushed as unsolicited messages on that exchange
// rather than opening new exchanges per report.
type subscription struct {
	id          imsg.SubscriptionID
	exch        *exchange.ExchangeContext
	fabricIndex uint8
	peerNodeID  uint64

	attributePaths []imsg.AttributePathIB
	eventPaths     []imsg.EventPathIB
	fabricFiltered bool

	minInterval time.Duration
	maxInterval time.Duration

	reader AttributeReader
	events *EventManager

	// lastReportAt and lastReportHash track when the subscription last sent
	// a report and a digest of its content, so runReportLoop can tell a
	// real attribute/event change from a no-op poll.
	lastReportAt   time.Time
	lastReportHash [sha256.Size]byte

	stop chan struct{}
	once sync.Once
}

// SubscriptionManager tracks all live subscriptions served by this node's
// Interaction Model engine and drives their periodic report schedules.
//
// Spec Reference: Section 8.5 "Subscribe Interaction"
// Open Question (resubscription on peer NodeID change): a NOC update or CASE
// resumption under a different NodeID on the same fabric does NOT silently
// rebind an existing subscription to the new identity. The old subscription
// is terminated; the peer must issue a fresh SubscribeRequest. See
// TerminateForPeer.
type SubscriptionManager struct {
	mu             sync.Mutex
	subs           map[imsg.SubscriptionID]*subscription
	nextID         uint32
	maxSubs        int
	defaultReader  AttributeReader
	events         *EventManager
	log            logging.LeveledLogger
}

// SubscriptionManagerConfig configures a SubscriptionManager.
type SubscriptionManagerConfig struct {
	// MaxSubscriptions bounds concurrent subscriptions. Defaults to
	// DefaultMaxSubscriptions.
	MaxSubscriptions int

	// EventManager supplies event reports for event-path subscriptions.
	// Optional.
	EventManager *EventManager

	// LoggerFactory creates the subscription manager's logger.
	LoggerFactory logging.LoggerFactory
}

// NewSubscriptionManager creates a SubscriptionManager.
func NewSubscriptionManager(config SubscriptionManagerConfig) *SubscriptionManager {
	maxSubs := config.MaxSubscriptions
	if maxSubs <= 0 {
		maxSubs = DefaultMaxSubscriptions
	}

	m := &SubscriptionManager{
		subs:    make(map[imsg.SubscriptionID]*subscription),
		maxSubs: maxSubs,
		events:  config.EventManager,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("im-subscription")
	}
	return m
}

// negotiateMaxInterval clamps the subscriber's requested ceiling into this
// node's accepted range, per Spec 8.5.1's negotiation rules: the server
// picks a MaxInterval no smaller than the floor and no larger than its own
// cap, preferring the subscriber's ceiling when reasonable.
func negotiateMaxInterval(floor, ceiling time.Duration) time.Duration {
	max := ceiling
	if max <= 0 {
		max = DefaultMaxIntervalCeiling
	}
	if max < floor {
		max = floor
	}
	if max < MinIntervalFloorCeiling {
		max = MinIntervalFloorCeiling
	}
	if max > MaxMaxIntervalCeiling {
		max = MaxMaxIntervalCeiling
	}
	return max
}

// HandleSubscribeRequest processes a SubscribeRequestMessage: it registers
// the subscription, sends the priming ReportData synchronously (as the
// OnMessage response) and starts the periodic report loop for subsequent
// updates.
//
// Spec: Section 8.5.1, steps 1-4 (SubscribeRequest -> priming ReportData ->
// SubscribeResponse).
func (m *SubscriptionManager) HandleSubscribeRequest(
	exch *exchange.ExchangeContext,
	req *imsg.SubscribeRequestMessage,
	reader AttributeReader,
	fabricIndex uint8,
	sourceNodeID uint64,
) (*imsg.ReportDataMessage, *imsg.SubscribeResponseMessage, error) {
	m.mu.Lock()
	if len(m.subs) >= m.maxSubs {
		m.mu.Unlock()
		return nil, nil, ErrTooManySubscriptions
	}
	m.mu.Unlock()

	floor := time.Duration(req.MinIntervalFloorSeconds) * time.Second
	ceiling := time.Duration(req.MaxIntervalCeilingSeconds) * time.Second

	// Spec 8.5.1 Boundary Behaviour: a floor greater than the requested
	// ceiling is an invalid request, not something to silently clamp.
	if req.MaxIntervalCeilingSeconds > 0 && floor > ceiling {
		return nil, nil, ErrInvalidSubscribeInterval
	}

	maxInterval := negotiateMaxInterval(floor, ceiling)

	m.mu.Lock()
	m.nextID++
	id := imsg.SubscriptionID(m.nextID)
	m.mu.Unlock()

	sub := &subscription{
		id:             id,
		exch:           exch,
		fabricIndex:    fabricIndex,
		peerNodeID:     sourceNodeID,
		attributePaths: req.AttributeRequests,
		eventPaths:     req.EventRequests,
		fabricFiltered: req.FabricFiltered,
		minInterval:    floor,
		maxInterval:    maxInterval,
		reader:         reader,
		events:         m.events,
		stop:           make(chan struct{}),
	}

	// Build the priming report: a full ReportData for every requested path,
	// sent in the same response as the SubscribeResponse's transaction.
	priming := m.buildReport(sub, true)
	priming.SubscriptionID = &id
	sub.lastReportAt = time.Now()
	sub.lastReportHash = reportDigest(priming)

	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()

	metrics.SubscriptionsActive.Inc()
	if m.log != nil {
		m.log.Debugf("subscription %d established: fabric=%d peer=%d interval=%s", id, fabricIndex, sourceNodeID, maxInterval)
	}

	go m.runReportLoop(sub)

	return priming, &imsg.SubscribeResponseMessage{
		SubscriptionID: id,
		MaxInterval:    uint16(maxInterval / time.Second),
	}, nil
}

// runReportLoop implements Spec 8.5.1's reporting condition: the server
// reports whenever (a) a subscribed path changed and at least minInterval
// has elapsed since the last report, or (b) maxInterval has elapsed
// regardless of change (the keep-alive case). It polls at reportPollInterval
// to notice changes promptly without exceeding the negotiated rates.
func (m *SubscriptionManager) runReportLoop(sub *subscription) {
	pollEvery := reportPollInterval
	if sub.maxInterval < pollEvery {
		pollEvery = sub.maxInterval
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			report := m.buildReport(sub, false)
			digest := reportDigest(report)
			sinceLast := time.Since(sub.lastReportAt)

			changed := digest != sub.lastReportHash
			dueToChange := changed && sinceLast >= sub.minInterval
			dueToKeepAlive := sinceLast >= sub.maxInterval

			if !dueToChange && !dueToKeepAlive {
				continue
			}

			report.SubscriptionID = &sub.id
			payload, err := EncodeReportData(report)
			if err != nil {
				if m.log != nil {
					m.log.Errorf("subscription %d: encode report: %v", sub.id, err)
				}
				continue
			}

			if sub.exch == nil {
				continue
			}
			if err := sub.exch.SendMessage(uint8(imsg.OpcodeReportData), payload, true); err != nil {
				if m.log != nil {
					m.log.Warnf("subscription %d: send report failed, terminating: %v", sub.id, err)
				}
				m.Terminate(sub.id)
				return
			}

			sub.lastReportAt = time.Now()
			sub.lastReportHash = digest
			metrics.ReportsSent.WithLabelValues("subscribe").Inc()
		}
	}
}

// reportDigest hashes the parts of a ReportData that reflect subscribed
// state (not the SubscriptionID, which is constant for the life of the
// subscription) so runReportLoop can detect an actual attribute/event
// change cheaply, without diffing structured IBs field by field.
func reportDigest(report *imsg.ReportDataMessage) [sha256.Size]byte {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	// Encode without the SubscriptionID so the digest reflects content only.
	id := report.SubscriptionID
	report.SubscriptionID = nil
	_ = report.Encode(w)
	report.SubscriptionID = id
	return sha256.Sum256(buf.Bytes())
}

// buildReport reads every subscribed attribute path (and, if an
// EventManager is configured, gathers matching events) into a single
// ReportDataMessage. priming indicates this is the first report sent as
// part of subscription establishment.
func (m *SubscriptionManager) buildReport(sub *subscription, priming bool) *imsg.ReportDataMessage {
	report := &imsg.ReportDataMessage{
		SuppressResponse: true,
	}

	readCtx := &ReadContext{
		FabricIndex:      sub.fabricIndex,
		IsFabricFiltered: sub.fabricFiltered,
		SourceNodeID:     sub.peerNodeID,
	}

	if sub.reader != nil {
		for _, path := range sub.attributePaths {
			result, err := sub.reader(readCtx, path)
			if err != nil || result == nil {
				report.AttributeReports = append(report.AttributeReports, imsg.AttributeReportIB{
					AttributeStatus: &imsg.AttributeStatusIB{
						Path:   path,
						Status: imsg.StatusIB{Status: imsg.StatusFailure},
					},
				})
				continue
			}
			if result.Status != nil {
				report.AttributeReports = append(report.AttributeReports, imsg.AttributeReportIB{
					AttributeStatus: &imsg.AttributeStatusIB{
						Path:   path,
						Status: *result.Status,
					},
				})
				continue
			}
			report.AttributeReports = append(report.AttributeReports, imsg.AttributeReportIB{
				AttributeData: &imsg.AttributeDataIB{
					DataVersion: result.DataVersion,
					Path:        path,
					Data:        result.Data,
				},
			})
		}
	}

	if sub.events != nil && len(sub.eventPaths) > 0 {
		for _, p := range sub.eventPaths {
			ep := EventPath{}
			if p.Endpoint != nil {
				ep.EndpointID = *p.Endpoint
			}
			if p.Cluster != nil {
				ep.ClusterID = *p.Cluster
			}
			if p.Event != nil {
				ep.EventID = *p.Event
			}
			records := sub.events.GetEvents(&ep, nil, sub.fabricIndex, nil)
			for _, rec := range records {
				report.EventReports = append(report.EventReports, rec.ToEventReportIB())
			}
		}
	}

	_ = priming
	return report
}

// Terminate ends a subscription and stops its report loop. Safe to call
// more than once.
func (m *SubscriptionManager) Terminate(id imsg.SubscriptionID) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sub.once.Do(func() { close(sub.stop) })
	metrics.SubscriptionsActive.Dec()
	if m.log != nil {
		m.log.Debugf("subscription %d terminated", id)
	}
}

// TerminateByExchange terminates any subscription bound to the given
// exchange. Called from the engine's OnClose when the underlying exchange
// (and therefore session) goes away.
func (m *SubscriptionManager) TerminateByExchange(exch *exchange.ExchangeContext) {
	m.mu.Lock()
	var toRemove []imsg.SubscriptionID
	for id, sub := range m.subs {
		if sub.exch == exch {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toRemove {
		m.Terminate(id)
	}
}

// TerminateForPeer terminates every subscription held by a given
// (fabricIndex, nodeID) peer. Callers (fabric/session management) invoke
// this when a peer's NodeID changes on a fabric, e.g. after a NOC update:
// per the decided policy, subscriptions do not silently rebind to the new
// identity, they are torn down and must be re-established.
func (m *SubscriptionManager) TerminateForPeer(fabricIndex uint8, nodeID uint64) {
	m.mu.Lock()
	var toRemove []imsg.SubscriptionID
	for id, sub := range m.subs {
		if sub.fabricIndex == fabricIndex && sub.peerNodeID == nodeID {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toRemove {
		m.Terminate(id)
	}
}

// TerminateAllForFabric ends every subscription on a fabric, e.g. when the
// fabric itself is removed.
func (m *SubscriptionManager) TerminateAllForFabric(fabricIndex uint8) {
	m.mu.Lock()
	var toRemove []imsg.SubscriptionID
	for id, sub := range m.subs {
		if sub.fabricIndex == fabricIndex {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toRemove {
		m.Terminate(id)
	}
}

// Count returns the number of active subscriptions.
func (m *SubscriptionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// DecodeSubscribeRequest decodes a SubscribeRequestMessage.
func DecodeSubscribeRequest(data []byte) (*imsg.SubscribeRequestMessage, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	var msg imsg.SubscribeRequestMessage
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeSubscribeResponse encodes a SubscribeResponseMessage.
func EncodeSubscribeResponse(msg *imsg.SubscribeResponseMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := msg.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
