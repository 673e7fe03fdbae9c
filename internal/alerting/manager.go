package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/models"
	"github.com/greenflowstack/greenflow-engine/internal/store"
)

// Options control cooldown gating and buffering.
type Options struct {
	AnomalyCooldown   time.Duration
	ThresholdCooldown time.Duration
	BufferCapacity    int
	PersistTimeout    time.Duration
}

// activeState tracks the cooldown window for one alert type.
type activeState struct {
	alert     models.Alert
	expiresAt time.Time
}

// Manager converts anomaly flags and threshold breaches into deduplicated,
// cooldown-gated alerts. Emitted alerts land in a fixed-capacity in-memory
// buffer synchronously; durable persistence is dispatched asynchronously and
// its failure only logged.
type Manager struct {
	logger *slog.Logger
	opts   Options
	store  store.Store
	hub    *dispatch.Hub
	rules  []ThresholdRule
	now    func() time.Time

	mu         sync.Mutex
	active     map[string]*activeState
	ring       []models.Alert
	totalFired int

	wg sync.WaitGroup
}

// NewManager constructs an alert manager. The hub may be nil (no live push);
// the store may be nil (in-memory only).
func NewManager(logger *slog.Logger, st store.Store, hub *dispatch.Hub, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NoopStore{}
	}
	if opts.AnomalyCooldown <= 0 {
		opts.AnomalyCooldown = 2 * time.Minute
	}
	if opts.ThresholdCooldown <= 0 {
		opts.ThresholdCooldown = 5 * time.Minute
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 200
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 2 * time.Second
	}
	return &Manager{
		logger: logger,
		opts:   opts,
		store:  st,
		hub:    hub,
		rules:  DefaultRules(),
		now:    time.Now,
		active: make(map[string]*activeState),
		ring:   make([]models.Alert, 0, opts.BufferCapacity),
	}
}

// Process handles one anomaly flag. Returns the emitted alert, or nil when
// the flag was suppressed by an active cooldown.
func (m *Manager) Process(flag models.AnomalyFlag) *models.Alert {
	alertType := fmt.Sprintf("%s_spike", flag.Metric)
	return m.maybeFire(alertType, flag.Severity, flag.Message, m.opts.AnomalyCooldown)
}

// EvaluateThresholds checks a raw sample against the rule table and fires
// any breached rules that are not cooling down.
func (m *Manager) EvaluateThresholds(sample models.Sample) []*models.Alert {
	var fired []*models.Alert
	for _, rule := range m.rules {
		if rule.Metric != sample.Metric {
			continue
		}
		severity, breached := rule.classify(sample.Value)
		if !breached {
			continue
		}
		msg := fmt.Sprintf("%s reached %.1f%s from %s", sample.Metric, sample.Value, rule.Unit, sample.SourceID)
		if alert := m.maybeFire(rule.Type, severity, msg, m.opts.ThresholdCooldown); alert != nil {
			fired = append(fired, alert)
		}
	}
	return fired
}

// maybeFire runs the per-type state machine: IDLE -> ACTIVE (cooldown
// running) -> IDLE. The critical section is short; persistence happens
// outside it.
func (m *Manager) maybeFire(alertType string, severity models.Severity, message string, cooldown time.Duration) *models.Alert {
	m.mu.Lock()
	now := m.now()

	if st, ok := m.active[alertType]; ok && now.Before(st.expiresAt) {
		st.alert.SuppressedCount++
		st.alert.LastSeen = now
		m.updateRingLocked(st.alert)
		m.mu.Unlock()
		m.logger.Debug("alert suppressed",
			slog.String("type", alertType),
			slog.Int("suppressed_count", st.alert.SuppressedCount))
		return nil
	}

	alert := models.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		FirstSeen: now,
		LastSeen:  now,
	}
	m.active[alertType] = &activeState{alert: alert, expiresAt: now.Add(cooldown)}
	m.appendLocked(alert)
	m.totalFired++
	m.mu.Unlock()

	m.logger.Info("alert fired",
		slog.String("type", alertType),
		slog.String("severity", string(severity)),
		slog.String("message", message))

	if m.hub != nil {
		m.hub.Publish(dispatch.Event{Kind: dispatch.EventAlert, Payload: alert})
	}
	m.persistAsync(alert)
	return &alert
}

// appendLocked inserts into the ring buffer, evicting the oldest entry past
// capacity regardless of severity. Caller holds m.mu.
func (m *Manager) appendLocked(alert models.Alert) {
	if len(m.ring) == m.opts.BufferCapacity {
		copy(m.ring, m.ring[1:])
		m.ring = m.ring[:len(m.ring)-1]
	}
	m.ring = append(m.ring, alert)
}

// updateRingLocked copies cooldown bookkeeping onto the buffered entry so
// Recent reflects live suppression counts. Caller holds m.mu.
func (m *Manager) updateRingLocked(alert models.Alert) {
	for i := len(m.ring) - 1; i >= 0; i-- {
		if m.ring[i].ID == alert.ID {
			m.ring[i] = alert
			return
		}
	}
}

func (m *Manager) persistAsync(alert models.Alert) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.PersistTimeout)
		defer cancel()
		if err := m.store.PersistAlert(ctx, alert); err != nil {
			m.logger.Warn("alert persistence failed",
				slog.String("type", alert.Type),
				slog.Any("error", err))
		}
	}()
}

// Recent returns up to limit alerts, newest first.
func (m *Manager) Recent(limit int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.ring) {
		limit = len(m.ring)
	}
	out := make([]models.Alert, 0, limit)
	for i := len(m.ring) - 1; i >= len(m.ring)-limit; i-- {
		out = append(out, m.ring[i])
	}
	return out
}

// Active returns the tracked state for an alert type, including its current
// suppressed count, if the type has fired before.
func (m *Manager) Active(alertType string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.active[alertType]
	if !ok {
		return models.Alert{}, false
	}
	return st.alert, true
}

// ActiveCount reports how many alert types are currently inside a cooldown
// window.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	count := 0
	for _, st := range m.active {
		if now.Before(st.expiresAt) {
			count++
		}
	}
	return count
}

// TotalFired reports the number of alerts emitted since start.
func (m *Manager) TotalFired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFired
}

// Flush waits for in-flight persistence calls; used on shutdown and in tests.
func (m *Manager) Flush() {
	m.wg.Wait()
}
