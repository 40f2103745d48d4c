package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/idgen"
	"github.com/avelar/shopfence/internal/logging"
	"github.com/avelar/shopfence/internal/metrics"
	"github.com/avelar/shopfence/internal/risk"
	"github.com/avelar/shopfence/internal/session"
	"github.com/avelar/shopfence/internal/traces"
)

// History window bounds per resolution scope.
const (
	sessionHistoryLimit = 10
	userFallbackLimit   = 15
	userHistoryLimit    = 20
	emailHistoryLimit   = 20
)

// DefaultStoreTimeout bounds every repository call inside the pipeline.
// A timeout is a recoverable failure under the fail-open policy.
const DefaultStoreTimeout = 3 * time.Second

// SessionResolver is the antifraud view of the session manager.
type SessionResolver interface {
	// Resolve maps a bearer token to its active session and user.
	Resolve(ctx context.Context, token string) (sessionID, userID string, err error)
	// ActiveSessions lists the user's active session rows.
	ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error)
}

// UserDirectory resolves a user's email for logging and event attribution.
type UserDirectory interface {
	EmailByID(ctx context.Context, userID string) (string, error)
}

// Request is one inbound request as seen by the pipeline.
type Request struct {
	Token     string // bearer credential, "" when absent
	BodyEmail string // email from the request body (pre-auth routes), "" when absent
	Context   *fingerprint.Context
}

// Result is the pipeline outcome attached to the request context. When
// Risk.ShouldBlock is set the transport layer rejects the request; otherwise
// downstream handlers read the annotation.
type Result struct {
	SessionID string          `json:"sessionId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Email     string          `json:"email,omitempty"`
	Risk      risk.Assessment `json:"risk"`
}

// Orchestrator sequences the antifraud pipeline. One execution per request;
// executions share no mutable state beyond pooled store connections.
type Orchestrator struct {
	events       Store
	sessions     SessionResolver
	users        UserDirectory
	engine       *risk.Engine
	storeTimeout time.Duration
}

// NewOrchestrator creates the pipeline. users may be nil when no directory
// is available; email attribution is then limited to the request body.
func NewOrchestrator(events Store, sessions SessionResolver, users UserDirectory, engine *risk.Engine) *Orchestrator {
	return &Orchestrator{
		events:       events,
		sessions:     sessions,
		users:        users,
		engine:       engine,
		storeTimeout: DefaultStoreTimeout,
	}
}

// WithStoreTimeout overrides the per-call repository timeout.
func (o *Orchestrator) WithStoreTimeout(d time.Duration) *Orchestrator {
	o.storeTimeout = d
	return o
}

// ContinueResult is the fail-open verdict: zero score, low level, no block.
// It is what the pipeline hands downstream when it cannot finish a pass.
func ContinueResult() *Result {
	return &Result{Risk: risk.Assessment{
		Score:   0,
		Level:   risk.LevelLow,
		Factors: []risk.Factor{},
	}}
}

// Analyze runs the full pipeline for one request. It never returns an error
// and never panics outward: every internal failure degrades to a continue
// verdict. This is the fail-open policy — availability over strict
// enforcement.
func (o *Orchestrator) Analyze(ctx context.Context, req *Request) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("antifraud: pipeline panic, failing open", "panic", r)
			res = ContinueResult()
		}
	}()
	return o.analyze(ctx, req)
}

func (o *Orchestrator) analyze(ctx context.Context, req *Request) *Result {
	ctx, span := traces.StartSpan(ctx, "antifraud.analyze")
	defer span.End()

	fc := req.Context
	if fc == nil {
		fc = &fingerprint.Context{Feature: fingerprint.DefaultFeature, Timestamp: time.Now().UTC()}
	}

	res := &Result{}

	// 1. Identity: valid bearer session first, body email as the weak fallback
	o.resolveIdentity(ctx, req, res)

	// 2. Historical window, one scope only
	history := o.fetchHistory(ctx, res)

	// 3. Active sessions, only when the user is known
	sessions := o.fetchActiveSessions(ctx, res.UserID)

	// 4. Score
	assessment := o.engine.Evaluate(risk.Input{
		SessionID:   res.SessionID,
		UserID:      res.UserID,
		IP:          fc.IP,
		Fingerprint: fc.Fingerprint,
		Feature:     fc.Feature,
		History:     history,
		Sessions:    sessions,
		Now:         fc.Timestamp,
	})
	res.Risk = assessment

	span.SetAttributes(
		traces.SessionID(res.SessionID),
		traces.UserID(res.UserID),
		traces.Feature(fc.Feature),
		traces.RiskScore(assessment.Score),
		traces.RiskLevel(string(assessment.Level)),
	)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(assessment.Level)).Inc()

	// 5. Structured security event (sink never fails the request)
	o.emitSecurityEvent(ctx, res, fc, len(sessions), assessment)

	// 6. Exactly one event row, block or not
	o.recordEvent(ctx, res, fc, assessment)

	return res
}

// resolveIdentity fills SessionID/UserID/Email. Session resolution failures
// are logged and ignored: an unidentifiable caller is scored with whatever
// signals remain.
func (o *Orchestrator) resolveIdentity(ctx context.Context, req *Request, res *Result) {
	if req.Token != "" {
		sctx, cancel := o.boundedCtx(ctx)
		sessionID, userID, err := o.sessions.Resolve(sctx, req.Token)
		cancel()
		if err == nil {
			res.SessionID = sessionID
			res.UserID = userID
			if o.users != nil {
				uctx, cancel := o.boundedCtx(ctx)
				if email, err := o.users.EmailByID(uctx, userID); err == nil {
					res.Email = email
				}
				cancel()
			}
		} else {
			logging.L(ctx).Debug("antifraud: bearer token did not resolve", "error", err)
		}
	}

	if res.SessionID == "" && req.BodyEmail != "" {
		res.Email = req.BodyEmail
	}
}

// historyScope is one strategy in the priority chain: session-scoped first,
// then the user fallback, then user- or email-scoped for anonymous callers.
type historyScope struct {
	name    string
	applies func(res *Result) bool
	fetch   func(ctx context.Context, res *Result) ([]*FingerprintEvent, error)
}

func (o *Orchestrator) historyScopes() []historyScope {
	return []historyScope{
		{
			name:    "session",
			applies: func(r *Result) bool { return r.SessionID != "" },
			fetch: func(ctx context.Context, r *Result) ([]*FingerprintEvent, error) {
				return o.events.ListBySession(ctx, r.SessionID, sessionHistoryLimit)
			},
		},
		{
			name:    "user_fallback",
			applies: func(r *Result) bool { return r.SessionID != "" && r.UserID != "" },
			fetch: func(ctx context.Context, r *Result) ([]*FingerprintEvent, error) {
				return o.events.ListByUser(ctx, r.UserID, userFallbackLimit)
			},
		},
		{
			name:    "user",
			applies: func(r *Result) bool { return r.SessionID == "" && r.UserID != "" },
			fetch: func(ctx context.Context, r *Result) ([]*FingerprintEvent, error) {
				return o.events.ListByUser(ctx, r.UserID, userHistoryLimit)
			},
		},
		{
			name:    "email",
			applies: func(r *Result) bool { return r.SessionID == "" && r.UserID == "" && r.Email != "" },
			fetch: func(ctx context.Context, r *Result) ([]*FingerprintEvent, error) {
				return o.events.ListByEmail(ctx, r.Email, emailHistoryLimit)
			},
		},
	}
}

// fetchHistory walks the scope chain in order and returns the first
// non-empty window. A store failure ends the walk with whatever was gathered
// so far — fail-open, the engine scores on an empty window.
func (o *Orchestrator) fetchHistory(ctx context.Context, res *Result) []risk.HistoryEvent {
	for _, scope := range o.historyScopes() {
		if !scope.applies(res) {
			continue
		}
		sctx, cancel := o.boundedCtx(ctx)
		events, err := scope.fetch(sctx, res)
		cancel()
		if err != nil {
			logging.L(ctx).Warn("antifraud: history fetch failed",
				"scope", scope.name,
				"error", err,
			)
			return nil
		}
		if len(events) > 0 {
			return toHistory(events)
		}
	}
	return nil
}

func toHistory(events []*FingerprintEvent) []risk.HistoryEvent {
	history := make([]risk.HistoryEvent, 0, len(events))
	for _, e := range events {
		history = append(history, risk.HistoryEvent{
			IP:          e.IP,
			Feature:     e.Feature,
			Fingerprint: e.Fingerprint,
			Time:        e.EventTime,
		})
	}
	return history
}

func (o *Orchestrator) fetchActiveSessions(ctx context.Context, userID string) []risk.SessionState {
	if userID == "" {
		return nil
	}
	sctx, cancel := o.boundedCtx(ctx)
	defer cancel()
	rows, err := o.sessions.ActiveSessions(sctx, userID)
	if err != nil {
		logging.L(ctx).Warn("antifraud: active-session fetch failed", "error", err)
		return nil
	}
	states := make([]risk.SessionState, 0, len(rows))
	for _, s := range rows {
		states = append(states, risk.SessionState{Active: s.Active})
	}
	return states
}

// emitSecurityEvent writes one structured record summarizing identity,
// fingerprint, and outcome. The log sink never blocks or fails the request.
func (o *Orchestrator) emitSecurityEvent(ctx context.Context, res *Result, fc *fingerprint.Context, activeSessions int, a risk.Assessment) {
	logging.L(ctx).Info("security event",
		slog.Group("event",
			"category", "security",
			"type", "authentication",
			"action", fc.Feature,
		),
		slog.Group("session",
			"id", res.SessionID,
			"active_sessions", activeSessions,
		),
		slog.Group("user",
			"id", res.UserID,
			"email", res.Email,
		),
		slog.Group("source",
			"ip", fc.IP,
			"user_agent", fc.UserAgent,
		),
		"fingerprint_present", fc.Fingerprint != nil,
		slog.Group("risk",
			"score", a.Score,
			"level", string(a.Level),
			"factors", a.Factors,
			"blocked", a.ShouldBlock,
		),
	)
}

// recordEvent persists exactly one fingerprint event, whatever the verdict.
// Persistence failures are swallowed: telemetry loss never rejects a request.
func (o *Orchestrator) recordEvent(ctx context.Context, res *Result, fc *fingerprint.Context, a risk.Assessment) {
	sctx, cancel := o.boundedCtx(ctx)
	defer cancel()
	err := o.events.Insert(sctx, &FingerprintEvent{
		ID:          idgen.WithPrefix("fpe_"),
		SessionID:   res.SessionID,
		UserID:      res.UserID,
		Email:       res.Email,
		IP:          fc.IP,
		Feature:     fc.Feature,
		Fingerprint: fc.Fingerprint,
		UserAgent:   fc.UserAgent,
		RiskScore:   a.Score,
		RiskLevel:   a.Level,
		Blocked:     a.ShouldBlock,
		Factors:     a.Factors,
		EventTime:   fc.Timestamp,
	})
	if err != nil {
		logging.L(ctx).Error("antifraud: failed to persist fingerprint event", "error", err)
	}
}

func (o *Orchestrator) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.storeTimeout)
}
