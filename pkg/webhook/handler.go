package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/groupsync/pkg/observability"
	"github.com/platinummonkey/groupsync/pkg/signature"
)

// EventUsersSignin is the only event type that triggers reconciliation
const EventUsersSignin = "users.signin"

// SignatureHeader carries the webhook signature
const SignatureHeader = "Outline-Signature"

const (
	responseOK      = "OK"
	responseInvalid = "Invalid request"
)

// Reconciler runs one reconciliation pass for a signed-in user
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) error
}

// event is the inbound webhook body
type event struct {
	Event   string `json:"event"`
	Payload struct {
		Model model `json:"model"`
	} `json:"payload"`
}

// model is the user the event is about
type model struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Handler dispatches verified webhook events to the reconciler
type Handler struct {
	verifier   *signature.Verifier
	reconciler Reconciler
	replay     *ReplayGuard
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewHandler creates a webhook handler
func NewHandler(verifier *signature.Verifier, reconciler Reconciler, replay *ReplayGuard, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handler{
		verifier:   verifier,
		reconciler: reconciler,
		replay:     replay,
		logger:     logger,
		metrics:    metrics,
	}
}

// Router returns the webhook router. Only POST /webhook is routed;
// everything else is rejected before the signature is checked.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/webhook", h.handleWebhook).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(h.rejectRoute)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.rejectRoute)
	return router
}

// rejectRoute fails fast on wrong method or path
func (h *Handler) rejectRoute(w http.ResponseWriter, r *http.Request) {
	h.requestLogger(r).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Info("invalid request path or method")
	h.invalid(w)
}

// handleWebhook runs the intake pipeline: read raw body, verify
// signature before any parsing, parse, filter on event type, then
// reconcile. Every failure maps to the same client error.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WithError(err).Warn("failed to read request body")
		h.countEvent("", observability.OutcomeInvalid)
		h.invalid(w)
		return
	}
	logger.WithField("bytes", len(body)).Debugf("request body: %s", body)

	header := r.Header.Get(SignatureHeader)
	if err := h.verifier.Verify(header, string(body)); err != nil {
		logger.WithError(err).Warn("webhook signature rejected")
		h.countEvent("", observability.OutcomeInvalid)
		h.invalid(w)
		return
	}
	if h.replay.Seen(header) {
		logger.Warn("replayed webhook delivery rejected")
		h.countEvent("", observability.OutcomeInvalid)
		h.invalid(w)
		return
	}

	var evt event
	if err := json.Unmarshal(body, &evt); err != nil {
		logger.WithError(err).Warn("failed to parse webhook payload")
		h.countEvent("", observability.OutcomeInvalid)
		h.invalid(w)
		return
	}

	if evt.Event != EventUsersSignin {
		logger.WithField("event", evt.Event).Debug("ignoring event")
		h.countEvent(evt.Event, observability.OutcomeIgnored)
		h.ok(w)
		return
	}

	user := evt.Payload.Model
	logger.WithFields(map[string]interface{}{
		"user_id":   user.ID,
		"user_name": user.Name,
	}).Info("handling signin")

	if err := h.reconciler.Reconcile(r.Context(), user.ID); err != nil {
		logger.WithError(err).WithField("user_id", user.ID).Error("failed to handle signin")
		h.countEvent(evt.Event, observability.OutcomeFailure)
		h.invalid(w)
		return
	}

	h.countEvent(evt.Event, observability.OutcomeSuccess)
	h.ok(w)
}

func (h *Handler) requestLogger(r *http.Request) *observability.Logger {
	logger := h.logger
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return logger
}

func (h *Handler) ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(responseOK))
}

// invalid writes the uniform client error. The specific failure is
// never leaked to the caller.
func (h *Handler) invalid(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(responseInvalid))
}

func (h *Handler) countEvent(event, outcome string) {
	if h.metrics != nil {
		if event == "" {
			event = "unknown"
		}
		h.metrics.WebhookEventsTotal.WithLabelValues(event, outcome).Inc()
	}
}
