package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/groupsync/pkg/keycloak"
	"github.com/platinummonkey/groupsync/pkg/observability"
	"github.com/platinummonkey/groupsync/pkg/outline"
)

// AppGateway is the slice of the Outline API the reconciler needs
type AppGateway interface {
	UserInfo(ctx context.Context, id string) (*outline.User, error)
	ListUserGroups(ctx context.Context, userID string) ([]outline.Group, error)
	ListGroups(ctx context.Context) ([]outline.Group, error)
	CreateGroup(ctx context.Context, name string) (*outline.Group, error)
	AddGroupUser(ctx context.Context, groupID, userID string) error
	RemoveGroupUser(ctx context.Context, groupID, userID string) error
}

// ProviderGateway is the slice of the Keycloak API the reconciler needs
type ProviderGateway interface {
	UserByEmail(ctx context.Context, email string) (*keycloak.User, error)
	UserGroups(ctx context.Context, userID string) ([]keycloak.Group, error)
}

// Reconciler converges a user's Outline group membership with the
// provider's group set for that user
type Reconciler struct {
	app      AppGateway
	provider ProviderGateway
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewReconciler creates a reconciler over the two gateways
func NewReconciler(app AppGateway, provider ProviderGateway, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Reconciler{
		app:      app,
		provider: provider,
		logger:   logger,
		metrics:  metrics,
	}
}

// Reconcile runs one reconciliation pass for an Outline user id. The
// read phase is all-or-nothing: no mutation is attempted until state
// from both systems has been fetched. Apply order is create, join,
// leave; only per-group create failures are recoverable.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) error {
	start := time.Now()
	noop, err := r.reconcile(ctx, userID)
	if r.metrics != nil {
		r.metrics.ReconciliationDuration.Observe(time.Since(start).Seconds())
		outcome := observability.OutcomeSuccess
		switch {
		case err != nil:
			outcome = observability.OutcomeFailure
		case noop:
			outcome = observability.OutcomeNoop
		}
		r.metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, userID string) (noop bool, err error) {
	logger := r.logger.WithField("user_id", userID)
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	// Read phase: Outline state first.
	user, err := r.app.UserInfo(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("fetch user profile: %w", err)
	}
	currentGroups, err := r.app.ListUserGroups(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("fetch user groups: %w", err)
	}
	existingGroups, err := r.app.ListGroups(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch all groups: %w", err)
	}

	// Read phase: provider state, joined on the user's email.
	providerUser, err := r.provider.UserByEmail(ctx, user.Email)
	if err != nil {
		return false, fmt.Errorf("match provider user: %w", err)
	}
	providerGroups, err := r.provider.UserGroups(ctx, providerUser.ID)
	if err != nil {
		return false, fmt.Errorf("fetch provider groups: %w", err)
	}

	groupIDs := make(map[string]string, len(existingGroups))
	existing := make([]string, 0, len(existingGroups))
	for _, g := range existingGroups {
		groupIDs[g.Name] = g.ID
		existing = append(existing, g.Name)
	}
	current := make([]string, 0, len(currentGroups))
	for _, g := range currentGroups {
		current = append(current, g.Name)
	}
	provider := make([]string, 0, len(providerGroups))
	for _, g := range providerGroups {
		provider = append(provider, g.Name)
	}

	plan := BuildPlan(provider, current, existing)
	if plan.Empty() {
		logger.WithField("email", user.Email).Info("no membership changes needed")
		return true, nil
	}

	logger.WithFields(map[string]interface{}{
		"email":  user.Email,
		"create": plan.ToCreate,
		"join":   plan.ToJoin,
		"leave":  plan.ToLeave,
	}).Info("applying membership changes")

	return false, r.apply(ctx, logger, userID, plan, groupIDs)
}

// apply issues the plan's mutations in create, join, leave order. Join
// may target groups created in the same pass, and leave must not run
// ahead of join.
func (r *Reconciler) apply(ctx context.Context, logger *observability.Logger, userID string, plan Plan, groupIDs map[string]string) error {
	createFailed := make(map[string]struct{})
	for _, name := range plan.ToCreate {
		group, err := r.app.CreateGroup(ctx, name)
		if err != nil {
			// Recoverable: the group is skipped from the join step
			// since without an id it cannot be joined.
			logger.WithError(err).WithField("group", name).Warn("failed to create group")
			createFailed[name] = struct{}{}
			r.observeMutation("create", observability.OutcomeFailure)
			continue
		}
		groupIDs[group.Name] = group.ID
		r.observeMutation("create", observability.OutcomeSuccess)
	}

	for _, name := range plan.ToJoin {
		groupID, ok := groupIDs[name]
		if !ok {
			if _, failed := createFailed[name]; failed {
				logger.WithField("group", name).Warn("skipping join of group that failed to create")
				continue
			}
			return fmt.Errorf("no id for group %q", name)
		}
		if err := r.app.AddGroupUser(ctx, groupID, userID); err != nil {
			r.observeMutation("join", observability.OutcomeFailure)
			return fmt.Errorf("join group %q: %w", name, err)
		}
		r.observeMutation("join", observability.OutcomeSuccess)
	}

	for _, name := range plan.ToLeave {
		groupID, ok := groupIDs[name]
		if !ok {
			return fmt.Errorf("no id for group %q", name)
		}
		if err := r.app.RemoveGroupUser(ctx, groupID, userID); err != nil {
			r.observeMutation("leave", observability.OutcomeFailure)
			return fmt.Errorf("leave group %q: %w", name, err)
		}
		r.observeMutation("leave", observability.OutcomeSuccess)
	}

	return nil
}

func (r *Reconciler) observeMutation(action, outcome string) {
	if r.metrics != nil {
		r.metrics.GroupMutationsTotal.WithLabelValues(action, outcome).Inc()
	}
}
