package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/metrics"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/repositories"
	"github.com/GroupLang/agent-market-client/internal/transport"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// APIClient is the slice of transport.Client the services use.
type APIClient interface {
	Get(ctx context.Context, p string, out any, opts ...transport.RequestOption) error
	Post(ctx context.Context, p string, body, out any, opts ...transport.RequestOption) error
	Put(ctx context.Context, p string, body, out any, opts ...transport.RequestOption) error
	Delete(ctx context.Context, p string, body, out any, opts ...transport.RequestOption) error
}

// InstanceService is the client's view of the instances the current user
// takes part in. The server is the system of record; every read is
// reconciled through the lifecycle machines and every write is checked
// locally first so that misuse and out-of-range input never reach the
// network.
type InstanceService struct {
	api    APIClient
	github lifecycle.GitHubMachine
	ledger repositories.LedgerRepository
	clock  clock.Clock

	mu        sync.Mutex
	instances map[string]*models.Instance
	bindings  map[string]*models.GitHubIssueBinding // by instance id
}

func NewInstanceService(
	api APIClient,
	machine lifecycle.GitHubMachine,
	ledger repositories.LedgerRepository,
	clk clock.Clock,
) *InstanceService {
	if clk == nil {
		clk = clock.New()
	}
	return &InstanceService{
		api:       api,
		github:    machine,
		ledger:    ledger,
		clock:     clk,
		instances: map[string]*models.Instance{},
		bindings:  map[string]*models.GitHubIssueBinding{},
	}
}

func (s *InstanceService) machine() lifecycle.Machine {
	return s.github.Machine
}

// List fetches the user's instances, optionally filtered by status.
func (s *InstanceService) List(ctx context.Context, status *models.InstanceStatus) ([]*models.Instance, error) {
	q := url.Values{}
	if status != nil {
		q.Set(constants.QueryInstanceStatus, strconv.Itoa(int(*status)))
	}
	var resp []dtos.InstanceResponse
	if err := s.api.Get(ctx, constants.PathInstancesForCurrentUser, &resp, transport.WithQuery(q)); err != nil {
		return nil, err
	}

	out := make([]*models.Instance, 0, len(resp))
	for i := range resp {
		inst := s.adopt(ctx, resp[i].ToModel())
		out = append(out, inst)
	}
	return out, nil
}

// Get fetches one instance and the providers the server selected for it.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.Instance, error) {
	inst, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.adopt(ctx, inst), nil
}

// Cached returns the last known state without a network call.
func (s *InstanceService) Cached(id string) (*models.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, false
	}
	return inst.Clone(), true
}

// CachedAll returns every cached instance.
func (s *InstanceService) CachedAll() []*models.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.Clone())
	}
	return out
}

func (s *InstanceService) fetch(ctx context.Context, id string) (*models.Instance, error) {
	var resp dtos.InstanceResponse
	if err := s.api.Get(ctx, fmt.Sprintf(constants.PathInstanceByID, url.PathEscape(id)), &resp); err != nil {
		return nil, err
	}
	inst := resp.ToModel()

	if inst.Status != models.InstanceStatusOpen && inst.Status != models.InstanceStatusFailed && len(inst.WinningProviders) == 0 {
		winners, err := s.WinningProviders(ctx, id)
		if err != nil && !errors.Is(err, utils.ErrNotFound) {
			return nil, err
		}
		inst.WinningProviders = winners
	}
	return inst, nil
}

func (s *InstanceService) WinningProviders(ctx context.Context, id string) ([]string, error) {
	var resp dtos.WinningProvidersResponse
	if err := s.api.Get(ctx, fmt.Sprintf(constants.PathInstanceWinningProviders, url.PathEscape(id)), &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

func (s *InstanceService) InvolvedProviders(ctx context.Context, id string) ([]dtos.InvolvedProviderResponse, error) {
	var resp []dtos.InvolvedProviderResponse
	q := url.Values{"instance_id": {id}}
	if err := s.api.Get(ctx, constants.PathInstancesInvolvedProvider, &resp, transport.WithQuery(q)); err != nil {
		return nil, err
	}
	return resp, nil
}

// Create posts a new instance. The idempotency key is fixed for the call
// so that a retried create cannot produce two instances.
func (s *InstanceService) Create(ctx context.Context, req dtos.CreateInstanceRequest) (*models.Instance, error) {
	if req.InstanceTimeout == 0 {
		req.InstanceTimeout = int(constants.DefaultInstanceTimeout / time.Second)
	}
	if req.GenRewardTimeout == 0 {
		req.GenRewardTimeout = int(constants.DefaultGenRewardTimeout / time.Second)
	}
	if err := dtos.Validate(req); err != nil {
		return nil, err
	}

	var resp dtos.InstanceResponse
	if err := s.api.Post(ctx, constants.PathInstances, req, &resp); err != nil {
		return nil, err
	}
	inst := s.adopt(ctx, resp.ToModel())
	utils.Logger.WithFields(logrus.Fields{
		"instance_id": inst.ID,
		"max_credit":  inst.MaxCredit.Plain(),
	}).Info("Instance created")
	return inst, nil
}

// SubmitBid places a provider's bid while the auction is open.
func (s *InstanceService) SubmitBid(ctx context.Context, id, providerID string, amount models.Credits) (lifecycle.Outcome, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	bid := models.Bid{ProviderID: providerID, Amount: amount, SubmittedAt: s.clock.Now()}

	dry, err := s.machine().SubmitBid(inst.Clone(), bid)
	if err != nil || !dry.Applied {
		return dry, err
	}

	req := dtos.SubmitBidRequest{ProviderID: providerID, Amount: amount}
	if err := s.api.Post(ctx, fmt.Sprintf(constants.PathInstanceBids, url.PathEscape(id)), req, nil); err != nil {
		if errors.Is(err, utils.ErrConflict) {
			return s.conflictNoop(ctx, id, lifecycle.ReasonAuctionClosed)
		}
		return lifecycle.Outcome{}, err
	}

	return s.apply(id, func(cur *models.Instance) (lifecycle.Outcome, error) {
		return s.machine().SubmitBid(cur, bid)
	})
}

// ReportReward records the requester's reward. Reporting the same value
// twice settles exactly as reporting it once.
func (s *InstanceService) ReportReward(ctx context.Context, id string, reward models.Credits) (lifecycle.Outcome, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	ev := lifecycle.Event{Kind: lifecycle.EventRewardReported, At: s.clock.Now(), Reward: &reward}

	dry, err := s.machine().Transition(inst.Clone(), ev)
	if err != nil || !dry.Applied {
		return dry, err
	}

	req := dtos.ReportRewardRequest{GenReward: &reward}
	if err := s.api.Put(ctx, fmt.Sprintf(constants.PathInstanceReportReward, url.PathEscape(id)), req, nil); err != nil {
		if errors.Is(err, utils.ErrConflict) {
			return s.conflictNoop(ctx, id, lifecycle.ReasonAlreadyDecided)
		}
		return lifecycle.Outcome{}, err
	}

	o, err := s.apply(id, func(cur *models.Instance) (lifecycle.Outcome, error) {
		return s.machine().Transition(cur, ev)
	})
	if err == nil && o.Applied {
		s.recordIfSettled(ctx, id)
	}
	return o, err
}

// Tick fires the time-driven transitions of every cached instance.
func (s *InstanceService) Tick(ctx context.Context) []lifecycle.Outcome {
	now := s.clock.Now()
	var (
		all     []lifecycle.Outcome
		settled []string
	)
	s.mu.Lock()
	for id, inst := range s.instances {
		var outs []lifecycle.Outcome
		if b, ok := s.bindings[id]; ok {
			outs = s.github.Advance(inst, b, now)
		} else if inst.Origin == models.OriginDirect {
			outs = s.machine().Advance(inst, now)
		}
		if len(outs) > 0 && inst.Status.IsTerminal() {
			settled = append(settled, id)
		}
		all = append(all, outs...)
	}
	s.mu.Unlock()

	for _, id := range settled {
		s.recordIfSettled(ctx, id)
	}
	return all
}

// adopt reconciles a fetched instance and replaces the cached copy.
func (s *InstanceService) adopt(ctx context.Context, inst *models.Instance) *models.Instance {
	now := s.clock.Now()

	s.mu.Lock()
	if prev, ok := s.instances[inst.ID]; ok {
		// Messages are fetched separately; keep what was loaded.
		for _, c := range prev.Conversations {
			inst.Conversations = append(inst.Conversations, c)
		}
	}
	var outs []lifecycle.Outcome
	b, bound := s.bindings[inst.ID]
	if bound {
		inst.Origin = models.OriginGitHub
		outs = s.github.Reconcile(inst, b, now)
	} else {
		outs = s.machine().Reconcile(inst, now)
	}
	s.instances[inst.ID] = inst
	out := inst.Clone()
	s.mu.Unlock()

	for _, o := range outs {
		utils.Logger.WithFields(logrus.Fields{
			"instance_id": inst.ID,
			"from":        o.From.String(),
			"to":          o.To.String(),
		}).Debug("Derived transition")
	}
	if inst.Status.IsTerminal() {
		s.recordIfSettled(ctx, inst.ID)
	}
	return out
}

// apply runs fn against the cached instance under the lock.
func (s *InstanceService) apply(id string, fn func(*models.Instance) (lifecycle.Outcome, error)) (lifecycle.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return lifecycle.Outcome{}, fmt.Errorf("%w: instance %s", utils.ErrNotFound, id)
	}
	o, err := fn(inst)
	if err == nil && o.Applied {
		utils.Logger.WithFields(logrus.Fields{
			"instance_id": id,
			"from":        o.From.String(),
			"to":          o.To.String(),
		}).Debug("Applied transition")
	}
	return o, err
}

// conflictNoop answers a 409: another writer decided first, so the fresh
// server state is adopted and the call reported as a no-op.
func (s *InstanceService) conflictNoop(ctx context.Context, id, reason string) (lifecycle.Outcome, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	return lifecycle.Outcome{From: inst.Status, To: inst.Status, Reason: reason}, nil
}

func (s *InstanceService) trackBinding(b *models.GitHubIssueBinding) {
	if b.InstanceID == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.bindings[*b.InstanceID]; ok && prev.PaymentBlocked {
		b.PaymentBlocked = true
	}
	s.bindings[*b.InstanceID] = b.Clone()
}

func (s *InstanceService) binding(instanceID string) (*models.GitHubIssueBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[instanceID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

func (s *InstanceService) instanceForIssue(repoURL string, issueNumber int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.bindings {
		if b.RepoURL == repoURL && b.IssueNumber == issueNumber {
			return id, true
		}
	}
	return "", false
}

// applyGitHub runs a GitHub event against the cached instance and binding.
func (s *InstanceService) applyGitHub(ctx context.Context, instanceID string, ev lifecycle.GitHubEvent) (lifecycle.Outcome, error) {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	b, bound := s.bindings[instanceID]
	if !ok || !bound {
		s.mu.Unlock()
		return lifecycle.Outcome{}, fmt.Errorf("%w: instance %s is not mirrored", utils.ErrNotFound, instanceID)
	}
	o, err := s.github.Transition(inst, b, ev)
	s.mu.Unlock()

	if err == nil && o.Applied && o.Settlement != nil {
		s.recordIfSettled(ctx, instanceID)
	}
	return o, err
}

// recordIfSettled writes the ledger entry of a settled instance. Mirrored
// instances are only recorded once their binding is known, since the
// binding decides whether payment was blocked.
func (s *InstanceService) recordIfSettled(ctx context.Context, id string) {
	if s.ledger == nil {
		return
	}
	s.mu.Lock()
	inst, ok := s.instances[id]
	if !ok || !inst.Status.IsTerminal() || inst.Settlement == nil || inst.SettledAt == nil {
		s.mu.Unlock()
		return
	}
	b, bound := s.bindings[id]
	if inst.Origin == models.OriginGitHub && !bound {
		s.mu.Unlock()
		return
	}
	blocked := bound && b.PaymentBlocked
	entry := models.NewLedgerEntry(inst, blocked)
	s.mu.Unlock()

	inserted, err := s.ledger.Record(ctx, entry)
	if err != nil {
		utils.Logger.WithError(err).WithField("instance_id", id).Error("Failed to record settlement")
		return
	}
	if !inserted {
		return
	}
	metrics.Settlements.WithLabelValues(string(entry.Origin), strconv.FormatBool(blocked)).Inc()
	utils.Logger.WithFields(logrus.Fields{
		"instance_id":     id,
		"origin":          entry.Origin,
		"requester_delta": entry.RequesterDelta.Plain(),
		"provider_delta":  entry.ProviderDelta.Plain(),
		"blocked":         blocked,
	}).Info("Settlement recorded")
}

func transportQuery(q url.Values) []transport.RequestOption {
	if len(q) == 0 {
		return nil
	}
	return []transport.RequestOption{transport.WithQuery(q)}
}
