package service

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/manager"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/repository"
	"github.com/zxhio/telemetry-int/pkg/cookie"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

// CompareResult is a circuit whose telemetry metadata and stored rules
// disagree.
type CompareResult struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CompareReason []string `json:"compare_reason"`
}

// TelemetryService resolves request level circuit selections before handing
// them to the manager.
type TelemetryService struct {
	m    *manager.Manager
	repo manager.Repository
}

func NewTelemetryService(m *manager.Manager, repo manager.Repository) *TelemetryService {
	return &TelemetryService{m: m, repo: repo}
}

// fetch returns one entry per requested id, nil when it does not exist. With
// no ids every non archived circuit passing keep is returned.
func (s *TelemetryService) fetch(ctx context.Context, ids []string, keep func(*model.Circuit) bool) (model.Circuits, error) {
	var (
		circuits model.Circuits
		err      error
	)
	if len(ids) == 1 {
		circuits, err = s.repo.GetCircuit(ctx, ids[0], true)
	} else {
		circuits, err = s.repo.GetCircuits(ctx, repository.Filter{})
	}
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return model.Circuits(lo.PickBy(circuits, func(_ string, c *model.Circuit) bool { return keep(c) })), nil
	}
	out := make(model.Circuits, len(ids))
	for _, id := range lo.Uniq(ids) {
		out[id] = circuits[id]
	}
	return out, nil
}

func (s *TelemetryService) EnableINT(ctx context.Context, ids []string, force bool) ([]string, error) {
	circuits, err := s.fetch(ctx, ids, func(c *model.Circuit) bool { return !c.HasINTEnabled() })
	if err != nil {
		return nil, err
	}
	// Leftovers of a previous run would clash with the rules about to be built.
	if err := s.m.RemoveStoredINTFlows(ctx, circuits.IDs()); err != nil {
		return nil, err
	}
	if err := s.m.EnableINT(ctx, circuits, force); err != nil {
		return nil, err
	}
	return circuits.IDs(), nil
}

func (s *TelemetryService) DisableINT(ctx context.Context, ids []string, force bool) ([]string, error) {
	circuits, err := s.fetch(ctx, ids, (*model.Circuit).HasINTEnabled)
	if err != nil {
		return nil, err
	}
	if err := s.m.DisableINT(ctx, circuits, force); err != nil {
		return nil, err
	}
	return circuits.IDs(), nil
}

func (s *TelemetryService) RedeployINT(ctx context.Context, ids []string) ([]string, error) {
	circuits, err := s.fetch(ctx, ids, (*model.Circuit).HasINTEnabled)
	if err != nil {
		return nil, err
	}
	if len(circuits) == 0 {
		return nil, errcode.New(errcode.CodeNotFound, "no EVCs to redeploy")
	}
	if err := s.m.RedeployINT(ctx, circuits); err != nil {
		return nil, err
	}
	return circuits.IDs(), nil
}

// ListCircuits pages through the circuits with telemetry enabled, ordered
// by id.
func (s *TelemetryService) ListCircuits(ctx context.Context, page, limit int) ([]*model.Circuit, int, error) {
	circuits, err := s.repo.GetCircuits(ctx, repository.Filter{TelemetryEnabled: lo.ToPtr(true)})
	if err != nil {
		return nil, 0, err
	}
	list := lo.Map(circuits.IDs(), func(id string, _ int) *model.Circuit { return circuits[id] })
	data, total := utils.LimitPageSlice(list, page, limit)
	return data, total, nil
}

func (s *TelemetryService) Compare(ctx context.Context) ([]CompareResult, error) {
	intRules, err := s.repo.GetRuleRecords(ctx, cookie.PrefixRange(s.m.IntPrefix()))
	if err != nil {
		return nil, err
	}
	baseRules, err := s.repo.GetRuleRecords(ctx, cookie.PrefixRange(s.m.MefPrefix()))
	if err != nil {
		return nil, err
	}
	circuits, err := s.repo.GetCircuits(ctx, repository.Filter{})
	if err != nil {
		return nil, err
	}

	findings := s.m.EVCCompare(intRules, baseRules, circuits)
	results := make([]CompareResult, 0, len(findings))
	for id, reasons := range findings {
		results = append(results, CompareResult{ID: id, Name: circuits[id].Name, CompareReason: reasons})
	}
	slices.SortFunc(results, func(a, b CompareResult) int { return strings.Compare(a.ID, b.ID) })
	if len(results) > 0 {
		logrus.WithField("evc_ids", lo.Map(results, func(r CompareResult, _ int) string { return r.ID })).
			Warn("Found EVCs with inconsistent INT flows")
	}
	return results, nil
}

func (s *TelemetryService) ProxyPorts() []manager.ProxyPortInfo {
	return s.m.ProxyPorts()
}

func (s *TelemetryService) UpdateTableGroups(groups map[string]uint8) (map[string]uint8, error) {
	return s.m.UpdateTableGroups(groups)
}
