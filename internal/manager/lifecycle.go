package manager

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/dispatch"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/metrics"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/proxyport"
	"github.com/zxhio/telemetry-int/pkg/cookie"
	"golang.org/x/sync/errgroup"
)

// EnableINT installs telemetry rules on the circuits and marks them enabled.
//
// With force, an already enabled circuit and a proxy port that is not UP are
// accepted. Proxy port resolution and the intra switch distinct source check
// are never bypassed since the rules could not be built without them.
func (m *Manager) EnableINT(ctx context.Context, circuits model.Circuits, force bool) (err error) {
	defer func() { metrics.Operations.WithLabelValues("enable", metrics.Result(err)).Inc() }()

	validated, err := m.validateMapEnable(circuits, force)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"evc_ids": validated.IDs(), "force": force}).Info("Enabling INT")

	md := model.NewTelemetryMetadata(true, model.StatusUp)
	if err := m.InstallINTFlows(ctx, validated, md, false); err != nil {
		return err
	}
	return m.addPPsEVCIDs(validated)
}

// DisableINT removes every telemetry rule of the circuits by cookie and marks
// them disabled. With force, missing circuits, circuits without telemetry and
// unresolvable proxy ports are accepted.
func (m *Manager) DisableINT(ctx context.Context, circuits model.Circuits, force bool) (err error) {
	defer func() { metrics.Operations.WithLabelValues("disable", metrics.Result(err)).Inc() }()

	if err := m.validateDisable(circuits, force); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"evc_ids": circuits.IDs(), "force": force}).Info("Disabling INT")

	md := model.NewTelemetryMetadata(false, model.StatusDown, model.ReasonDisabled)
	if err := m.RemoveINTFlows(ctx, circuits, md, force); err != nil {
		return err
	}
	if err := m.discardPPsEVCIDs(circuits); err != nil && !(force && errcode.IsProxyPortError(err)) {
		return err
	}
	return nil
}

// RedeployINT removes and reinstalls the telemetry rules of circuits that
// already have telemetry enabled, skipping proxy port status checks.
func (m *Manager) RedeployINT(ctx context.Context, circuits model.Circuits) (err error) {
	defer func() { metrics.Operations.WithLabelValues("redeploy", metrics.Result(err)).Inc() }()

	if err := validateHasINT(circuits); err != nil {
		return err
	}
	validated, err := m.validateMapEnable(circuits, true)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"evc_ids": validated.IDs(), "force": true}).Info("Redeploying INT")

	stored, err := m.storedRules(ctx, validated.IDs(), m.opts.intPrefix)
	if err != nil {
		return err
	}
	if err := m.removeByCookies(ctx, stored); err != nil {
		return err
	}

	md := model.NewTelemetryMetadata(true, model.StatusUp)
	if err := m.InstallINTFlows(ctx, validated, md, true); err != nil {
		return err
	}
	return m.addPPsEVCIDs(validated)
}

// InstallINTFlows builds the telemetry rules from the stored base rules and
// installs them for every circuit, while the metadata is set per readiness:
// inactive circuits get no_flows, circuits with a proxy port down get
// proxy_port_down and the rest get md as is.
func (m *Manager) InstallINTFlows(ctx context.Context, circuits model.Circuits, md model.TelemetryMetadata, force bool) error {
	base, err := m.storedRules(ctx, circuits.IDs(), m.opts.mefPrefix)
	if err != nil {
		return err
	}
	base = base.NonEmpty()

	for _, id := range circuits.IDs() {
		if circuits[id].Active && len(base[m.mefCookie(id)]) == 0 {
			return errcode.NewEVC(errcode.KindFlowsNotFound, id, "flows not found")
		}
	}
	rules := m.builder.Build(circuits, base)

	inactive, ppDown, active := make(model.Circuits), make(model.Circuits), make(model.Circuits)
	for id, c := range circuits {
		switch {
		case !c.Active:
			inactive[id] = c
		case refStatus(c.UNIA.ProxyPort) != model.StatusUp || refStatus(c.UNIZ.ProxyPort) != model.StatusUp:
			ppDown[id] = c
		default:
			active[id] = c
		}
	}

	var g errgroup.Group
	g.Go(func() error { return m.sendRules(ctx, rules, dispatch.CommandInstall) })
	m.patchMetadata(ctx, &g, inactive, md.With(model.StatusDown, model.ReasonNoFlows), force)
	m.patchMetadata(ctx, &g, ppDown, md.With(model.StatusDown, model.ReasonProxyPortDown), force)
	m.patchMetadata(ctx, &g, active, md, force)
	return g.Wait()
}

// RemoveINTFlows deletes every stored telemetry rule of the circuits by cookie
// and sets md on them. Circuits may be nil when they no longer exist.
func (m *Manager) RemoveINTFlows(ctx context.Context, circuits model.Circuits, md model.TelemetryMetadata, force bool) error {
	stored, err := m.storedRules(ctx, circuits.IDs(), m.opts.intPrefix)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return m.removeByCookies(ctx, stored) })
	m.patchMetadata(ctx, &g, circuits, md, force)
	return g.Wait()
}

// RemoveStoredINTFlows deletes the stored telemetry rules of the circuits
// matching every field, leaving unrelated rules with the same cookie alone.
func (m *Manager) RemoveStoredINTFlows(ctx context.Context, ids []string) error {
	stored, err := m.storedRules(ctx, ids, m.opts.intPrefix)
	if err != nil {
		return err
	}
	return m.sendRules(ctx, stored, dispatch.CommandDelete)
}

func (m *Manager) validateMapEnable(circuits model.Circuits, force bool) (model.Circuits, error) {
	validated := make(model.Circuits, len(circuits))
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil || !cookie.ValidID(id) {
			return nil, errcode.NewEVC(errcode.KindEVCNotFound, id, "not found")
		}
		if c.HasINTEnabled() && !force {
			return nil, errcode.NewEVC(errcode.KindEVCHasINT, id, "INT is already enabled")
		}

		cc := c.Clone()
		cc.ID = id
		ppA, ppZ, err := m.resolveProxyPorts(cc)
		if err != nil {
			return nil, err
		}
		cc.UNIA.ProxyPort, cc.UNIZ.ProxyPort = ppA.Ref(), ppZ.Ref()

		if !force {
			for _, uni := range []model.Endpoint{cc.UNIA, cc.UNIZ} {
				if uni.ProxyPort.Status != model.StatusUp {
					return nil, errcode.NewEVC(errcode.KindProxyPortStatusNotUP, id,
						"proxy_port of %s isn't UP, source %s, destination %s",
						uni.InterfaceID, uni.ProxyPort.SourceID, orNone(uni.ProxyPort.DestinationID))
				}
			}
		}

		// Sharing one loop would make the sink rules of both directions collide.
		if cc.IsIntraSwitch() && ppA.SourceID() == ppZ.SourceID() {
			return nil, errcode.NewEVC(errcode.KindProxyPortSameSource, id, "intra EVC UNIs must use different proxy ports")
		}
		validated[id] = cc
	}
	return validated, nil
}

func (m *Manager) resolveProxyPorts(c *model.Circuit) (*proxyport.ProxyPort, *proxyport.ProxyPort, error) {
	ppA, err := m.proxyPortFor(c.UNIA.InterfaceID, c.ID)
	if err != nil {
		return nil, nil, err
	}
	ppZ, err := m.proxyPortFor(c.UNIZ.InterfaceID, c.ID)
	if err != nil {
		return nil, nil, err
	}
	return ppA, ppZ, nil
}

func (m *Manager) validateDisable(circuits model.Circuits, force bool) error {
	if force {
		return nil
	}
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil {
			return errcode.NewEVC(errcode.KindEVCNotFound, id, "not found")
		}
		if !c.HasINTEnabled() {
			return errcode.NewEVC(errcode.KindEVCHasNoINT, id, "INT isn't enabled")
		}
	}
	return nil
}

func validateHasINT(circuits model.Circuits) error {
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil {
			return errcode.NewEVC(errcode.KindEVCNotFound, id, "not found")
		}
		if !c.HasINTEnabled() {
			return errcode.NewEVC(errcode.KindEVCHasNoINT, id, "INT isn't enabled")
		}
	}
	return nil
}

func (m *Manager) addPPsEVCIDs(circuits model.Circuits) error {
	return m.forEachProxyPort(circuits, func(id, uniID string, pp *proxyport.ProxyPort) {
		pp.AddEVC(id)
		m.setUNISource(uniID, pp.SourceID())
	})
}

// discardPPsEVCIDs goes through every circuit and returns the first
// resolution error, if any.
func (m *Manager) discardPPsEVCIDs(circuits model.Circuits) error {
	return m.forEachProxyPort(circuits, func(id, _ string, pp *proxyport.ProxyPort) {
		pp.DiscardEVC(id)
	})
}

func (m *Manager) forEachProxyPort(circuits model.Circuits, fn func(id, uniID string, pp *proxyport.ProxyPort)) error {
	var first error
	for _, id := range circuits.IDs() {
		c := circuits[id]
		if c == nil {
			continue
		}
		for _, uni := range []model.Endpoint{c.UNIA, c.UNIZ} {
			pp, err := m.proxyPortFor(uni.InterfaceID, id)
			if err != nil {
				if first == nil {
					first = err
				}
				continue
			}
			fn(id, uni.InterfaceID, pp)
		}
	}
	return first
}

func (m *Manager) storedRules(ctx context.Context, ids []string, prefix cookie.Prefix) (model.StoredRules, error) {
	ranges := m.cookieRanges(ids, prefix)
	if len(ranges) == 0 {
		return model.StoredRules{}, nil
	}
	return m.repo.GetRuleRecords(ctx, ranges...)
}

// removeByCookies deletes by cookie on every switch the cookie was seen,
// across all tables.
func (m *Manager) removeByCookies(ctx context.Context, stored model.StoredRules) error {
	switchFlows := make(map[string][]model.Flow)
	seen := make(map[string]map[uint64]struct{})
	for _, c := range stored.Cookies() {
		for _, r := range stored[c] {
			if seen[r.Switch] == nil {
				seen[r.Switch] = make(map[uint64]struct{})
			}
			if _, ok := seen[r.Switch][c]; ok {
				continue
			}
			seen[r.Switch][c] = struct{}{}
			switchFlows[r.Switch] = append(switchFlows[r.Switch], model.Flow{
				Cookie:     c,
				CookieMask: cookie.FullMask,
				TableID:    model.TableAll,
			})
		}
	}
	return m.sender.Send(ctx, switchFlows, dispatch.CommandDelete)
}

func (m *Manager) sendRules(ctx context.Context, rules model.StoredRules, cmd dispatch.Command) error {
	return m.sender.Send(ctx, rules.SwitchFlows(), cmd)
}

func (m *Manager) patchMetadata(ctx context.Context, g *errgroup.Group, circuits model.Circuits, md model.TelemetryMetadata, force bool) {
	if len(circuits) == 0 {
		return
	}
	g.Go(func() error { return m.repo.PatchCircuitMetadata(ctx, circuits, md, force) })
}

func refStatus(ref *model.ProxyPortRef) model.Status {
	if ref == nil {
		return model.StatusDown
	}
	return ref.Status
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
