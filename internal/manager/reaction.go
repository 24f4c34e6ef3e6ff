package manager

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/dispatch"
	"github.com/zxhio/telemetry-int/internal/errcode"
	"github.com/zxhio/telemetry-int/internal/flowbuilder"
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/proxyport"
	"github.com/zxhio/telemetry-int/internal/repository"
	"github.com/zxhio/telemetry-int/pkg/cookie"
)

// Stale fragments are rebuilt above the priority of regular telemetry rules.
const failoverRemovePriority = 2100

// HandleFailoverFlows installs telemetry rules for the new hops of circuits
// whose path changed and removes the ones of the old hops. Circuits whose
// proxy ports can no longer be resolved fall back to base forwarding.
func (m *Manager) HandleFailoverFlows(ctx context.Context, events map[string]*model.FailoverCircuit, eventName string) error {
	var (
		toInstall   = make(model.Circuits)
		toRemove    = make(model.Circuits)
		toRemoveErr = make(model.Circuits)
		newRules    = make(model.StoredRules)
		oldRules    = make(model.StoredRules)
	)

	for id, fc := range events {
		if fc == nil || !fc.HasINTEnabled() {
			continue
		}
		c := fc.Circuit.Clone()
		c.ID = id

		ppA, ppZ, err := m.resolveProxyPorts(c)
		if err != nil {
			logrus.WithError(err).WithField("evc_id", id).Error("Unexpected proxy port state, INT will be removed")
			toRemoveErr[id] = c
			continue
		}
		c.UNIA.ProxyPort, c.UNIZ.ProxyPort = ppA.Ref(), ppZ.Ref()

		for sw, flows := range fc.Flows {
			for _, f := range flows {
				newRules.Add(model.RuleRecord{Switch: sw, Flow: f.Clone()})
			}
		}
		for sw, flows := range fc.RemovedFlows {
			for _, f := range flows {
				f = f.Clone()
				f.Priority = failoverRemovePriority
				f.TableGroup = flowbuilder.TableGroupEPL
				if f.Match.HasVlan() {
					f.TableGroup = flowbuilder.TableGroupEVPL
				}
				oldRules.Add(model.RuleRecord{Switch: sw, Flow: f})
			}
		}

		if len(fc.Flows) > 0 {
			toInstall[id] = c
		}
		if len(fc.RemovedFlows) > 0 {
			toRemove[id] = c
		}
	}

	log := logrus.WithField("event", eventName)
	// TODO: diff the sink svlans of the old and new paths per circuit and
	// delete by cookie when they match, instead of rebuilding the sink loop.
	if len(toRemove) > 0 {
		log.WithField("evc_ids", toRemove.IDs()).Info("Removing failover INT flows")
		if err := m.sendRules(ctx, m.builder.Build(toRemove, oldRules), dispatch.CommandDelete); err != nil {
			return err
		}
	}
	if len(toRemoveErr) > 0 {
		log.WithField("evc_ids", toRemoveErr.IDs()).Error("Proxy port error, falling back to mef_eline")
		md := model.NewTelemetryMetadata(true, model.StatusDown, model.ReasonProxyPortError)
		if err := m.RemoveINTFlows(ctx, toRemoveErr, md, true); err != nil {
			return err
		}
	}
	if len(toInstall) > 0 {
		log.WithField("evc_ids", toInstall.IDs()).Info("Installing failover INT flows")
		if err := m.sendRules(ctx, m.builder.Build(toInstall, newRules), dispatch.CommandInstall); err != nil {
			return err
		}
	}
	return nil
}

// HandlePPLinkDown removes the telemetry rules of the circuits using the
// proxy port of link, leaving them on base forwarding.
func (m *Manager) HandlePPLinkDown(ctx context.Context, link *model.Link) error {
	if !m.opts.fallbackLoopDown {
		return nil
	}
	pp, ok := m.proxyPortByLink(link)
	if !ok || pp.Len() == 0 {
		return nil
	}

	m.topoLinkMu.Lock()
	defer m.topoLinkMu.Unlock()

	circuits, err := m.repo.GetCircuits(ctx, repository.Filter{
		TelemetryEnabled: lo.ToPtr(true),
		TelemetryStatus:  model.StatusUp,
	})
	if err != nil {
		return err
	}
	toDeactivate := dependents(circuits, pp)
	if len(toDeactivate) == 0 {
		return nil
	}

	logrus.WithFields(logrus.Fields{"link": link.ID, "evc_ids": toDeactivate.IDs()}).
		Info("Handling link_down, removing INT flows falling back to mef_eline")
	md := model.NewTelemetryMetadata(true, model.StatusDown, model.ReasonProxyPortDown)
	return m.RemoveINTFlows(ctx, toDeactivate, md, true)
}

// HandlePPLinkUp reinstalls the telemetry rules of circuits that fell back
// because of their proxy port, once both of their proxy ports are UP again.
func (m *Manager) HandlePPLinkUp(ctx context.Context, link *model.Link) error {
	if !m.opts.fallbackLoopDown {
		return nil
	}
	pp, ok := m.proxyPortByLink(link)
	if !ok || pp.Len() == 0 {
		return nil
	}

	m.topoLinkMu.Lock()
	defer m.topoLinkMu.Unlock()

	if !link.IsUp() {
		return nil
	}
	circuits, err := m.repo.GetCircuits(ctx, repository.Filter{
		TelemetryEnabled: lo.ToPtr(true),
		TelemetryStatus:  model.StatusDown,
	})
	if err != nil {
		return err
	}

	toInstall := model.Circuits(lo.PickBy(circuits, func(id string, c *model.Circuit) bool {
		if c == nil || !c.Active || c.Archived || !pp.HasEVC(id) {
			return false
		}
		for _, uni := range []model.Endpoint{c.UNIA, c.UNIZ} {
			srcID, ok := m.hasUNISource(uni.InterfaceID)
			if !ok {
				return false
			}
			uniPP, ok := m.proxyPortBySource(srcID)
			if !ok || uniPP.Status() != model.StatusUp {
				return false
			}
		}
		return true
	}))
	if len(toInstall) == 0 {
		return nil
	}

	validated, err := m.validateMapEnable(toInstall, true)
	if err != nil {
		logrus.WithError(err).WithField("link", link.ID).Error("Fail to validate circuits on link_up")
		return nil
	}

	logrus.WithFields(logrus.Fields{"link": link.ID, "evc_ids": validated.IDs()}).Info("Handling link_up, deploying INT flows")
	md := model.NewTelemetryMetadata(true, model.StatusUp)
	if err := m.InstallINTFlows(ctx, validated, md, false); err != nil {
		if errcode.IsKind(err, errcode.KindFlowsNotFound) {
			logrus.WithError(err).WithField("link", link.ID).Error("Flows not found on link_up")
			return nil
		}
		return err
	}
	return nil
}

// HandlePPMetadataRemoved falls back to base forwarding for every circuit
// using the proxy port of intf once its proxy_port metadata is gone.
func (m *Manager) HandlePPMetadataRemoved(ctx context.Context, intf *model.Interface) error {
	if intf.HasProxyPortMetadata() {
		return nil
	}
	pp, ok := m.proxyPortByUNI(intf.ID)
	if !ok || pp.Len() == 0 {
		return nil
	}

	m.intfMetaMu.Lock()
	defer m.intfMetaMu.Unlock()

	circuits, err := m.repo.GetCircuits(ctx, repository.Filter{
		TelemetryEnabled: lo.ToPtr(true),
		TelemetryStatus:  model.StatusUp,
	})
	if err != nil {
		return err
	}
	toDeactivate := dependents(circuits, pp)
	if len(toDeactivate) == 0 {
		return nil
	}

	logrus.WithFields(logrus.Fields{"interface": intf.ID, "evc_ids": toDeactivate.IDs()}).
		Info("Handling interface metadata removed, removing INT flows falling back to mef_eline")
	md := model.NewTelemetryMetadata(true, model.StatusDown, model.ReasonProxyPortMetadataRemoved)
	return m.RemoveINTFlows(ctx, toDeactivate, md, true)
}

// HandlePPMetadataAdded repoints the proxy port of intf when its proxy_port
// metadata now names another source, then disables and enables again every
// circuit depending on it so their rules target the new source.
func (m *Manager) HandlePPMetadataAdded(ctx context.Context, intf *model.Interface) error {
	port, ok := intf.ProxyPortNumber()
	if !ok {
		return nil
	}
	src, ok := m.topo.GetInterfaceByPortNo(intf.Switch, port)
	if !ok {
		logrus.WithFields(logrus.Fields{"interface": intf.ID, "proxy_port": port}).Warn("Proxy port source interface not found")
		return nil
	}

	// The source comparison and the repoint must not interleave with another
	// metadata update of the same UNI.
	m.intfMetaMu.Lock()
	defer m.intfMetaMu.Unlock()

	pp, ok := m.proxyPortByUNI(intf.ID)
	if !ok || pp.Len() == 0 || src.ID == pp.SourceID() {
		return nil
	}

	m.repoint(pp, intf.ID, src.ID)

	circuits, err := m.repo.GetCircuits(ctx, repository.Filter{TelemetryEnabled: lo.ToPtr(true)})
	if err != nil {
		return err
	}
	affected := dependents(circuits, pp)
	if len(affected) == 0 {
		return nil
	}

	log := logrus.WithFields(logrus.Fields{"interface": intf.ID, "proxy_port": pp.String(), "evc_ids": affected.IDs()})
	log.Info("Handling interface metadata updated, redeploying INT on the new proxy port")
	if err := m.DisableINT(ctx, affected, true); err != nil {
		return err
	}
	if err := m.EnableINT(ctx, affected, true); err != nil {
		if errcode.IsEVCError(err) {
			log.WithError(err).Error("Validation error when updating interface proxy port")
			return nil
		}
		return err
	}
	return nil
}

// HandleFlowError disables telemetry on the circuit of a telemetry rule
// rejected by a switch on install.
func (m *Manager) HandleFlowError(ctx context.Context, fe *model.FlowError) error {
	if fe.ErrorException != "" || fe.ErrorCommand != model.FlowCommandAdd ||
		cookie.PrefixOf(fe.Flow.Cookie) != m.opts.intPrefix {
		return nil
	}

	m.flowErrorMu.Lock()
	defer m.flowErrorMu.Unlock()

	id := cookie.ID(fe.Flow.Cookie)
	circuits, err := m.repo.GetCircuit(ctx, id, false)
	if err != nil {
		return err
	}
	c, ok := circuits[id]
	if !ok || !c.HasINTEnabled() {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"evc_id":     id,
		"error_type": fe.ErrorType,
		"error_code": fe.ErrorCode,
		"cookie":     cookie.Single(fe.Flow.Cookie).String(),
		"table_id":   fe.Flow.TableID,
	}).Error("Disabling INT due to OFPT_ERROR")
	md := model.NewTelemetryMetadata(false, model.StatusDown, model.ReasonOFPTError)
	return m.RemoveINTFlows(ctx, model.Circuits{id: c}, md, true)
}

// HandleEVCDeleted disables telemetry on a deleted circuit.
func (m *Manager) HandleEVCDeleted(ctx context.Context, c *model.Circuit) error {
	if !c.HasINTEnabled() {
		return nil
	}
	logrus.WithField("evc_id", c.ID).Info("Handling mef_eline.deleted")
	return m.DisableINT(ctx, model.Circuits{c.ID: c}, true)
}

// HandleEVCUndeployed removes the telemetry rules of a circuit that was
// disabled, keeping telemetry enabled for when it is deployed again.
func (m *Manager) HandleEVCUndeployed(ctx context.Context, c *model.Circuit) error {
	if c.Enabled || !c.HasINTEnabled() {
		return nil
	}
	logrus.WithField("evc_id", c.ID).Info("Handling mef_eline.undeployed")
	md := model.NewTelemetryMetadata(true, model.StatusDown, model.ReasonUndeployed)
	return m.RemoveINTFlows(ctx, model.Circuits{c.ID: c}, md, true)
}

func dependents(circuits model.Circuits, pp *proxyport.ProxyPort) model.Circuits {
	return model.Circuits(lo.PickBy(circuits, func(id string, _ *model.Circuit) bool { return pp.HasEVC(id) }))
}
