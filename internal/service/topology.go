package service

import (
	"github.com/zxhio/telemetry-int/internal/model"
	"github.com/zxhio/telemetry-int/internal/topology"
	"github.com/zxhio/telemetry-int/pkg/utils"
)

type TopologyService struct {
	store *topology.Store
}

func NewTopologyService(store *topology.Store) *TopologyService {
	return &TopologyService{store: store}
}

// ListInterfaces pages through the known interfaces, optionally of a single
// switch or only those bound to a proxy port.
func (s *TopologyService) ListInterfaces(switchID string, proxyPortOnly bool, page, limit int) ([]*model.Interface, int) {
	return utils.LimitPageSliceFunc(s.store.Interfaces(), page, limit, func(intf *model.Interface) bool {
		if switchID != "" && intf.Switch != switchID {
			return false
		}
		return !proxyPortOnly || intf.HasProxyPortMetadata()
	})
}

func (s *TopologyService) ListLinks(page, limit int) ([]*model.Link, int) {
	return utils.LimitPageSlice(s.store.Links(), page, limit)
}
