package topology

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/zxhio/telemetry-int/internal/model"
	"golang.org/x/sys/unix"
)

// LinkNotifier is called when a watched link changes status.
type LinkNotifier func(link *model.Link, status model.Status)

// NetlinkWatcher follows the kernel link state of the interfaces of a local
// software switch and reflects it into the store.
type NetlinkWatcher struct {
	store    *Store
	switchID string
	notify   LinkNotifier
}

func NewNetlinkWatcher(store *Store, switchID string, notify LinkNotifier) *NetlinkWatcher {
	return &NetlinkWatcher{store: store, switchID: switchID, notify: notify}
}

func (w *NetlinkWatcher) Run(ctx context.Context) error {
	ch := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	err := netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			logrus.WithError(err).Warn("Netlink subscription error")
		},
	})
	if err != nil {
		return errors.Wrap(err, "netlink.LinkSubscribe")
	}
	logrus.WithField("switch", w.switchID).Info("Watching netlink link state")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-ch:
			if !ok {
				return errors.New("netlink subscription closed")
			}
			attrs := update.Link.Attrs()
			if attrs == nil {
				continue
			}
			up := update.Header.Type != unix.RTM_DELLINK &&
				update.Flags&unix.IFF_UP != 0 &&
				(attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown)
			w.Apply(attrs.Name, up)
		}
	}
}

// Apply records the state of the named local interface and recomputes the
// status of its links.
func (w *NetlinkWatcher) Apply(name string, up bool) {
	intf, ok := w.findByName(name)
	if !ok {
		return
	}

	status := model.StatusDown
	if up {
		status = model.StatusUp
	}
	if intf.Status == status {
		return
	}
	w.store.SetInterfaceStatus(intf.ID, status)
	logrus.WithFields(logrus.Fields{"interface": intf.ID, "name": name, "status": status}).Info("Interface status changed")

	for _, link := range w.store.LinksOf(intf.ID) {
		a, aok := w.store.GetInterfaceByID(link.EndpointA)
		b, bok := w.store.GetInterfaceByID(link.EndpointB)
		linkStatus := model.StatusDown
		if aok && bok && a.IsUp() && b.IsUp() {
			linkStatus = model.StatusUp
		}
		if linkStatus == link.Status {
			continue
		}
		link.Status = linkStatus
		w.store.UpsertLink(link)
		if w.notify != nil {
			w.notify(link, linkStatus)
		}
	}
}

func (w *NetlinkWatcher) findByName(name string) (*model.Interface, bool) {
	for _, intf := range w.store.Interfaces() {
		if intf.Switch == w.switchID && intf.Name == name {
			return intf, true
		}
	}
	return nil, false
}
