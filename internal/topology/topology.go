package topology

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zxhio/telemetry-int/internal/model"
)

// Topology is the read side used to resolve UNIs and proxy ports. Returned
// values are copies and never change after being returned.
type Topology interface {
	GetInterfaceByID(id string) (*model.Interface, bool)
	GetInterfaceByPortNo(switchID string, port uint32) (*model.Interface, bool)
	GetLink(id string) (*model.Link, bool)
}

// Store is an in-memory topology fed by topology events.
type Store struct {
	mu         *sync.RWMutex
	interfaces map[string]*model.Interface
	links      map[string]*model.Link
}

func NewStore() *Store {
	return &Store{
		mu:         &sync.RWMutex{},
		interfaces: make(map[string]*model.Interface),
		links:      make(map[string]*model.Link),
	}
}

func (s *Store) GetInterfaceByID(id string) (*model.Interface, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intf, ok := s.interfaces[id]
	if !ok {
		return nil, false
	}
	return intf.Clone(), true
}

func (s *Store) GetInterfaceByPortNo(switchID string, port uint32) (*model.Interface, bool) {
	return s.GetInterfaceByID(model.InterfaceID(switchID, port))
}

func (s *Store) GetLink(id string) (*model.Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[id]
	if !ok {
		return nil, false
	}
	return link.Clone(), true
}

func (s *Store) Interfaces() []*model.Interface {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intfs := lo.MapToSlice(s.interfaces, func(_ string, i *model.Interface) *model.Interface { return i.Clone() })
	slices.SortFunc(intfs, func(a, b *model.Interface) int { return strings.Compare(a.ID, b.ID) })
	return intfs
}

func (s *Store) Links() []*model.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := lo.MapToSlice(s.links, func(_ string, l *model.Link) *model.Link { return l.Clone() })
	slices.SortFunc(links, func(a, b *model.Link) int { return strings.Compare(a.ID, b.ID) })
	return links
}

// UpsertInterface replaces the interface; the switch and port number are
// derived from the id when missing.
func (s *Store) UpsertInterface(intf *model.Interface) error {
	if intf.Switch == "" || intf.PortNumber == 0 {
		sw, port, err := model.SplitInterfaceID(intf.ID)
		if err != nil {
			return err
		}
		intf.Switch, intf.PortNumber = sw, port
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := intf.Clone()
	if old, ok := s.interfaces[intf.ID]; ok && c.Link == "" {
		c.Link = old.Link
	}
	s.interfaces[intf.ID] = c
	return nil
}

// SetInterfaceMetadata replaces the interface metadata, reporting whether the
// interface exists.
func (s *Store) SetInterfaceMetadata(id string, metadata map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	intf, ok := s.interfaces[id]
	if !ok {
		return false
	}
	c := intf.Clone()
	c.Metadata = make(map[string]any, len(metadata))
	for k, v := range metadata {
		c.Metadata[k] = v
	}
	s.interfaces[id] = c
	return true
}

func (s *Store) SetInterfaceStatus(id string, status model.Status, reasons ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	intf, ok := s.interfaces[id]
	if !ok {
		return false
	}
	c := intf.Clone()
	c.Status = status
	c.StatusReason = reasons
	s.interfaces[id] = c
	return true
}

// UpsertLink stores the link and points both endpoints to it.
func (s *Store) UpsertLink(link *model.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links[link.ID] = link.Clone()
	for _, id := range []string{link.EndpointA, link.EndpointB} {
		intf, ok := s.interfaces[id]
		if !ok {
			logrus.WithFields(logrus.Fields{"link": link.ID, "interface": id}).Debug("Link endpoint not in topology")
			continue
		}
		c := intf.Clone()
		c.Link = link.ID
		s.interfaces[id] = c
	}
}

func (s *Store) RemoveLink(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return
	}
	delete(s.links, id)
	for _, intfID := range []string{link.EndpointA, link.EndpointB} {
		if intf, ok := s.interfaces[intfID]; ok && intf.Link == id {
			c := intf.Clone()
			c.Link = ""
			s.interfaces[intfID] = c
		}
	}
}

// LinksOf returns the links terminating on the interface.
func (s *Store) LinksOf(intfID string) []*model.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var links []*model.Link
	for _, l := range s.links {
		if l.EndpointA == intfID || l.EndpointB == intfID {
			links = append(links, l.Clone())
		}
	}
	slices.SortFunc(links, func(a, b *model.Link) int { return strings.Compare(a.ID, b.ID) })
	return links
}
