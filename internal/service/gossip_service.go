package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
)

// GossipMeta is the metadata each node advertises to its peers
type GossipMeta struct {
	Record      model.RegistryRecord `json:"record"`
	WriteLocked bool                 `json:"write_locked"`
}

// GossipService spreads node membership between storage nodes. It is an
// optional complement to the registry.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu   sync.RWMutex
	meta GossipMeta
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// NewGossipService creates a memberlist member advertising record and
// joins the seed nodes
func NewGossipService(cfg *GossipConfig, record model.RegistryRecord, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := newGossipService(cfg, record, m, logger)

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = record.NodeName
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}
	m.UpdateGossipMembers(ml.NumMembers())

	return gs, nil
}

func newGossipService(cfg *GossipConfig, record model.RegistryRecord, m *metrics.Metrics, logger *zap.Logger) *GossipService {
	return &GossipService{
		config:  cfg,
		metrics: m,
		logger:  logger,
		meta:    GossipMeta{Record: record},
	}
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	data, err := json.Marshal(s.meta)
	s.mu.RUnlock()
	if err != nil || len(data) > limit {
		s.logger.Warn("Gossip metadata not advertised",
			zap.Int("size", len(data)),
			zap.Int("limit", limit),
			zap.Error(err))
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {}

// SetWriteLocked updates the advertised write lock state. It is safe to
// call with the node lock held.
func (s *GossipService) SetWriteLocked(locked bool) {
	s.mu.Lock()
	s.meta.WriteLocked = locked
	s.mu.Unlock()

	if s.memberlist == nil {
		return
	}
	go func() {
		if err := s.memberlist.UpdateNode(s.config.ProbeTimeout); err != nil {
			s.logger.Warn("Failed to propagate node metadata", zap.Error(err))
		}
	}()
}

// Members returns the advertised metadata of every live member, sorted by
// node name. Members without decodable metadata are skipped.
func (s *GossipService) Members() []GossipMeta {
	if s.memberlist == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return []GossipMeta{s.meta}
	}

	var out []GossipMeta
	for _, node := range s.memberlist.Members() {
		meta, err := decodeGossipMeta(node.Meta)
		if err != nil {
			s.logger.Debug("Skipping member without metadata", zap.String("node", node.Name))
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.NodeName < out[j].Record.NodeName })
	return out
}

func decodeGossipMeta(data []byte) (GossipMeta, error) {
	var meta GossipMeta
	if len(data) == 0 {
		return meta, fmt.Errorf("empty metadata")
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// Shutdown leaves the cluster and shuts down the gossip service
func (s *GossipService) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(s.config.ProbeTimeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

func (s *GossipService) memberCount() int {
	if s.memberlist == nil {
		return 1
	}
	return s.memberlist.NumMembers()
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.metrics.RecordGossipEvent("join")
	d.service.metrics.UpdateGossipMembers(d.service.memberCount())
	d.service.logger.Info("Node joined",
		zap.String("node", node.Name),
		zap.String("addr", node.Address()))
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.metrics.RecordGossipEvent("leave")
	d.service.metrics.UpdateGossipMembers(d.service.memberCount())
	d.service.logger.Info("Node left",
		zap.String("node", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.metrics.RecordGossipEvent("update")
	meta, err := decodeGossipMeta(node.Meta)
	if err != nil {
		d.service.logger.Debug("Node updated", zap.String("node", node.Name))
		return
	}
	d.service.logger.Debug("Node updated",
		zap.String("node", node.Name),
		zap.Bool("write_locked", meta.WriteLocked))
}
