package strategy

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/lbench/internal/backend"
)

// consistentHashStrategy is the ring flavour of ip-hash. Each candidate owns
// virtualNodes points on a crc32 ring; a client goes to the first point at or
// after its own hash. Losing one backend only moves the clients it owned.
type consistentHashStrategy struct {
	virtualNodes int
	ring         atomic.Pointer[ringSnapshot]
	mutex        sync.Mutex
}

type ringSnapshot struct {
	members   string
	positions []uint32
	owners    map[uint32]*backend.Backend
}

func NewConsistentHashStrategy(virtualNodes int) Strategy {
	if virtualNodes <= 0 {
		virtualNodes = 100
	}

	return &consistentHashStrategy{virtualNodes: virtualNodes}
}

func (s *consistentHashStrategy) SelectBackend(rc *RoutingContext, backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	return s.snapshot(backends).lookup(ringKey(rc), nil)
}

// SelectRetry walks clockwise from the client's point to the first owner not
// in tried. The ring is the one built for the full candidate set.
func (s *consistentHashStrategy) SelectRetry(rc *RoutingContext, backends []*backend.Backend, tried map[int]struct{}) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	return s.snapshot(backends).lookup(ringKey(rc), tried)
}

func (s *consistentHashStrategy) snapshot(backends []*backend.Backend) *ringSnapshot {
	members := membershipKey(backends)

	rs := s.ring.Load()
	if rs != nil && rs.members == members {
		return rs
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	rs = s.ring.Load()
	if rs == nil || rs.members != members {
		rs = buildRing(backends, s.virtualNodes, members)
		s.ring.Store(rs)
	}

	return rs
}

func ringKey(rc *RoutingContext) uint32 {
	var key string
	if rc != nil {
		key = rc.ClientAddr
	}
	return crc32.ChecksumIEEE([]byte(key))
}

func buildRing(backends []*backend.Backend, vnodes int, members string) *ringSnapshot {
	rs := &ringSnapshot{
		members:   members,
		positions: make([]uint32, 0, len(backends)*vnodes),
		owners:    make(map[uint32]*backend.Backend, len(backends)*vnodes),
	}

	for _, b := range backends {
		for i := 0; i < vnodes; i++ {
			hash := crc32.ChecksumIEEE([]byte(b.Address() + "#" + strconv.Itoa(i)))
			if _, taken := rs.owners[hash]; taken {
				continue
			}

			rs.positions = append(rs.positions, hash)
			rs.owners[hash] = b
		}
	}

	sort.Slice(rs.positions, func(i, j int) bool { return rs.positions[i] < rs.positions[j] })
	return rs
}

func (r *ringSnapshot) lookup(hash uint32, skip map[int]struct{}) *backend.Backend {
	n := len(r.positions)
	if n == 0 {
		return nil
	}

	start := sort.Search(n, func(i int) bool {
		return r.positions[i] >= hash
	})

	for i := 0; i < n; i++ {
		owner := r.owners[r.positions[(start+i)%n]]
		if _, ok := skip[owner.ID()]; !ok {
			return owner
		}
	}

	return nil
}

func membershipKey(backends []*backend.Backend) string {
	var sb strings.Builder
	for _, b := range backends {
		sb.WriteString(b.Address())
		sb.WriteByte(',')
	}
	return sb.String()
}
