// Package partition implements C10: a consistent-hash ring for sharding the
// cache across partitions, with migration and rebalancing on top.
//
// DESIGN: each partition owns `virtualNodesPerPartition` positions on the
// ring (spec default 150) so that adding or removing one partition only
// relocates a small, evenly-distributed fraction of keys rather than a
// contiguous arc's worth. The ring is a sorted slice searched with
// sort.Search (binary search), matching the reference's "sorted ring,
// binary search wrapping to the first node" lookup rule (spec §4.10).
package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/utils"
)

// Status is a partition's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusMigrating Status = "migrating"
	StatusDraining  Status = "draining"
	StatusInactive  Status = "inactive"
)

// PartitionInfo describes one partition (spec §3).
type PartitionInfo struct {
	ID                string
	Strategy          string
	Status            Status
	KeyCount          int
	MemoryUsage       int64
	VirtualNodeHashes []uint32
	CreatedAt         time.Time
	LastAccessed      time.Time
}

// DistributionTarget selects Rebalance's objective.
type DistributionTarget string

const (
	DistributionEven           DistributionTarget = "even"
	DistributionWeighted       DistributionTarget = "weighted"
	DistributionCapacityBased  DistributionTarget = "capacity-based"
)

type vnode struct {
	hash        uint32
	partitionID string
}

// keyRecord tracks one key's size for the owning partition's memory
// accounting.
type keyRecord struct {
	size int64
}

// Router is the consistent-hash partition router.
type Router struct {
	mu              sync.RWMutex
	virtualNodes    int
	ring            []vnode
	partitions      map[string]*PartitionInfo
	keys            map[string]map[string]keyRecord // partitionID -> key -> record
	keyOwner        map[string]string                // key -> partitionID, for routeQuery/migrate bookkeeping
}

// New constructs a Router with virtualNodesPerPartition virtual nodes per
// partition (spec default 150).
func New(virtualNodesPerPartition int) *Router {
	if virtualNodesPerPartition <= 0 {
		virtualNodesPerPartition = 150
	}
	return &Router{
		virtualNodes: virtualNodesPerPartition,
		partitions:   make(map[string]*PartitionInfo),
		keys:         make(map[string]map[string]keyRecord),
		keyOwner:     make(map[string]string),
	}
}

// HashKey hashes k with SHA-256 truncated to the first 4 bytes,
// big-endian, as an unsigned 32-bit integer (spec §4.10).
func HashKey(k string) uint32 {
	sum := sha256.Sum256([]byte(k))
	return binary.BigEndian.Uint32(sum[:4])
}

// CreatePartition registers a new partition and adds its virtual nodes to
// the ring.
func (r *Router) CreatePartition(id, strategy string) (PartitionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.partitions[id]; exists {
		return PartitionInfo{}, apperrors.InvalidArgument("partition %q already exists", id)
	}

	hashes := make([]uint32, 0, r.virtualNodes)
	for i := 0; i < r.virtualNodes; i++ {
		h := HashKey(fmt.Sprintf("%s:vnode:%d", id, i))
		hashes = append(hashes, h)
		r.ring = append(r.ring, vnode{hash: h, partitionID: id})
	}
	sort.Slice(r.ring, func(i, j int) bool { return r.ring[i].hash < r.ring[j].hash })

	info := &PartitionInfo{
		ID: id, Strategy: strategy, Status: StatusActive,
		VirtualNodeHashes: hashes, CreatedAt: time.Now().UTC(),
	}
	r.partitions[id] = info
	r.keys[id] = make(map[string]keyRecord)
	return *info, nil
}

// DeletePartition drains a partition's keys to their next-ring owner, then
// removes its virtual nodes and bookkeeping.
func (r *Router) DeletePartition(id string) error {
	r.mu.Lock()
	if _, ok := r.partitions[id]; !ok {
		r.mu.Unlock()
		return apperrors.NotFound("partition %q not found", id)
	}
	r.partitions[id].Status = StatusDraining
	keysToDrain := make([]string, 0, len(r.keys[id]))
	for k := range r.keys[id] {
		keysToDrain = append(keysToDrain, k)
	}
	r.mu.Unlock()

	for _, k := range keysToDrain {
		r.mu.Lock()
		rec := r.keys[id][k]
		delete(r.keys[id], k)
		r.mu.Unlock()

		target := r.nextOwnerExcluding(k, id)
		if target != "" {
			r.mu.Lock()
			r.keys[target][k] = rec
			r.keyOwner[k] = target
			r.mu.Unlock()
		} else {
			r.mu.Lock()
			delete(r.keyOwner, k)
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	newRing := r.ring[:0:0]
	for _, vn := range r.ring {
		if vn.partitionID != id {
			newRing = append(newRing, vn)
		}
	}
	r.ring = newRing
	delete(r.partitions, id)
	delete(r.keys, id)
	return nil
}

// ListPartitions returns every registered partition's current info.
func (r *Router) ListPartitions() []PartitionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PartitionInfo, 0, len(r.partitions))
	for _, p := range r.partitions {
		cp := *p
		cp.KeyCount, cp.MemoryUsage = r.partitionLoadLocked(p.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Router) partitionLoadLocked(id string) (count int, bytes int64) {
	for _, rec := range r.keys[id] {
		count++
		bytes += rec.size
	}
	return count, bytes
}

// RouteQuery returns the primary owning partition for key plus up to
// replicationFactor-1 further distinct partitions walking the ring
// clockwise, for replica placement.
func (r *Router) RouteQuery(key string, replicationFactor int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ring) == 0 {
		return nil, apperrors.NotFound("no partitions registered")
	}
	if replicationFactor < 1 {
		replicationFactor = 1
	}

	start := r.ownerIndexLocked(key)
	seen := map[string]bool{}
	var out []string
	for i := 0; i < len(r.ring) && len(out) < replicationFactor; i++ {
		vn := r.ring[(start+i)%len(r.ring)]
		if seen[vn.partitionID] {
			continue
		}
		seen[vn.partitionID] = true
		out = append(out, vn.partitionID)
	}
	return out, nil
}

// ownerIndexLocked returns the ring index of the first virtual node whose
// hash is >= key's hash, wrapping to index 0 if none (spec §4.10).
func (r *Router) ownerIndexLocked(key string) int {
	h := HashKey(key)
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i].hash >= h })
	if idx == len(r.ring) {
		idx = 0
	}
	return idx
}

func (r *Router) owner(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ring) == 0 {
		return ""
	}
	return r.ring[r.ownerIndexLocked(key)].partitionID
}

// nextOwnerExcluding finds the ring owner for key skipping any virtual node
// belonging to excludeID, used when draining a partition.
func (r *Router) nextOwnerExcluding(key, excludeID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ring) == 0 {
		return ""
	}
	start := r.ownerIndexLocked(key)
	for i := 0; i < len(r.ring); i++ {
		vn := r.ring[(start+i)%len(r.ring)]
		if vn.partitionID != excludeID {
			return vn.partitionID
		}
	}
	return ""
}

// PlaceKey records ownership of key (with its byte size) into the partition
// the ring currently assigns it to. Callers (handlers wiring C4 writes
// through the router) use this to keep routing accounting current; it does
// not move any actual cached bytes, which remain the Cache Engine's job.
func (r *Router) PlaceKey(key string, size int64) (string, error) {
	owner := r.owner(key)
	if owner == "" {
		return "", apperrors.NotFound("no partitions registered to place key %q", key)
	}
	r.mu.Lock()
	r.keys[owner][key] = keyRecord{size: size}
	r.keyOwner[key] = owner
	r.mu.Unlock()
	return owner, nil
}

// Migrate moves every key in source matching keyPattern (or all keys if
// keyPattern is empty) to target, updating key/memory accounting per key
// atomically.
func (r *Router) Migrate(source, target, keyPattern string) (int, error) {
	r.mu.Lock()
	if _, ok := r.partitions[source]; !ok {
		r.mu.Unlock()
		return 0, apperrors.NotFound("source partition %q not found", source)
	}
	if _, ok := r.partitions[target]; !ok {
		r.mu.Unlock()
		return 0, apperrors.NotFound("target partition %q not found", target)
	}
	r.partitions[source].Status = StatusMigrating
	var toMove []string
	for k := range r.keys[source] {
		if keyPattern == "" || utils.MatchGlob(keyPattern, k) {
			toMove = append(toMove, k)
		}
	}
	r.mu.Unlock()

	for _, k := range toMove {
		r.moveKeyLocked(source, target, k)
	}

	r.mu.Lock()
	r.partitions[source].Status = StatusActive
	r.mu.Unlock()

	return len(toMove), nil
}

// moveKeyLocked moves a single key's record from source to target,
// acquiring its own lock scope so callers don't need to reason about the
// exact field layout being mutated.
func (r *Router) moveKeyLocked(source, target, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.keys[source][key]
	delete(r.keys[source], key)
	r.keys[target][key] = rec
	r.keyOwner[key] = target
}

// migrationPlan is one planned move within Rebalance.
type migrationPlan struct {
	Key    string
	From   string
	To     string
}

// Rebalance greedily plans moves from the most-overloaded partition to the
// most-underloaded one until the distribution is within tolerance or
// maxMigrations moves have been made, then executes the plan.
func (r *Router) Rebalance(target DistributionTarget, maxMigrations int) ([]migrationPlan, error) {
	partitions := r.ListPartitions()
	if len(partitions) < 2 {
		return nil, nil
	}

	totalKeys := 0
	for _, p := range partitions {
		totalKeys += p.KeyCount
	}
	meanKeys := float64(totalKeys) / float64(len(partitions))

	var plans []migrationPlan
	moved := 0
	for moved < maxMigrations {
		sort.Slice(partitions, func(i, j int) bool { return partitions[i].KeyCount > partitions[j].KeyCount })
		most := &partitions[0]
		least := &partitions[len(partitions)-1]

		if float64(most.KeyCount) <= meanKeys+1 || most.ID == least.ID {
			break
		}

		r.mu.RLock()
		var moveKey string
		for k := range r.keys[most.ID] {
			moveKey = k
			break
		}
		r.mu.RUnlock()
		if moveKey == "" {
			break
		}

		r.moveKeyLocked(most.ID, least.ID, moveKey)
		plans = append(plans, migrationPlan{Key: moveKey, From: most.ID, To: least.ID})
		moved++

		most.KeyCount--
		least.KeyCount++
	}

	_ = target // not consulted: every target uses the same mean-based stopping rule
	return plans, nil
}

// RouterStats reports load-imbalance and hot-partition diagnostics.
type RouterStats struct {
	Partitions         []PartitionInfo
	MeanKeyCount       float64
	CoefficientOfVariation float64
	HotPartitions      []string
}

// Stats computes the coefficient of variation of per-partition key counts
// and flags partitions with more than 2x the mean as "hot" (spec §4.10).
func (r *Router) Stats() RouterStats {
	partitions := r.ListPartitions()
	if len(partitions) == 0 {
		return RouterStats{}
	}

	var sum float64
	for _, p := range partitions {
		sum += float64(p.KeyCount)
	}
	mean := sum / float64(len(partitions))

	var sq float64
	for _, p := range partitions {
		d := float64(p.KeyCount) - mean
		sq += d * d
	}
	variance := sq / float64(len(partitions))
	stddev := math.Sqrt(variance)

	var cv float64
	if mean > 0 {
		cv = stddev / mean
	}

	var hot []string
	for _, p := range partitions {
		if mean > 0 && float64(p.KeyCount) > 2*mean {
			hot = append(hot, p.ID)
		}
	}

	return RouterStats{Partitions: partitions, MeanKeyCount: mean, CoefficientOfVariation: cv, HotPartitions: hot}
}

// SplitPartition creates targetCount new partitions with CreatePartition and
// moves roughly 1/(targetCount+1) of hotID's keys to each. The keys are
// moved directly under the router lock, not through Migrate.
func (r *Router) SplitPartition(hotID string, targetCount int) ([]string, error) {
	r.mu.RLock()
	_, ok := r.partitions[hotID]
	keys := make([]string, 0, len(r.keys[hotID]))
	for k := range r.keys[hotID] {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("partition %q not found", hotID)
	}

	var newIDs []string
	for i := 0; i < targetCount; i++ {
		newID := fmt.Sprintf("%s-split-%d", hotID, i)
		if _, err := r.CreatePartition(newID, r.strategyOf(hotID)); err != nil {
			return newIDs, err
		}
		newIDs = append(newIDs, newID)
	}

	perTarget := len(keys) / (targetCount + 1)
	for i, newID := range newIDs {
		start := i * perTarget
		end := start + perTarget
		if end > len(keys) {
			end = len(keys)
		}
		for _, k := range keys[start:end] {
			r.mu.Lock()
			rec := r.keys[hotID][k]
			delete(r.keys[hotID], k)
			r.keys[newID][k] = rec
			r.keyOwner[k] = newID
			r.mu.Unlock()
		}
	}
	return newIDs, nil
}

func (r *Router) strategyOf(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.partitions[id]; ok {
		return p.Strategy
	}
	return ""
}

// MergePartitions migrates every key from each of ids into targetID, then
// deletes the now-empty source partitions.
func (r *Router) MergePartitions(ids []string, targetID string) error {
	for _, id := range ids {
		if id == targetID {
			continue
		}
		if _, err := r.Migrate(id, targetID, ""); err != nil {
			return err
		}
		if err := r.DeletePartition(id); err != nil {
			return err
		}
	}
	return nil
}
