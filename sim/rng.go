package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// === SimulationKey ===

// SimulationKey is the master seed of a batch run. Two runs with the same
// SimulationKey and identical configuration MUST produce bit-for-bit identical
// results, irrespective of worker count or scheduling order.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === ReplicateKey ===

// ReplicateKey identifies one independent simulated trajectory: the
// cross-product of treatment strategy, patient, and PSA parameter draw.
type ReplicateKey struct {
	Strategy int
	Patient  int
	Draw     int
}

func (k ReplicateKey) String() string {
	return fmt.Sprintf("s%d:p%d:d%d", k.Strategy, k.Patient, k.Draw)
}

// SubsystemCohort is the stream name for synthetic cohort generation, which
// draws from the master seed before any replicate runs.
const SubsystemCohort = "cohort"

// ReplicateRNG returns the private random stream for one replicate, derived
// deterministically from the master seed and the replicate key. Streams for
// distinct replicates are mutually independent, so workers may consume them
// in any order without affecting results.
func ReplicateRNG(key SimulationKey, rk ReplicateKey) *rand.Rand {
	return streamFor(key, rk.String())
}

// SubsystemRNG returns a named non-replicate stream (e.g. cohort synthesis)
// isolated from every replicate stream.
func SubsystemRNG(key SimulationKey, name string) *rand.Rand {
	return streamFor(key, "subsystem:"+name)
}

func streamFor(key SimulationKey, name string) *rand.Rand {
	derived := uint64(key) ^ fnv1a64(name)
	return rand.New(rand.NewPCG(uint64(key), derived))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
