package syncengine

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"pocket-ledger/internal/infrastructure/localstore"
)

// IDGenerator produces collision-resistant identifiers for records created on
// independently-operating offline devices. The whole sync design (queue
// dedup, replay matching, merge-by-id) rests on these never colliding.
//
// Primary strategy: a 128-bit random UUID as "{prefix}-{uuid}". If strong
// randomness is unavailable, falls back to
// "{prefix}-{millis}-{deviceSuffix}-{counter}" where the device suffix comes
// from a per-device identifier persisted in the local store, so two devices
// creating a record in the same millisecond still cannot collide.
type IDGenerator struct {
	store  *localstore.Store
	logger *slog.Logger

	mu       sync.Mutex
	deviceID string
	counter  uint32
}

func NewIDGenerator(store *localstore.Store, logger *slog.Logger) *IDGenerator {
	if store == nil {
		panic("local store cannot be nil for IDGenerator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IDGenerator{
		store:   store,
		logger:  logger.With("component", "IDGenerator"),
		counter: rand.Uint32(),
	}
}

func (g *IDGenerator) Generate(prefix string) string {
	if id, err := uuid.NewRandom(); err == nil {
		return fmt.Sprintf("%s-%s", prefix, id.String())
	}
	return g.fallback(prefix)
}

func (g *IDGenerator) fallback(prefix string) string {
	g.mu.Lock()
	g.counter++
	c := g.counter
	suffix := g.deviceSuffixLocked()
	g.mu.Unlock()

	return fmt.Sprintf("%s-%d-%s-%06x", prefix, time.Now().UnixMilli(), suffix, c&0xffffff)
}

// deviceSuffixLocked returns a short stable per-device identifier, creating
// and persisting one on first use.
func (g *IDGenerator) deviceSuffixLocked() string {
	if g.deviceID != "" {
		return g.deviceID
	}

	var stored string
	if ok, err := g.store.GetJSON(localstore.KeyDeviceID, &stored); err == nil && ok && stored != "" {
		g.deviceID = stored
		return g.deviceID
	}

	id, err := uuid.NewRandom()
	if err == nil {
		stored = id.String()[:8]
	} else {
		// Last-ditch derivation without strong randomness.
		host, _ := os.Hostname()
		h := fnv.New32a()
		fmt.Fprintf(h, "%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
		stored = fmt.Sprintf("%08x", h.Sum32())
	}

	if err := g.store.SetJSON(localstore.KeyDeviceID, stored); err != nil {
		g.logger.Warn("Failed to persist device identifier", "error", err)
	}
	g.deviceID = stored
	return g.deviceID
}
