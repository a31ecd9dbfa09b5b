// Package ids generates human readable business identifiers such as order
// and tracking numbers.
package ids

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	PrefixOrder    = "ORD"
	PrefixTracking = "TRK"

	timeLayout = "20060102150405"
)

// Generator produces PREFIX-yyyyMMddHHmmss-XXXXXXXX identifiers. The suffix is
// a random seed plus a counter, so identifiers from one generator never
// collide within 2^32 calls and independent processes are unlikely to.
type Generator struct {
	prefix string
	seed   uint32
	seq    atomic.Uint32
	now    func() time.Time
}

func NewGenerator(prefix string) *Generator {
	id := uuid.New()
	return &Generator{
		prefix: prefix,
		seed:   binary.BigEndian.Uint32(id[:4]),
		now:    time.Now,
	}
}

func (g *Generator) Next() string {
	n := g.seed + g.seq.Add(1)
	return fmt.Sprintf("%s-%s-%08X", g.prefix, g.now().UTC().Format(timeLayout), n)
}
