package sync

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Staging tracks which pastes each peer may pull from us. A reservation
// ends on rollback or when its ttl runs out.
type Staging struct {
	reserved *expirable.LRU[string, struct{}]
}

func NewStaging(size int, ttl time.Duration) *Staging {
	if size <= 0 {
		size = 1024
	}
	return &Staging{reserved: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func stagingKey(pasteID int64, p peer.ID) string {
	return strconv.FormatInt(pasteID, 10) + "/" + p.String()
}

func (s *Staging) Stage(pasteID int64, p peer.ID) {
	s.reserved.Add(stagingKey(pasteID, p), struct{}{})
}

func (s *Staging) Reserved(pasteID int64, p peer.ID) bool {
	return s.reserved.Contains(stagingKey(pasteID, p))
}

func (s *Staging) Release(pasteID int64, p peer.ID) bool {
	return s.reserved.Remove(stagingKey(pasteID, p))
}

func (s *Staging) Len() int { return s.reserved.Len() }
