package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// SweepLocker implements biz.SweepLocker on redsync. Lock loss on release is
// logged, not fatal: the lock only reduces duplicate sweep work, correctness
// comes from the conditional transition.
type SweepLocker struct {
	sync *redsync.Redsync
	log  *log.Helper
}

// NewSweepLocker creates the sweep leader lock.
func NewSweepLocker(sync *redsync.Redsync, logger log.Logger) *SweepLocker {
	return &SweepLocker{
		sync: sync,
		log:  log.NewHelper(logger),
	}
}

// TryLock acquires the named lock without blocking. The returned release
// func is safe to call once; ok=false means another instance holds it.
func (l *SweepLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	if l.sync == nil {
		return func() {}, true
	}
	mutex := l.sync.NewMutex(name, redsync.WithExpiry(ttl))
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, false
	}
	return func() {
		if ok, err := mutex.Unlock(); !ok || err != nil {
			l.log.Warnf("failed to release sweep lock %s: %v", name, err)
		}
	}, true
}
