package replica

import (
	"context"
	"sync/atomic"
)

// Shutdown implements spec.md §4.7: release leadership, stop every
// background goroutine, release is_active, and destroy the inter-server
// fetch endpoint. Idempotent and best-effort — a partial failure is
// logged, never returned, so a caller can always proceed to drop the
// process.
func (t *Table) Shutdown(ctx context.Context) {
	t.shutdownOnce.Do(func() {
		t.mergeSelectorMu.Lock()
		stop := t.mergeSelectorStop
		t.mergeSelectorMu.Unlock()
		if stop != nil {
			close(stop)
		}

		t.mu.Lock()
		election := t.electionHolder
		active := t.isActiveHolder
		fetchServer := t.fetchServer
		t.mu.Unlock()

		if election != nil {
			if err := election.Release(ctx); err != nil {
				t.log.Warnf("shutdown: failed to release leader-election candidacy: %v", err)
			}
		}

		atomic.StoreInt32(&t.killed, 1)
		for i := 0; i < cap(t.killedC); i++ {
			t.killedC <- 1
		}

		if active != nil {
			if err := active.Release(ctx); err != nil {
				t.log.Warnf("shutdown: failed to release is_active: %v", err)
			}
		}
		if fetchServer != nil {
			if err := fetchServer.Stop(); err != nil {
				t.log.Warnf("shutdown: failed to stop fetch endpoint: %v", err)
			}
		}

		t.wg.Wait()
		t.log.Infof("replica %s: shutdown complete", t.settings.ReplicaName)
	})
}
