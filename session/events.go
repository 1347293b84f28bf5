package session

import (
	"context"

	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/tokenstore"
)

func (o *Orchestrator) identityLoop(ctx context.Context, sub *identity.Subscription) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			o.handleIdentityEvent(ctx, ev)
		}
	}
}

// handleIdentityEvent reacts to provider session changes made outside an
// orchestrator action. Events raised by the orchestrator's own calls arrive
// while the action is in flight, or after it settled, and are ignored.
func (o *Orchestrator) handleIdentityEvent(ctx context.Context, ev identity.Event) {
	o.mu.Lock()
	idle := !o.inFlight

	switch {
	case ev.Handle == nil && idle && o.snap.State == StateAuthenticated && o.providerBacked:
		o.mu.Unlock()
		// Events are coalesced and may be stale; trust the provider's
		// current view.
		current, err := o.identity.CurrentIdentity(ctx)
		if err != nil || current != nil {
			return
		}
		o.mu.Lock()
		if o.inFlight || o.snap.State != StateAuthenticated {
			o.mu.Unlock()
			return
		}
		o.beginLocked()
		o.inFlight = false
		o.logger.Info().Msg("provider session ended, clearing session")
		if err := o.teardownLocked(ctx); err != nil {
			o.logger.Error().Err(err).Msg("failed to clear token store after provider sign-out")
		}
		o.commitLocked(Snapshot{State: StateAnonymous, Message: msgProviderSignedOut, Selection: o.snap.Selection})

	case ev.Handle.Verified() && idle && o.snap.State == StateAnonymous:
		seq := o.beginLocked()
		o.mu.Unlock()
		current, err := o.identity.CurrentIdentity(ctx)
		if err != nil {
			o.mu.Lock()
			if o.seq == seq {
				o.inFlight = false
			}
			o.mu.Unlock()
			return
		}
		if err := o.resumeWith(ctx, seq, current); err != nil && !errors.Is(err, ErrSuperseded) {
			o.logger.Warn().Err(err).Msg("resumption from provider event failed")
		}

	default:
		o.mu.Unlock()
	}
}

func (o *Orchestrator) watchLoop(ctx context.Context, changes <-chan tokenstore.Change) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.Cleared {
				o.handleStoreCleared(ctx)
			}
		}
	}
}

// handleStoreCleared ends this process's session when another process
// cleared the shared record.
func (o *Orchestrator) handleStoreCleared(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight || o.snap.State != StateAuthenticated {
		o.mu.Unlock()
		return
	}
	if _, err := o.store.Load(ctx); !errors.Is(err, tokenstore.ErrEmpty) {
		o.mu.Unlock()
		return
	}
	o.beginLocked()
	o.inFlight = false
	o.tokens = token.Pair{}
	o.pending = nil
	o.logger.Info().Msg("session record cleared by another process")
	o.signOutLocked(ctx)
	o.commitLocked(Snapshot{State: StateAnonymous, Message: msgSignedOutElsewhere, Selection: o.snap.Selection})
}
