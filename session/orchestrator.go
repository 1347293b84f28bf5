// Package session reconciles the identity provider with the backend and owns
// the token store. All state changes happen under one lock; provider calls,
// assertion minting and backend exchanges run outside it and are tagged with
// the sequence number of the action that started them. A result whose
// sequence is no longer current is dropped.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/learnbox-auth/backend"
	"github.com/jrsteele09/learnbox-auth/identity"
	"github.com/jrsteele09/learnbox-auth/internal/errors"
	"github.com/jrsteele09/learnbox-auth/tenants"
	"github.com/jrsteele09/learnbox-auth/token"
	"github.com/jrsteele09/learnbox-auth/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Identity is the slice of identity.Client the orchestrator drives.
type Identity interface {
	SignUp(ctx context.Context, cred identity.Credential) (*identity.Handle, error)
	SignIn(ctx context.Context, cred identity.Credential) (*identity.Handle, error)
	SignOut(ctx context.Context) error
	CurrentIdentity(ctx context.Context) (*identity.Handle, error)
	MintAssertion(ctx context.Context, h *identity.Handle) (string, error)
	RefreshVerification(ctx context.Context, h *identity.Handle) (*identity.Handle, error)
	SendVerification(ctx context.Context, h *identity.Handle) error
	Subscribe() *identity.Subscription
}

// Backend is the token exchange contract, served by backend.Client over HTTP
// or by backendfake in process.
type Backend interface {
	Login(ctx context.Context, req backend.LoginRequest) (*backend.AuthResponse, error)
	Register(ctx context.Context, req backend.RegisterRequest) (*backend.AuthResponse, error)
	Refresh(ctx context.Context, current token.Pair) (token.Pair, error)
}

type Option func(*Orchestrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithNowTime sets the clock used for record timestamps.
func WithNowTime(nowFunc func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowTime = nowFunc
	}
}

// WithPreferences overrides the selected tenant preference store. By default
// the token store is used when it implements tokenstore.Preferences.
func WithPreferences(p tokenstore.Preferences) Option {
	return func(o *Orchestrator) {
		o.prefs = p
	}
}

// WithWatcher overrides the cross-process change source. By default the token
// store is used when it implements tokenstore.Watcher.
func WithWatcher(w tokenstore.Watcher) Option {
	return func(o *Orchestrator) {
		o.watcher = w
	}
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	identity Identity
	backend  Backend
	store    tokenstore.Store
	prefs    tokenstore.Preferences
	watcher  tokenstore.Watcher
	logger   zerolog.Logger
	nowTime  func() time.Time

	mu       sync.Mutex
	snap     Snapshot
	seq      uint64
	inFlight bool
	tokens   token.Pair
	// providerBacked is false when AUTHENTICATED was reached through a
	// verification re-check, after the provider session was already closed.
	providerBacked bool
	pending        *identity.Handle
	started        bool
	closed         bool
	sub            *identity.Subscription
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	// outbox holds committed snapshots not yet delivered; notifyMu
	// serialises delivery.
	outbox    []Snapshot
	notifyMu  sync.Mutex
	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

func New(id Identity, be Backend, store tokenstore.Store, opts ...Option) (*Orchestrator, error) {
	if id == nil {
		return nil, errors.New("[session.New] identity client is required")
	}
	if be == nil {
		return nil, errors.New("[session.New] backend is required")
	}
	if store == nil {
		return nil, errors.New("[session.New] token store is required")
	}

	o := &Orchestrator{
		identity:  id,
		backend:   be,
		store:     store,
		logger:    log.Logger,
		nowTime:   time.Now,
		snap:      Snapshot{State: StateAnonymous, Selection: tenants.SelectionNone},
		observers: make(map[int]Observer),
	}
	if p, ok := store.(tokenstore.Preferences); ok {
		o.prefs = p
	}
	if w, ok := store.(tokenstore.Watcher); ok {
		o.watcher = w
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "session").Logger()
	return o, nil
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap.clone()
}

// Start subscribes to provider events and store changes, then attempts
// session resumption from the provider's restored session.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyActive
	}
	o.started = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.sub = o.identity.Subscribe()
	o.wg.Add(1)
	go o.identityLoop(loopCtx, o.sub)

	if o.watcher != nil {
		changes, err := o.watcher.Watch(loopCtx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("token store watch unavailable, cross-process logout disabled")
		} else {
			o.wg.Add(1)
			go o.watchLoop(loopCtx, changes)
		}
	}
	o.mu.Unlock()

	return o.Resume(ctx)
}

// Close stops event processing. It does not sign out or clear the store.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if !o.started || o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	cancel, sub := o.cancel, o.sub
	o.mu.Unlock()

	cancel()
	sub.Close()
	o.wg.Wait()
}

// Resume re-establishes a session from the provider's current identity
// without credentials. With no verified identity any stale record is cleared
// and the state becomes ANONYMOUS.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.snap.State == StateAuthenticated {
		o.mu.Unlock()
		return nil
	}
	seq := o.beginLocked()
	o.mu.Unlock()

	h, err := o.identity.CurrentIdentity(ctx)
	if err != nil {
		return o.failProvider(ctx, seq, err)
	}
	return o.resumeWith(ctx, seq, h)
}

func (o *Orchestrator) resumeWith(ctx context.Context, seq uint64, h *identity.Handle) error {
	sel := o.selectedTenant(ctx)

	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if !h.Verified() {
		o.inFlight = false
		o.clearStoreLocked(ctx)
		if o.snap.State == StateAnonymous {
			o.mu.Unlock()
			return nil
		}
		o.commitLocked(Snapshot{State: StateAnonymous, Selection: sel})
		return nil
	}
	o.logger.Info().Uint64("seq", seq).Msg("resuming provider session")
	o.commitLocked(Snapshot{State: StateAuthenticating, Email: h.Email(), Selection: sel})
	return o.exchange(ctx, seq, h, sel, true)
}

// SignIn authenticates with the provider and, once the email is verified,
// exchanges the assertion for backend tokens scoped to sel.
func (o *Orchestrator) SignIn(ctx context.Context, cred identity.Credential, sel tenants.Selection) error {
	sel = sel.Normalize()
	seq := o.beginUserAction(ctx, sel)

	h, err := o.identity.SignIn(ctx, cred)
	if err != nil {
		return o.failProvider(ctx, seq, err)
	}
	return o.afterProvider(ctx, seq, h, sel)
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	Credential identity.Credential
	Username   string
	FirstName  string
	LastName   string
	Selection  tenants.Selection
}

// SignUp creates the provider account and the backend user. The new account
// is unverified, so the session lands in PENDING_VERIFICATION and the
// registration tokens are discarded.
func (o *Orchestrator) SignUp(ctx context.Context, req SignUpRequest) error {
	sel := req.Selection.Normalize()
	seq := o.beginUserAction(ctx, sel)

	h, err := o.identity.SignUp(ctx, req.Credential)
	if err != nil {
		return o.failProvider(ctx, seq, err)
	}
	assertion, err := o.identity.MintAssertion(ctx, h)
	if err != nil {
		return o.failProvider(ctx, seq, err)
	}
	_, err = o.backend.Register(ctx, backend.RegisterRequest{
		Assertion:   assertion,
		Username:    req.Username,
		Email:       h.Email(),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		FirebaseUID: h.UID(),
		TenantID:    tenantHint(sel),
	})

	o.mu.Lock()
	if o.seq != seq {
		return o.releaseStaleLocked(ctx, seq, h)
	}
	if err != nil {
		o.inFlight = false
		o.signOutLocked(ctx)
		serr := backendError(err)
		o.commitLocked(Snapshot{State: StateError, Reason: serr.Reason, Message: serr.Message, Email: h.Email(), Selection: sel})
		return serr
	}
	o.mu.Unlock()

	o.logger.Info().Uint64("seq", seq).Str("uid", h.UID()).Msg("registered new account")
	return o.afterProvider(ctx, seq, h, sel)
}

// CheckVerification re-reads the verification flag of the pending sign-in and
// continues to the exchange once it is set.
func (o *Orchestrator) CheckVerification(ctx context.Context) error {
	return o.recheck(ctx, false)
}

// ResendVerification re-checks first and sends a new verification email only
// if the address is still unverified.
func (o *Orchestrator) ResendVerification(ctx context.Context) error {
	return o.recheck(ctx, true)
}

func (o *Orchestrator) recheck(ctx context.Context, resend bool) error {
	o.mu.Lock()
	if o.snap.State != StatePendingVerification || o.pending == nil {
		o.mu.Unlock()
		return ErrNotPending
	}
	seq := o.beginLocked()
	h, sel := o.pending, o.snap.Selection
	o.mu.Unlock()

	fresh, err := o.identity.RefreshVerification(ctx, h)
	if err == nil && !fresh.Verified() && resend {
		err = o.identity.SendVerification(ctx, fresh)
	}

	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		o.inFlight = false
		o.mu.Unlock()
		return providerError(err)
	}
	if !fresh.Verified() {
		o.inFlight = false
		o.pending = fresh
		o.mu.Unlock()
		return &Error{Reason: ReasonVerificationRequired, Message: msgVerificationRequired}
	}
	o.pending = nil
	o.commitLocked(Snapshot{State: StateAuthenticating, Email: fresh.Email(), Selection: sel})
	return o.exchange(ctx, seq, fresh, sel, false)
}

// Logout clears the store, signs out of the provider and publishes ANONYMOUS.
// Any in-flight action is superseded.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	o.beginLocked()
	o.inFlight = false
	err := o.teardownLocked(ctx)
	o.commitLocked(Snapshot{State: StateAnonymous, Selection: o.snap.Selection})
	if err != nil {
		return &Error{Reason: ReasonStoreFailure, Message: msgStoreFailure, Err: err}
	}
	return nil
}

// Revalidate checks the authenticated profile against a new selection. A
// failing selection tears the session down.
func (o *Orchestrator) Revalidate(ctx context.Context, sel tenants.Selection) error {
	sel = sel.Normalize()
	o.mu.Lock()
	if o.snap.State != StateAuthenticated {
		o.mu.Unlock()
		return ErrNotSignedIn
	}
	outcome := tenants.Validate(o.snap.Profile, sel)
	if outcome == tenants.OK {
		next := o.snap
		next.Selection = sel
		o.commitLocked(next)
		o.rememberTenant(ctx, sel)
		return nil
	}

	o.beginLocked()
	o.inFlight = false
	serr := tenantError(outcome)
	if err := o.teardownLocked(ctx); err != nil {
		o.logger.Error().Err(err).Msg("failed to clear token store on tenant mismatch")
	}
	o.commitLocked(Snapshot{State: StateTenantMismatch, Reason: serr.Reason, Message: serr.Message, Selection: sel})
	return serr
}

// Refresh rotates the access token. A transport failure leaves the session
// untouched; a rejection by the backend ends it.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.snap.State != StateAuthenticated {
		o.mu.Unlock()
		return ErrNotSignedIn
	}
	seq, current := o.seq, o.tokens
	o.mu.Unlock()

	next, err := o.backend.Refresh(ctx, current)

	o.mu.Lock()
	if o.seq != seq || o.snap.State != StateAuthenticated {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil && !backend.IsRejected(err) {
		o.mu.Unlock()
		return &Error{Reason: ReasonBackendRejected, Message: msgBackendUnavailable, Err: err}
	}
	if err != nil {
		o.beginLocked()
		o.inFlight = false
		if cerr := o.teardownLocked(ctx); cerr != nil {
			o.logger.Error().Err(cerr).Msg("failed to clear token store after refresh rejection")
		}
		serr := backendError(err)
		o.commitLocked(Snapshot{State: StateError, Reason: serr.Reason, Message: serr.Message, Selection: o.snap.Selection})
		return serr
	}

	rec := tokenstore.Record{Tokens: next, User: *o.snap.Profile.Clone(), SavedAt: o.nowTime().UTC()}
	if err := o.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		return o.storeFailureLocked(ctx, err, o.snap.Selection)
	}
	o.tokens = next
	o.mu.Unlock()
	o.logger.Debug().Uint64("seq", seq).Msg("access token refreshed")
	return nil
}

// beginUserAction starts a sign-in or sign-up. Starting one while
// authenticated ends the current session first.
func (o *Orchestrator) beginUserAction(ctx context.Context, sel tenants.Selection) uint64 {
	o.rememberTenant(ctx, sel)

	o.mu.Lock()
	seq := o.beginLocked()
	o.pending = nil
	if o.snap.State != StateAuthenticated {
		o.mu.Unlock()
		return seq
	}
	if err := o.teardownLocked(ctx); err != nil {
		o.logger.Error().Err(err).Msg("failed to clear previous session record")
	}
	o.providerBacked = false
	o.commitLocked(Snapshot{State: StateAnonymous, Selection: sel})
	return seq
}

// afterProvider routes a fresh provider handle: unverified handles park in
// PENDING_VERIFICATION with the provider signed out, verified handles go to
// the exchange.
func (o *Orchestrator) afterProvider(ctx context.Context, seq uint64, h *identity.Handle, sel tenants.Selection) error {
	o.mu.Lock()
	if o.seq != seq {
		return o.releaseStaleLocked(ctx, seq, h)
	}
	if !h.Verified() {
		o.inFlight = false
		o.pending = h
		o.signOutLocked(ctx)
		o.commitLocked(Snapshot{
			State:     StatePendingVerification,
			Reason:    ReasonVerificationRequired,
			Message:   msgVerificationRequired,
			Email:     h.Email(),
			Selection: sel,
		})
		return &Error{Reason: ReasonVerificationRequired, Message: msgVerificationRequired}
	}
	o.commitLocked(Snapshot{State: StateAuthenticating, Email: h.Email(), Selection: sel})
	return o.exchange(ctx, seq, h, sel, true)
}

// exchange mints an assertion and trades it for backend tokens, then applies
// the tenant check before anything is stored. Called without the lock.
// providerBacked records whether the provider still holds a session for h.
func (o *Orchestrator) exchange(ctx context.Context, seq uint64, h *identity.Handle, sel tenants.Selection, providerBacked bool) error {
	assertion, err := o.identity.MintAssertion(ctx, h)
	if err != nil {
		return o.failProvider(ctx, seq, err)
	}
	resp, err := o.backend.Login(ctx, backend.LoginRequest{Assertion: assertion, TenantID: tenantHint(sel)})

	o.mu.Lock()
	if o.seq != seq {
		o.logger.Debug().Uint64("seq", seq).Msg("dropping stale exchange result")
		return o.releaseStaleLocked(ctx, seq, h)
	}
	o.inFlight = false

	if err != nil {
		// A rejection ends the provider session too; a transport failure
		// keeps it so Resume can retry without credentials.
		if backend.IsRejected(err) {
			o.signOutLocked(ctx)
		}
		o.clearStoreLocked(ctx)
		serr := backendError(err)
		o.logger.Warn().Err(err).Uint64("seq", seq).Msg("token exchange failed")
		o.commitLocked(Snapshot{State: StateError, Reason: serr.Reason, Message: serr.Message, Email: h.Email(), Selection: sel})
		return serr
	}

	if outcome := tenants.Validate(&resp.User, sel); outcome != tenants.OK {
		serr := tenantError(outcome)
		o.logger.Warn().Uint64("seq", seq).Str("selection", sel.String()).Str("outcome", string(outcome)).Msg("tenant check failed, discarding tokens")
		if err := o.teardownLocked(ctx); err != nil {
			o.logger.Error().Err(err).Msg("failed to clear token store on tenant mismatch")
		}
		o.commitLocked(Snapshot{State: StateTenantMismatch, Reason: serr.Reason, Message: serr.Message, Email: h.Email(), Selection: sel})
		return serr
	}

	rec := tokenstore.Record{Tokens: resp.Tokens, User: *resp.User.Clone(), SavedAt: o.nowTime().UTC()}
	if err := o.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		return o.storeFailureLocked(ctx, err, sel)
	}
	o.tokens = resp.Tokens
	o.providerBacked = providerBacked
	o.logger.Info().Uint64("seq", seq).Int64("user_id", resp.User.ID).Str("role", string(resp.User.PrimaryRole())).Msg("session established")
	o.commitLocked(Snapshot{State: StateAuthenticated, Profile: resp.User.Clone(), Email: resp.User.Email, Selection: sel})
	return nil
}

// failProvider publishes ERROR(PROVIDER_ERROR) unless seq was superseded.
func (o *Orchestrator) failProvider(ctx context.Context, seq uint64, err error) error {
	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return ErrSuperseded
	}
	o.inFlight = false
	o.clearStoreLocked(ctx)
	serr := providerError(err)
	o.logger.Warn().Err(err).Uint64("seq", seq).Str("kind", string(serr.Kind)).Msg("identity provider call failed")
	o.commitLocked(Snapshot{State: StateError, Reason: serr.Reason, Kind: serr.Kind, Message: serr.Message, Selection: o.snap.Selection})
	return serr
}

// releaseStaleLocked handles a provider sign-in whose action was superseded.
// If the provider still holds h and the current session belongs to another
// account, the provider is signed out so a restart cannot resume h. Releases
// the lock.
func (o *Orchestrator) releaseStaleLocked(ctx context.Context, seq uint64, h *identity.Handle) error {
	defer o.mu.Unlock()
	if o.snap.Email == h.Email() && (o.snap.State == StateAuthenticated || o.snap.State == StateAuthenticating) {
		return ErrSuperseded
	}
	current, err := o.identity.CurrentIdentity(context.WithoutCancel(ctx))
	if err != nil || current == nil || current.UID() != h.UID() {
		return ErrSuperseded
	}
	o.logger.Info().Uint64("seq", seq).Str("uid", h.UID()).Msg("signing out of superseded provider session")
	o.providerBacked = false
	o.signOutLocked(ctx)
	return ErrSuperseded
}

// storeFailureLocked ends the session when the record could not be written.
// Releases the lock.
func (o *Orchestrator) storeFailureLocked(ctx context.Context, err error, sel tenants.Selection) error {
	o.logger.Error().Err(err).Msg("failed to persist session record")
	o.beginLocked()
	o.inFlight = false
	if cerr := o.teardownLocked(ctx); cerr != nil {
		o.logger.Error().Err(cerr).Msg("failed to clear token store after write failure")
	}
	o.commitLocked(Snapshot{State: StateError, Reason: ReasonStoreFailure, Message: msgStoreFailure, Selection: sel})
	return &Error{Reason: ReasonStoreFailure, Message: msgStoreFailure, Err: err}
}

// beginLocked supersedes every in-flight action.
func (o *Orchestrator) beginLocked() uint64 {
	o.seq++
	o.inFlight = true
	return o.seq
}

// teardownLocked removes all credential material: the stored record, the
// in-memory pair, the pending handle and the provider session.
func (o *Orchestrator) teardownLocked(ctx context.Context) error {
	err := o.store.Clear(context.WithoutCancel(ctx))
	o.tokens = token.Pair{}
	o.pending = nil
	o.signOutLocked(ctx)
	return err
}

// clearStoreLocked removes a record left behind by an earlier session so a
// non-authenticated state never coexists with stored tokens.
func (o *Orchestrator) clearStoreLocked(ctx context.Context) {
	o.tokens = token.Pair{}
	if err := o.store.Clear(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error().Err(err).Msg("failed to clear stale session record")
	}
}

func (o *Orchestrator) signOutLocked(ctx context.Context) {
	if err := o.identity.SignOut(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn().Err(err).Msg("provider sign-out failed")
	}
}

// commitLocked installs next, queues it for observers and releases the lock.
// It returns once the queue, including next, has been delivered.
func (o *Orchestrator) commitLocked(next Snapshot) {
	if next.Selection == "" {
		next.Selection = tenants.SelectionNone
	}
	next.Seq = o.seq
	o.snap = next
	o.outbox = append(o.outbox, next.clone())
	o.mu.Unlock()
	o.drain()
}

// drain delivers queued snapshots in commit order. Observers run without the
// state lock held, so they may read Snapshot.
func (o *Orchestrator) drain() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	for {
		o.mu.Lock()
		if len(o.outbox) == 0 {
			o.mu.Unlock()
			return
		}
		s := o.outbox[0]
		o.outbox = o.outbox[1:]
		o.mu.Unlock()
		o.notify(s)
	}
}

func (o *Orchestrator) selectedTenant(ctx context.Context) tenants.Selection {
	if o.prefs == nil {
		return tenants.SelectionNone
	}
	sel, err := o.prefs.SelectedTenant(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to read selected tenant preference")
		return tenants.SelectionNone
	}
	return sel.Normalize()
}

func (o *Orchestrator) rememberTenant(ctx context.Context, sel tenants.Selection) {
	if o.prefs == nil {
		return
	}
	if err := o.prefs.SetSelectedTenant(ctx, sel); err != nil {
		o.logger.Warn().Err(err).Msg("failed to save selected tenant preference")
	}
}
