package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xroachx-ghost/void-sub000/internal/config"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// Manager validates and activates licenses on this machine. It is the sole
// writer of the license store and the trial marker.
type Manager struct {
	store          Store
	trialStore     TrialStore
	fingerprinter  security.Fingerprinter
	verifier       *Verifier
	now            func() time.Time
	trialEmail     string
	logger         *slog.Logger
	metrics        *LicenseMetrics
	tracer         trace.Tracer
	fingerprintTTL time.Duration

	// mu serialises mutating operations; Validate takes the read side
	mu sync.RWMutex
}

// Option configures a Manager
type Option func(*Manager)

// WithStore sets the license store
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithTrialStore sets the trial marker store
func WithTrialStore(s TrialStore) Option {
	return func(m *Manager) { m.trialStore = s }
}

// WithFingerprinter sets the machine fingerprint source
func WithFingerprinter(f security.Fingerprinter) Option {
	return func(m *Manager) { m.fingerprinter = f }
}

// WithVerifier sets the signature verifier
func WithVerifier(v *Verifier) Option {
	return func(m *Manager) { m.verifier = v }
}

// WithClock sets the clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTrialEmail sets the contact written into local trial licenses
func WithTrialEmail(email string) Option {
	return func(m *Manager) { m.trialEmail = email }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics enables OpenTelemetry metrics
func WithMetrics(metrics *LicenseMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a manager. A store and trial store are required; the
// fingerprinter and verifier default to the host and the embedded key.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		now:        time.Now,
		trialEmail: config.DefaultTrialEmail,
		logger:     slog.Default(),
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		return nil, fmt.Errorf("license store is required")
	}
	if m.trialStore == nil {
		return nil, fmt.Errorf("trial store is required")
	}
	if m.fingerprinter == nil {
		fpOpts := []security.FingerprintOption{security.WithFingerprintLogger(m.logger)}
		if m.fingerprintTTL > 0 {
			fpOpts = append(fpOpts, security.WithCacheDuration(m.fingerprintTTL))
		}
		m.fingerprinter = security.NewHardwareFingerprinter(fpOpts...)
	}
	if m.verifier == nil {
		v, err := DefaultVerifier()
		if err != nil {
			return nil, err
		}
		m.verifier = v
	}

	return m, nil
}

// NewManagerFromConfig wires file-backed stores, the configured public key
// and the host fingerprinter
func NewManagerFromConfig(cfg config.LicenseConfig, opts ...Option) (*Manager, error) {
	verifier, err := LoadVerifier(cfg.PublicKeyFile)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithStore(NewFileStore(cfg.LicenseFile, WithSystemPath(cfg.SystemLicenseFile))),
		WithTrialStore(NewFileTrialStore(cfg.TrialMarkerFile)),
		WithVerifier(verifier),
		WithTrialEmail(cfg.TrialEmail),
		func(m *Manager) { m.fingerprintTTL = cfg.FingerprintCacheTTL },
	}

	return NewManager(append(base, opts...)...)
}

// Fingerprint returns this machine's fingerprint
func (m *Manager) Fingerprint(ctx context.Context) (*security.DeviceFingerprint, error) {
	fp, err := m.fingerprinter.Generate()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	if fp.Degraded {
		m.recordFingerprintFallback(ctx)
	}
	return fp, nil
}

// Activate binds the license in data to this machine
func (m *Manager) Activate(ctx context.Context, data []byte) (rec *Record, err error) {
	const op = "activate"

	ctx, span := m.startSpan(ctx, op)
	start := time.Now()
	defer func() {
		endSpan(span, start, err)
		m.recordActivationMetrics(ctx, time.Since(start), err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err = ParseRecord(data)
	if err != nil {
		m.logWarn(ctx, "license_activation", "License file rejected as malformed", errAttr(err))
		return nil, withOp(op, err)
	}

	var fingerprint string
	if rec.IsLocal() {
		// Local signatures are keyed by the fingerprint
		if fingerprint, err = m.currentFingerprint(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = m.verifier.Verify(rec, fingerprint); err != nil {
		if rec.IsLocal() && rec.Tier == TierTrial {
			// A local trial only verifies on the machine that started it
			err = newError(op, KindDeviceMismatch, fmt.Errorf("local trial was not started on this machine"))
			m.logLicenseAction(ctx, slog.LevelWarn, "license_activation", "Local trial belongs to another machine", rec, fingerprint)
			return nil, err
		}
		m.logLicenseAction(ctx, slog.LevelWarn, "license_activation", "License signature verification failed", rec, "", errAttr(err))
		return nil, withOp(op, err)
	}

	now := m.now()
	if rec.IsExpired(now) {
		err = newError(op, KindExpired, fmt.Errorf("license expired at %s", rec.ExpiresAt.Format(time.RFC3339)))
		m.logLicenseAction(ctx, slog.LevelWarn, "license_activation", "License is expired", rec, "")
		return nil, err
	}

	if fingerprint == "" {
		if fingerprint, err = m.currentFingerprint(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	state, err := m.loadState(ctx, op)
	if err != nil {
		return nil, err
	}

	if existing := state.FindActive(rec.LicenseID, fingerprint); existing != nil {
		// Re-activation on the same machine consumes no extra slot
		if state.License == nil || state.License.LicenseID != rec.LicenseID {
			state.License = rec
			if err = m.store.Save(ctx, state); err != nil {
				return nil, withOp(op, err)
			}
		}
		m.logLicenseAction(ctx, slog.LevelInfo, "license_activation", "License already active on this machine", rec, fingerprint)
		return rec, nil
	}

	active := len(state.ActiveFor(rec.LicenseID))
	if limit := rec.Tier.DeviceLimit(); limit > 0 && active >= limit {
		err = newError(op, KindDeviceLimitExceeded,
			fmt.Errorf("%d of %d devices already active", active, limit))
		m.logLicenseAction(ctx, slog.LevelWarn, "license_activation", "Device limit reached", rec, fingerprint,
			slog.Int("active_devices", active),
			slog.Int("device_limit", limit))
		return nil, err
	}

	m.supersede(state, rec.LicenseID, fingerprint, now)
	state.License = rec
	state.Activations = append(state.Activations, ActivationRecord{
		LicenseID:         rec.LicenseID,
		DeviceFingerprint: fingerprint,
		ActivatedAt:       now,
		Active:            true,
	})

	if err = m.store.Save(ctx, state); err != nil {
		m.logError(ctx, "license_activation", "Failed to persist activation", errAttr(err))
		return nil, withOp(op, err)
	}

	if rec.Tier == TierTrial {
		m.ensureTrialMarker(ctx, rec, fingerprint)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "license_activation", "License activated", rec, fingerprint,
		slog.Int("active_devices", active+1),
		slog.Int("device_limit", rec.Tier.DeviceLimit()))

	return rec, nil
}

// Deactivate releases this machine's device slot. The license record is
// kept so the same file can be activated again later.
func (m *Manager) Deactivate(ctx context.Context) (err error) {
	const op = "deactivate"

	ctx, span := m.startSpan(ctx, op)
	start := time.Now()
	defer func() {
		endSpan(span, start, err)
		m.recordDeactivationMetrics(ctx, err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoState) {
		return newError(op, KindNotActivated, fmt.Errorf("no license stored"))
	}
	if err != nil {
		return withOp(op, err)
	}
	if state.License == nil {
		return newError(op, KindNotActivated, fmt.Errorf("no license stored"))
	}

	fingerprint, err := m.currentFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	activation := state.FindActive(state.License.LicenseID, fingerprint)
	if activation == nil {
		return newError(op, KindNotActivated, fmt.Errorf("license is not active on this machine"))
	}
	activation.deactivate(m.now())

	if err = m.store.Save(ctx, state); err != nil {
		m.logError(ctx, "license_deactivation", "Failed to persist deactivation", errAttr(err))
		return withOp(op, err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "license_deactivation", "License deactivated on this machine", state.License, fingerprint,
		slog.Int("active_devices", len(state.ActiveFor(state.License.LicenseID))))
	return nil
}

// Validate checks the stored license against this machine. It never writes
// to the store and never fails; problems are reported in the Status.
func (m *Manager) Validate(ctx context.Context) (status Status) {
	const op = "validate"

	ctx, span := m.startSpan(ctx, op)
	start := time.Now()
	defer func() {
		endSpan(span, start, nil)
		m.recordValidationMetrics(ctx, time.Since(start), status)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState):
		return m.trialStatus(ctx)
	case err != nil:
		m.logWarn(ctx, "license_validation", "License store unreadable, treating as unlicensed", errAttr(err))
		return Status{State: StateNoLicense, Degraded: true, Message: err.Error()}
	case state.License == nil:
		return m.trialStatus(ctx)
	}

	return m.evaluate(ctx, state)
}

// evaluate runs signature, expiry and device checks on a loaded state
func (m *Manager) evaluate(ctx context.Context, state *StoredState) Status {
	rec := state.License
	status := Status{Tier: rec.Tier, LicenseID: rec.LicenseID, ExpiresAt: rec.ExpiresAt}

	fp, err := m.Fingerprint(ctx)
	if err != nil {
		m.logError(ctx, "license_validation", "Unable to fingerprint this machine", errAttr(err))
		status.State = StateDeviceMismatch
		status.Degraded = true
		status.Message = err.Error()
		return status
	}

	signer := fp.Fingerprint
	if rec.IsLocal() {
		signer = m.localSigner(state, rec, fp.Fingerprint)
	}
	if err := m.verifier.Verify(rec, signer); err != nil {
		m.logLicenseAction(ctx, slog.LevelWarn, "license_validation", "Stored license failed signature verification", rec, fp.Fingerprint, errAttr(err))
		status.State = StateInvalidSignature
		status.Message = err.Error()
		return status
	}

	now := m.now()
	status.DaysRemaining = rec.DaysRemaining(now)
	if rec.IsExpired(now) {
		status.State = StateExpired
		return status
	}

	switch {
	case state.FindActive(rec.LicenseID, fp.Fingerprint) != nil:
		status.State = StateValid
	case state.HasHistory(rec.LicenseID, fp.Fingerprint):
		status.State = StateDeactivated
	default:
		status.State = StateDeviceMismatch
		m.logLicenseAction(ctx, slog.LevelWarn, "license_validation", "License is not bound to this machine", rec, fp.Fingerprint)
	}
	status.Degraded = fp.Degraded

	m.logLicenseAction(ctx, slog.LevelDebug, "license_validation", "License validated", rec, fp.Fingerprint,
		slog.String("state", string(status.State)))
	return status
}

// localSigner returns the device a local trial record was signed on. The
// current machine is tried first, then every device the record was
// activated on, so moved hardware surfaces as a device mismatch.
func (m *Manager) localSigner(state *StoredState, rec *Record, current string) string {
	if m.verifier.Verify(rec, current) == nil {
		return current
	}
	for _, a := range state.Activations {
		if a.LicenseID != rec.LicenseID || a.DeviceFingerprint == current {
			continue
		}
		if m.verifier.Verify(rec, a.DeviceFingerprint) == nil {
			return a.DeviceFingerprint
		}
	}
	return current
}

// trialStatus reports the state when no license is stored. A verified
// marker still carries the trial window after the license file is lost.
func (m *Manager) trialStatus(ctx context.Context) Status {
	marker, err := m.trialStore.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoState) {
			m.logWarn(ctx, "license_validation", "Trial marker unreadable", errAttr(err))
		}
		return Status{State: StateNoLicense}
	}

	fp, err := m.Fingerprint(ctx)
	if err != nil {
		m.logError(ctx, "license_validation", "Unable to fingerprint this machine", errAttr(err))
		return Status{State: StateNoLicense, Degraded: true, Message: err.Error()}
	}
	if !marker.verify(fp.Fingerprint) {
		// Still counts as a used trial
		m.logWarn(ctx, "license_validation", "Trial marker failed verification",
			slog.String("fingerprint", security.ShortFingerprint(fp.Fingerprint)))
		return Status{State: StateNoLicense, Degraded: true, Message: "trial marker modified or written on another machine"}
	}

	now := m.now()
	exp := marker.ExpiresAt
	status := Status{
		Tier:          TierTrial,
		ExpiresAt:     &exp,
		DaysRemaining: marker.DaysRemaining(now),
		Degraded:      fp.Degraded,
	}
	if marker.IsExpired(now) {
		status.State = StateExpired
		return status
	}
	status.State = StateValid
	status.Message = "trial license file missing"
	return status
}

// Info summarises the license for display
func (m *Manager) Info(ctx context.Context) (*Info, error) {
	status := m.Validate(ctx)
	info := &Info{
		Status:        status,
		Tier:          status.Tier,
		DaysRemaining: status.DaysRemaining,
	}

	if fp, err := m.Fingerprint(ctx); err == nil {
		info.FingerprintMethod = fp.Method
		info.FingerprintDegraded = fp.Degraded
	}

	if used, err := m.trialStore.Exists(ctx); err == nil {
		info.TrialUsed = used
	}

	m.mu.RLock()
	state, err := m.store.Load(ctx)
	m.mu.RUnlock()
	if errors.Is(err, ErrNoState) {
		return info, nil
	}
	if err != nil {
		return info, withOp("info", err)
	}
	if state.License == nil {
		return info, nil
	}

	rec := state.License
	issued := rec.IssuedAt
	info.LicenseID = rec.LicenseID
	info.CustomerEmail = MaskEmail(rec.CustomerEmail)
	info.Tier = rec.Tier
	info.IssuedAt = &issued
	info.ExpiresAt = rec.ExpiresAt
	info.DaysRemaining = rec.DaysRemaining(m.now())
	info.DevicesUsed = len(state.ActiveFor(rec.LicenseID))
	info.DeviceLimit = rec.Tier.DeviceLimit()
	info.UnlimitedDevices = rec.Tier.Unlimited()
	info.CommercialUse = rec.Tier.CommercialUse()

	return info, nil
}

// StartTrial issues a locally signed 14 day trial bound to this machine
func (m *Manager) StartTrial(ctx context.Context) (rec *Record, err error) {
	const op = "start_trial"

	ctx, span := m.startSpan(ctx, op)
	start := time.Now()
	defer func() {
		endSpan(span, start, err)
		m.recordTrialMetrics(ctx, err)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	used, err := m.trialStore.Exists(ctx)
	if err != nil {
		return nil, withOp(op, err)
	}
	if used {
		m.logWarn(ctx, "trial_start", "Trial already used on this machine")
		return nil, newError(op, KindTrialAlreadyUsed, fmt.Errorf("trial marker present"))
	}

	fingerprint, err := m.currentFingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	state, err := m.loadState(ctx, op)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC().Truncate(time.Second)
	if m.hasPaidLicense(state, fingerprint, now) {
		return nil, newError(op, KindAlreadyLicensed,
			fmt.Errorf("%s license is active on this machine", state.License.Tier))
	}

	expires := now.Add(TrialDuration)
	marker := &TrialMarker{StartedAt: now, ExpiresAt: expires}
	if err = marker.sign(fingerprint); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// The marker goes first so a crash cannot leave a reusable trial
	if err = m.trialStore.Save(ctx, marker); err != nil {
		return nil, withOp(op, err)
	}

	rec = &Record{
		LicenseID:     uuid.New().String(),
		CustomerEmail: m.trialEmail,
		Tier:          TierTrial,
		IssuedAt:      now,
		ExpiresAt:     &expires,
	}
	if err = signLocal(rec, fingerprint); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.supersede(state, rec.LicenseID, fingerprint, now)
	state.License = rec
	state.Activations = append(state.Activations, ActivationRecord{
		LicenseID:         rec.LicenseID,
		DeviceFingerprint: fingerprint,
		ActivatedAt:       now,
		Active:            true,
	})
	if err = m.store.Save(ctx, state); err != nil {
		return nil, withOp(op, err)
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "trial_start", "Trial started", rec, fingerprint,
		slog.Time("expires_at", expires))
	return rec, nil
}

// hasPaidLicense reports whether a verified, unexpired paid license is active here
func (m *Manager) hasPaidLicense(state *StoredState, fingerprint string, now time.Time) bool {
	rec := state.License
	if rec == nil || rec.Tier == TierTrial || rec.IsExpired(now) {
		return false
	}
	if state.FindActive(rec.LicenseID, fingerprint) == nil {
		return false
	}
	return m.verifier.Verify(rec, fingerprint) == nil
}

// supersede deactivates other licenses active on fingerprint. A machine
// holds one license at a time.
func (m *Manager) supersede(state *StoredState, licenseID, fingerprint string, now time.Time) {
	for i := range state.Activations {
		a := &state.Activations[i]
		if a.Active && a.DeviceFingerprint == fingerprint && a.LicenseID != licenseID {
			a.deactivate(now)
		}
	}
}

// ensureTrialMarker records trial use when a trial license is activated from a file
func (m *Manager) ensureTrialMarker(ctx context.Context, rec *Record, fingerprint string) {
	if used, err := m.trialStore.Exists(ctx); err != nil || used {
		return
	}
	marker := &TrialMarker{StartedAt: rec.IssuedAt, ExpiresAt: *rec.ExpiresAt}
	if err := marker.sign(fingerprint); err != nil {
		return
	}
	if err := m.trialStore.Save(ctx, marker); err != nil {
		m.logWarn(ctx, "license_activation", "Failed to record trial marker", errAttr(err))
	}
}

// loadState loads the store, treating an empty store as a fresh state
func (m *Manager) loadState(ctx context.Context, op string) (*StoredState, error) {
	state, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoState) {
		return &StoredState{Version: StateVersion}, nil
	}
	if err != nil {
		m.logError(ctx, op, "Failed to load license store", errAttr(err))
		return nil, withOp(op, err)
	}
	return state, nil
}

func (m *Manager) currentFingerprint(ctx context.Context) (string, error) {
	fp, err := m.Fingerprint(ctx)
	if err != nil {
		return "", err
	}
	return fp.Fingerprint, nil
}

// withOp re-labels a license error with the public operation name
func withOp(op string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return &Error{Kind: le.Kind, Op: op, Err: le.Err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
