package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prn-tf/artshare/internal/domain"
	"github.com/prn-tf/artshare/internal/lock"
)

// MaintenanceService runs the periodic integrity sweep and the
// administrative repairs of the store.
type MaintenanceService struct {
	base
	config MaintenanceConfig

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// MaintenanceConfig contains integrity sweep configuration.
type MaintenanceConfig struct {
	// Enabled determines if the sweep runs automatically.
	Enabled bool

	// Interval is how often to run the sweep.
	Interval time.Duration

	// DryRun logs what would be repaired without writing.
	DryRun bool
}

// DefaultMaintenanceConfig returns sensible defaults.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:  true,
		Interval: 1 * time.Hour,
		DryRun:   false,
	}
}

// NewMaintenanceService creates a new maintenance service.
func NewMaintenanceService(d Deps, config MaintenanceConfig) *MaintenanceService {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceConfig().Interval
	}
	return &MaintenanceService{
		base:     newBase(d, "maintenance"),
		config:   config,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep scheduler. It does nothing if the sweep is disabled.
func (m *MaintenanceService) Start() {
	if !m.config.Enabled {
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Bool("dry_run", m.config.DryRun).
		Msg("Starting maintenance sweep")

	go m.runLoop()
}

// Stop stops the sweep scheduler and waits for a running sweep to finish.
func (m *MaintenanceService) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	<-m.doneChan

	m.logger.Info().Msg("Maintenance sweep stopped")
}

func (m *MaintenanceService) runLoop() {
	defer close(m.doneChan)

	m.RunOnce(context.Background())

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunOnce(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

// SweepResult contains the result of one integrity sweep.
type SweepResult struct {
	// Skipped is set when another instance held the sweep lock.
	Skipped bool

	// UsersRepaired is the number of users whose artwork list was pruned.
	UsersRepaired int

	// ArtworksRepaired is the number of artworks whose comment list was pruned.
	ArtworksRepaired int

	// RefsDropped is the total number of dangling references removed.
	RefsDropped int

	// CountersRaised lists the id counters moved by reconciliation.
	CountersRaised map[string]int64

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the sweep took.
	Duration time.Duration
}

// RunOnce executes a single sweep. It can be called manually or by the scheduler.
func (m *MaintenanceService) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	result := SweepResult{CountersRaised: map[string]int64{}}

	lockKey := lock.Keys.MaintenanceSweep()
	lockTTL := m.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := m.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to acquire maintenance lock")
		result.Errors++
		return m.finish(start, result)
	}
	if !acquired {
		m.logger.Debug().Msg("Maintenance lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := m.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			m.logger.Error().Err(err).Msg("Failed to release maintenance lock")
		}
	}()

	m.pruneUsers(ctx, &result)
	m.pruneArtworks(ctx, &result)

	if !m.config.DryRun {
		raised, err := m.gw.Reconcile(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to reconcile id counters")
			result.Errors++
		}
		for typeName, n := range raised {
			result.CountersRaised[typeName] = n
		}
	}

	return m.finish(start, result)
}

func (m *MaintenanceService) finish(start time.Time, result SweepResult) SweepResult {
	result.Duration = time.Since(start)
	m.metrics.RecordMaintenanceRun(result.Duration.Seconds(), result.RefsDropped, result.Errors > 0)

	m.logger.Info().
		Int("users_repaired", result.UsersRepaired).
		Int("artworks_repaired", result.ArtworksRepaired).
		Int("refs_dropped", result.RefsDropped).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Maintenance sweep completed")

	return result
}

// pruneUsers drops artwork ids that no longer resolve from every user.
func (m *MaintenanceService) pruneUsers(ctx context.Context, result *SweepResult) {
	users, err := m.users.FindAll(ctx, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list users")
		result.Errors++
		return
	}

	for _, u := range users {
		dangling, err := m.danglingArtworks(ctx, u)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", u.ID).Msg("Failed to check artwork references")
			result.Errors++
			continue
		}
		if len(dangling) == 0 {
			continue
		}
		if m.config.DryRun {
			m.logger.Info().Str("user_id", u.ID).Strs("artworks", dangling).Msg("[DRY RUN] Would drop dangling artwork references")
			result.UsersRepaired++
			result.RefsDropped += len(dangling)
			continue
		}

		n, err := m.repairUser(ctx, u.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("user_id", u.ID).Msg("Failed to repair user")
			result.Errors++
			continue
		}
		if n > 0 {
			result.UsersRepaired++
			result.RefsDropped += n
		}
	}
}

func (m *MaintenanceService) repairUser(ctx context.Context, userID string) (int, error) {
	release, err := m.lock(ctx, lock.Keys.User(userID))
	if err != nil {
		return 0, err
	}
	defer release()

	user, err := m.lockedUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	dangling, err := m.danglingArtworks(ctx, user)
	if err != nil || len(dangling) == 0 {
		return 0, err
	}
	for _, id := range dangling {
		user.RemoveArtwork(id)
	}
	if _, err := m.gw.Save(ctx, user); err != nil {
		return 0, err
	}

	m.logger.Info().Str("user_id", user.ID).Strs("artworks", dangling).Msg("Dropped dangling artwork references")
	return len(dangling), nil
}

// pruneArtworks drops comment ids that no longer resolve from every artwork.
func (m *MaintenanceService) pruneArtworks(ctx context.Context, result *SweepResult) {
	artworks, err := m.artworks.FindAll(ctx, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list artworks")
		result.Errors++
		return
	}

	for _, a := range artworks {
		dangling, err := m.danglingComments(ctx, a)
		if err != nil {
			m.logger.Error().Err(err).Str("artwork_id", a.ID).Msg("Failed to check comment references")
			result.Errors++
			continue
		}
		if len(dangling) == 0 {
			continue
		}
		if m.config.DryRun {
			m.logger.Info().Str("artwork_id", a.ID).Strs("comments", dangling).Msg("[DRY RUN] Would drop dangling comment references")
			result.ArtworksRepaired++
			result.RefsDropped += len(dangling)
			continue
		}

		n, err := m.repairArtwork(ctx, a.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("artwork_id", a.ID).Msg("Failed to repair artwork")
			result.Errors++
			continue
		}
		if n > 0 {
			result.ArtworksRepaired++
			result.RefsDropped += n
		}
	}
}

func (m *MaintenanceService) repairArtwork(ctx context.Context, artworkID string) (int, error) {
	release, err := m.lock(ctx, lock.Keys.Artwork(artworkID))
	if err != nil {
		return 0, err
	}
	defer release()

	artwork, err := m.lockedArtwork(ctx, artworkID)
	if err != nil {
		return 0, err
	}
	dangling, err := m.danglingComments(ctx, artwork)
	if err != nil || len(dangling) == 0 {
		return 0, err
	}
	for _, id := range dangling {
		artwork.RemoveComment(id)
	}
	if _, err := m.gw.Save(ctx, artwork); err != nil {
		return 0, err
	}

	m.logger.Info().Str("artwork_id", artwork.ID).Strs("comments", dangling).Msg("Dropped dangling comment references")
	return len(dangling), nil
}

// =============================================================================
// Administrative operations
// =============================================================================

// ListUsers returns every user ordered by id.
func (m *MaintenanceService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := m.users.FindAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return domain.CompareIDs(users[i].ID, users[j].ID) < 0
	})
	return users, nil
}

// DedupeUsers removes user records stored under more than one key, keeping
// the qualified key when present and the first key otherwise. It returns the
// removed keys.
func (m *MaintenanceService) DedupeUsers(ctx context.Context) ([]string, error) {
	groups, err := m.gw.Duplicates(ctx, domain.TypeUser)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return domain.CompareIDs(ids[i], ids[j]) < 0 })

	var removed []string
	for _, id := range ids {
		keys := groups[id]
		keep := keys[0]
		qualified := domain.Qualified(domain.TypeUser, id).String()
		for _, k := range keys {
			if k == qualified {
				keep = k
				break
			}
		}

		for _, k := range keys {
			if k == keep {
				continue
			}
			if m.config.DryRun {
				m.logger.Info().Str("key", k).Str("kept", keep).Msg("[DRY RUN] Would remove duplicate user record")
				removed = append(removed, k)
				continue
			}
			if err := m.gw.PurgeKey(ctx, domain.TypeUser, k); err != nil {
				return removed, err
			}
			m.logger.Info().Str("key", k).Str("kept", keep).Msg("Removed duplicate user record")
			removed = append(removed, k)
		}
	}
	return removed, nil
}

// Purge deletes every entity and resets the id counters.
func (m *MaintenanceService) Purge(ctx context.Context) (int, error) {
	return m.gw.Purge(ctx)
}
