package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/identity"
	"github.com/desertthunder/mixtape/internal/locks"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/reasoning"
	"github.com/desertthunder/mixtape/internal/services"
	"github.com/desertthunder/mixtape/internal/shared"
)

const (
	defaultRefreshTimeout = 5 * time.Minute
	maxSongCount          = 100
)

// EngineOpts wires a [PlaylistEngine]. Platforms, Reasoning and the three stores are required.
type EngineOpts struct {
	Platforms services.Connector
	Reasoning reasoning.Gateway
	Playlists models.PlaylistStore
	History   models.HistoryStore
	Drafts    models.DraftStore
	Locker    locks.Locker       // defaults to an in-process locker
	Resolver  *identity.Resolver // used when a draft is committed to another platform
	Logger    *log.Logger

	PerQueryLimit  int
	Pacing         time.Duration
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// PlaylistEngine implements draft generation and playlist refresh.
type PlaylistEngine struct {
	platforms services.Connector
	gateway   reasoning.Gateway
	playlists models.PlaylistStore
	history   models.HistoryStore
	drafts    models.DraftStore
	locker    locks.Locker
	resolver  *identity.Resolver
	agg       *Aggregator
	logger    *log.Logger

	refreshTimeout time.Duration
	now            func() time.Time

	// per (owner, scope) mutexes so refreshes and user edits never lose each other's history writes
	historyMu sync.Map
}

// NewPlaylistEngine creates a new PlaylistEngine from opts.
func NewPlaylistEngine(opts EngineOpts) *PlaylistEngine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	locker := opts.Locker
	if locker == nil {
		locker = locks.NewMemoryLocker()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(nil, logger)
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &PlaylistEngine{
		platforms:      opts.Platforms,
		gateway:        opts.Reasoning,
		playlists:      opts.Playlists,
		history:        opts.History,
		drafts:         opts.Drafts,
		locker:         locker,
		resolver:       resolver,
		agg:            NewAggregator(opts.PerQueryLimit, opts.Pacing, logger),
		logger:         logger,
		refreshTimeout: timeout,
		now:            func() time.Time { return now().UTC() },
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *PlaylistEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func (e *PlaylistEngine) connect(owner string, account models.Account) (services.Service, error) {
	if e.platforms == nil {
		return nil, fmt.Errorf("%w: platform connector not initialized", shared.ErrServiceUnavailable)
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	return e.platforms.Connect(owner, account)
}

// generation is everything one plan → aggregate → curate cycle needs.
type generation struct {
	prompt  reasoning.PromptContext
	exclude map[string]struct{}
	known   map[string]struct{}
}

type generated struct {
	queries  []string
	pool     []models.CandidateTrack
	selected []models.CandidateTrack
}

// generate runs one plan → aggregate → curate cycle against svc.
func (e *PlaylistEngine) generate(ctx context.Context, svc services.Service, g generation, progress chan<- ProgressUpdate) (*generated, error) {
	if e.gateway == nil {
		return nil, fmt.Errorf("%w: reasoning gateway not initialized", shared.ErrServiceUnavailable)
	}

	e.sendProgress(progress, planQueriesUpdate(g.prompt.Prompt))
	queries, err := e.gateway.PlanQueries(ctx, g.prompt)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, queriesPlannedUpdate(queries))

	pool, err := e.agg.Collect(ctx, svc, AggregateRequest{
		Queries:       queries,
		Exclude:       g.exclude,
		AllowExplicit: g.prompt.AllowExplicit,
		KnownArtists:  knownIf(g.prompt.NewArtistsOnly, g.known),
		Progress:      func(u ProgressUpdate) { e.sendProgress(progress, u) },
	})
	if err != nil {
		return nil, err
	}

	e.sendProgress(progress, curateUpdate(len(pool), g.prompt.TargetCount))
	indices, err := e.gateway.Curate(ctx, pool, g.prompt)
	if err != nil {
		return nil, err
	}
	indices, err = reasoning.ValidateSelection(indices, len(pool), g.prompt.TargetCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAICapabilityFailure, err)
	}
	selected := reasoning.Select(pool, indices)

	return &generated{queries: queries, pool: pool, selected: selected}, nil
}

func knownIf(newArtistsOnly bool, known map[string]struct{}) map[string]struct{} {
	if !newArtistsOnly {
		return nil
	}
	return known
}

func validateSongCount(n int) error {
	if n <= 0 || n > maxSongCount {
		return fmt.Errorf("%w: song count must be between 1 and %d, got %d", shared.ErrInvalidArgument, maxSongCount, n)
	}
	return nil
}

// persistContext detaches bookkeeping writes from a cancelled or timed-out run so that what was
// applied on the platform is still recorded.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), shared.PersistTimeout)
}
