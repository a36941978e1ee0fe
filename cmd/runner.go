package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/identity"
	"github.com/desertthunder/mixtape/internal/locks"
	"github.com/desertthunder/mixtape/internal/models"
	"github.com/desertthunder/mixtape/internal/reasoning"
	"github.com/desertthunder/mixtape/internal/repositories"
	"github.com/desertthunder/mixtape/internal/services"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/desertthunder/mixtape/internal/tasks"
	"github.com/desertthunder/mixtape/internal/tokens"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and the engine are built on first use by [Runner.ensure], so commands that only touch
// configuration never open the database.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	httpClient *http.Client

	db        *sql.DB
	platforms services.Connector
	gateway   reasoning.Gateway
	locker    locks.Locker
	redis     *redis.Client

	tokens      *tokens.Manager
	tokenRepo   *repositories.TokenRepository
	spotifyAuth *tokens.SpotifyRefresher
	playlists   *repositories.PlaylistRepository
	matches     *repositories.MatchRepository
	engine      *tasks.PlaylistEngine
	gate        *tasks.CommandGate

	closers []func() error
}

// RunnerOpts contains configuration options for creating a Runner. Everything except Config is
// optional; DB, Platforms, Reasoning and Locker replace what [Runner.ensure] would build.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	HTTPClient *http.Client
	DB         *sql.DB
	Platforms  services.Connector
	Reasoning  reasoning.Gateway
	Locker     locks.Locker
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		httpClient: opts.HTTPClient,
		db:         opts.DB,
		platforms:  opts.Platforms,
		gateway:    opts.Reasoning,
		locker:     opts.Locker,
	}
}

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:     "mixtape",
		Usage:    "Generate, curate and auto-refresh playlists on Spotify & Apple Music",
		Version:  "0.1.0",
		Flags:    globalFlags(),
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, tokensCommand, draftCommand, playlistCommand, historyCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads configuration unless it was supplied up front.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config == nil {
		if err := shared.LoadDotEnv(cmd.String("env-file")); err != nil {
			return ctx, err
		}

		path := cmd.String("config")
		r.configPath = path
		config := shared.DefaultConfig()
		if _, err := os.Stat(path); err == nil {
			loaded, err := shared.LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			config = loaded
		} else {
			r.logger.Debug("config file not found, using defaults", "path", path)
		}
		config.ApplyEnv()
		r.config = config
	}

	if err := r.config.Validate(); err != nil {
		return ctx, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(lvl))
	} else {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	}
	return ctx, nil
}

func (r *Runner) after(context.Context, *cli.Command) error {
	return r.Close()
}

// Close releases everything [Runner.ensure] opened, in reverse order.
func (r *Runner) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// ensure opens storage and wires the engine.
func (r *Runner) ensure(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	cfg := r.config

	if err := r.openDB(); err != nil {
		return err
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.tokenRepo = repositories.NewTokenRepository(r.db)
	r.playlists = repositories.NewPlaylistRepository(r.db)
	r.matches = repositories.NewMatchRepository(r.db)
	r.tokens = tokens.NewManager(r.tokenRepo, shared.WithLogger(r.logger, "component", "tokens"))

	if spotify, err := tokens.NewSpotifyRefresher(cfg.Credentials.Spotify, "", r.httpClient); err == nil {
		r.spotifyAuth = spotify
		r.tokens.Register(models.Spotify, spotify)
	} else {
		r.logger.Debug("spotify refresh disabled", "err", err)
	}
	if apple := cfg.Credentials.AppleMusic; apple.PrivateKeyPath != "" {
		signer, err := tokens.NewAppleDeveloperTokens(apple)
		if err != nil {
			return fmt.Errorf("failed to load apple music key: %w", err)
		}
		r.tokens.Register(models.AppleMusic, tokens.NewAppleRefresher(signer))
	}

	if r.platforms == nil {
		backoff := shared.DefaultBackoff()
		r.platforms = services.NewPlatformConnector(r.tokens,
			services.SpotifyOpts{HTTPClient: r.httpClient, Logger: r.logger, Backoff: &backoff},
			services.AppleMusicOpts{Storefront: cfg.Credentials.AppleMusic.Storefront, HTTPClient: r.httpClient, Logger: r.logger, Backoff: &backoff},
		)
	}

	if r.gateway == nil {
		if gw, err := reasoning.NewHTTPGateway(cfg.Reasoning, r.httpClient); err == nil {
			r.gateway = reasoning.NewRetrying(gw, cfg.Reasoning.MaxAttempts, shared.DefaultBackoff(), r.logger)
		} else {
			r.logger.Debug("reasoning disabled", "err", err)
			r.gateway = reasoning.Unavailable{Err: err}
		}
	}

	if r.locker == nil {
		locker, err := r.newLocker(ctx)
		if err != nil {
			return err
		}
		r.locker = locker
	}

	r.engine = tasks.NewPlaylistEngine(tasks.EngineOpts{
		Platforms:      r.platforms,
		Reasoning:      r.gateway,
		Playlists:      r.playlists,
		History:        repositories.NewHistoryRepository(r.db),
		Drafts:         repositories.NewDraftRepository(r.db),
		Locker:         r.locker,
		Resolver:       identity.NewResolver(r.matches, r.logger),
		Logger:         r.logger,
		PerQueryLimit:  cfg.Scheduler.PerQueryLimit,
		Pacing:         cfg.Scheduler.Pacing(),
		RefreshTimeout: cfg.Scheduler.RefreshTimeout(),
	})
	r.gate = tasks.NewCommandGate(r.engine, 0, 0)
	return nil
}

// openDB opens the configured database once.
func (r *Runner) openDB() error {
	if r.db != nil {
		return nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	path := r.config.Database.Path
	db, err := shared.NewDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if path != ":memory:" {
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	}
	r.db = db
	r.closers = append(r.closers, db.Close)
	return nil
}

func (r *Runner) newLocker(ctx context.Context) (locks.Locker, error) {
	if r.config.Locks.Backend != "redis" {
		return locks.NewMemoryLocker(), nil
	}
	client, err := locks.DialRedis(ctx, r.config.Locks)
	if err != nil {
		return nil, err
	}
	r.redis = client
	r.closers = append(r.closers, client.Close)
	return locks.NewRedisLocker(client, r.config.Locks.TTL(), r.logger), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// progress prints engine updates until the returned stop func is called.
func (r *Runner) progress() (chan<- tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			switch update.Phase {
			case tasks.PlanQueries, tasks.FetchLive:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.SearchTracks:
				if update.Step == 0 {
					r.writePlain("\n🔍 %s\n", update.Message)
				} else {
					r.writePlain("   %s\n", update.Message)
				}
			case tasks.CreatePlaylist, tasks.ApplyDiff:
				r.writePlain("\n📝 %s\n", update.Message)
			default:
				r.writePlain("   %s\n", update.Message)
			}
		}
	}()
	return ch, func() {
		close(ch)
		<-done
	}
}
