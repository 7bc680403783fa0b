package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"engagement-scraper/internal/config"
	"engagement-scraper/pkg/types"
)

// DefaultBrowserFactory launches the engine configured in cfg.Browser.
func DefaultBrowserFactory(cfg *config.Config, logger *logrus.Logger) BrowserFactory {
	return func(ctx context.Context) (Browser, error) {
		if cfg.Browser.Engine == "selenium" {
			b, err := NewSeleniumBrowser(ctx, cfg.Browser, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
		b, err := NewChromeBrowser(ctx, cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Engine runs scrape jobs against one browsing process at a time. The
// process belongs to the running job; a second Start fails with
// ErrBrowserBusy until the first finishes.
type Engine struct {
	cfg     *config.Config
	factory BrowserFactory
	logger  *logrus.Logger
	now     func() time.Time

	mu          sync.Mutex
	browser     Browser
	initialized bool
	currentURL  string
	job         *Job
	idle        *time.Timer
	closed      bool
}

func NewEngine(cfg *config.Config, factory BrowserFactory, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		now:     time.Now,
	}
}

// Job is the handle of one run. Cancel closes the whole browsing process.
type Job struct {
	ID        string
	Request   types.JobRequest
	Target    types.NavigationTarget
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *logrus.Entry

	mu     sync.Mutex
	stage  HarvestState
	result types.ScrapeResult
	err    error
}

// Wait blocks until the job finishes and returns its envelope.
func (j *Job) Wait() types.ScrapeResult {
	<-j.done
	return j.result
}

func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Cancel() { j.cancel() }

// Err is the fatal error behind a failed envelope, nil on success.
func (j *Job) Err() error {
	<-j.done
	return j.err
}

// Stage is the harvester state last reported by the job.
func (j *Job) Stage() HarvestState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

func (j *Job) setStage(s HarvestState) {
	j.mu.Lock()
	j.stage = s
	j.mu.Unlock()
}

// Start validates the request and launches the job in the background. ctx
// bounds the whole job; cancelling it closes the browsing process.
func (e *Engine) Start(ctx context.Context, session types.Session, req types.JobRequest) (*Job, error) {
	target, err := ResolveTarget(req, e.cfg.LinkedIn.BaseURL)
	if err != nil {
		return nil, err
	}
	if err := ValidateToken(session.Token, e.cfg.LinkedIn.TokenPrefix); err != nil {
		return nil, err
	}
	if req.MaxIdentities <= 0 {
		req.MaxIdentities = e.cfg.Scraper.MaxIdentities
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrBrowserClosed
	}
	if e.job != nil {
		return nil, ErrBrowserBusy
	}
	if e.idle != nil {
		e.idle.Stop()
		e.idle = nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:        uuid.New().String(),
		Request:   req,
		Target:    target,
		StartedAt: e.now(),
		ctx:       jobCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	job.log = e.logger.WithFields(logrus.Fields{"job_id": job.ID, "url": target.URL})
	e.job = job

	go e.run(job, session)
	return job, nil
}

// Run is the blocking form of Start.
func (e *Engine) Run(ctx context.Context, session types.Session, req types.JobRequest) (types.ScrapeResult, error) {
	job, err := e.Start(ctx, session, req)
	if err != nil {
		return Failure(types.NavigationTarget{URL: req.URL, Kind: req.TargetKind}, err, e.now()), err
	}
	return job.Wait(), job.Err()
}

func (e *Engine) run(job *Job, session types.Session) {
	defer close(job.done)
	defer job.cancel()

	stop := context.AfterFunc(job.ctx, func() {
		job.log.Warn("Job cancelled, closing browser")
		e.closeBrowser()
	})

	job.log.Infof("Starting %s analysis (max %d profiles)", job.Target.Kind, job.Request.MaxIdentities)
	result, err := e.execute(job.ctx, job, session)
	cancelled := !stop()

	if err != nil {
		if cancelled && job.ctx.Err() != nil {
			err = job.ctx.Err()
		}
		job.log.Errorf("Analysis failed: %v", err)
		if result.Data.SourceURL == "" {
			result = Failure(job.Target, err, e.now())
		} else {
			result.Success = false
			result.Error = UserMessage(err)
		}
	} else {
		job.log.Infof("Analysis complete: %s", result.Data.Stats)
	}

	job.mu.Lock()
	job.result = result
	job.err = err
	job.mu.Unlock()

	e.release(job, err)
}

// release frees the engine for the next job. A kept-open browser closes
// itself after the idle timeout unless another job claims it first.
func (e *Engine) release(job *Job, err error) {
	keep := job.Request.KeepSessionOpen && job.ctx.Err() == nil && !errors.Is(err, ErrBrowserClosed)

	e.mu.Lock()
	e.job = nil
	if !keep || e.closed {
		e.mu.Unlock()
		e.closeBrowser()
		return
	}
	timeout := e.cfg.Scraper.KeepOpenTimeout()
	job.log.Infof("Keeping browser open for %s", timeout)
	e.idle = time.AfterFunc(timeout, func() {
		e.mu.Lock()
		idle := e.job == nil
		e.mu.Unlock()
		if idle {
			e.logger.Info("Auto-closing browser after idle timeout")
			e.closeBrowser()
		}
	})
	e.mu.Unlock()
}

func (e *Engine) acquireBrowser(ctx context.Context) (Browser, error) {
	e.mu.Lock()
	if b := e.browser; b != nil {
		e.mu.Unlock()
		return b, nil
	}
	e.mu.Unlock()

	b, err := e.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	e.mu.Lock()
	e.browser = b
	e.initialized = false
	e.mu.Unlock()
	return b, nil
}

func (e *Engine) closeBrowser() {
	e.mu.Lock()
	b := e.browser
	e.browser = nil
	e.initialized = false
	e.currentURL = ""
	if e.idle != nil {
		e.idle.Stop()
		e.idle = nil
	}
	e.mu.Unlock()

	if b == nil {
		return
	}
	if err := b.Close(); err != nil {
		e.logger.Warnf("Failed to close browser: %v", err)
	}
}

func (e *Engine) setURL(u string) {
	e.mu.Lock()
	e.currentURL = u
	e.mu.Unlock()
}

// execute is one run. A non-nil error is fatal; the returned result may
// still carry what was extracted before the failure.
func (e *Engine) execute(ctx context.Context, job *Job, session types.Session) (types.ScrapeResult, error) {
	browser, err := e.acquireBrowser(ctx)
	if err != nil {
		return types.ScrapeResult{}, err
	}

	auth := NewAuthenticator(browser, e.cfg, e.logger)
	auth.now = e.now
	if _, err := auth.Bootstrap(ctx, session); err != nil {
		return types.ScrapeResult{}, err
	}
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()

	nav := NewNavigator(browser, e.cfg, e.logger)
	page, err := nav.Open(ctx, job.Target.URL, e.cfg.Pacing.PageSettle())
	if err != nil {
		return types.ScrapeResult{}, fmt.Errorf("failed to open target: %w", err)
	}
	e.setURL(job.Target.URL)
	var closeOnce sync.Once
	closePage := func() {
		closeOnce.Do(func() {
			if err := page.Close(); err != nil {
				job.log.Warnf("Failed to close target tab: %v", err)
			}
		})
	}
	defer closePage()

	sources, doc, err := NewDiscoverer(e.cfg, e.logger).Discover(ctx, page)
	if err != nil {
		return types.ScrapeResult{}, err
	}
	var comments []types.CommentRecord
	if job.Target.Kind == types.TargetPost {
		comments = ExtractComments(doc, e.cfg.LinkedIn.BaseURL, e.now())
	}
	post := ExtractPost(doc, job.Target.URL, e.cfg.LinkedIn.BaseURL, sources)

	partial := func(err error) (types.ScrapeResult, error) {
		r := Failure(job.Target, err, e.now())
		if comments != nil {
			r.Data.Comments = comments
		}
		r.Data.Post = post
		r.Data.Sources = sources
		r.Data.Stats.TotalSources = len(sources)
		r.Data.Stats.TotalComments = len(r.Data.Comments)
		return r, err
	}
	if len(sources) == 0 {
		return partial(fmt.Errorf("%w: no posts with reactions on the page", ErrExtractionEmpty))
	}

	source := sources[0]
	job.log.Infof("Processing post by %s (%d reactions)", source.AuthorName, source.ReactionCount)
	harvester := NewHarvester(e.cfg, e.logger)
	harvester.now = e.now
	harvester.OnState = job.setStage
	refs, err := harvester.Harvest(ctx, page, source, job.Request.MaxIdentities)
	if err != nil {
		return partial(err)
	}
	closePage()

	profiles, err := e.enrichAll(ctx, job, nav, source, refs)
	if err != nil {
		return partial(err)
	}
	return Aggregate(job.Target, sources, profiles, comments, post, job.StartedAt, e.now()), nil
}

// enrichAll visits profiles one at a time, in discovery order, with a
// human-paced delay between visits.
func (e *Engine) enrichAll(ctx context.Context, job *Job, nav *Navigator, source types.EngagementSource, refs []types.IdentityReference) ([]types.EnrichedProfile, error) {
	enricher := NewEnricher(nav, e.cfg, e.logger)
	limit := rate.Inf
	if ppm := e.cfg.Pacing.ProfilesPerMinute; ppm > 0 {
		limit = rate.Every(time.Minute / time.Duration(ppm))
	}
	limiter := rate.NewLimiter(limit, 1)

	profiles := make([]types.EnrichedProfile, 0, len(refs))
	for i, ref := range refs {
		if i > 0 {
			if err := sleep(ctx, e.interProfileDelay()); err != nil {
				return profiles, err
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return profiles, err
		}
		job.log.Infof("[%d/%d] Processing %s", i+1, len(refs), ref.Name)
		e.setURL(ref.ProfileURL)

		profile, err := enricher.Enrich(ctx, ref)
		if err != nil {
			return profiles, err
		}
		if profile.Name == "LinkedIn Member" && !IsPlaceholder(ref.Name) {
			profile.Name = ref.Name
		}
		profile.PostAuthor = source.AuthorName
		profile.PostContent = source.ContentSummary
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (e *Engine) interProfileDelay() time.Duration {
	d := e.cfg.Pacing.InterProfileDelay()
	if j := e.cfg.Pacing.Jitter(); j > 0 {
		d += rand.N(j)
	}
	return d
}

// VerifySession proves a token is accepted by logging in with a browser of
// its own. The engine's browser and any running job are untouched.
func (e *Engine) VerifySession(ctx context.Context, session types.Session) error {
	if err := ValidateToken(session.Token, e.cfg.LinkedIn.TokenPrefix); err != nil {
		return err
	}
	browser, err := e.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			e.logger.Warnf("Failed to close browser: %v", err)
		}
	}()

	auth := NewAuthenticator(browser, e.cfg, e.logger)
	auth.now = e.now
	_, err = auth.Bootstrap(ctx, session)
	return err
}

// Status is safe to call at any time and never touches the browser.
func (e *Engine) Status() types.BrowserStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := types.BrowserStatus{
		IsConnected:   e.browser != nil,
		IsInitialized: e.initialized,
		CurrentURL:    e.currentURL,
		Busy:          e.job != nil,
	}
	if e.job != nil {
		s.JobID = e.job.ID
	}
	return s
}

// Close cancels any running job, waits for it, and closes the browser.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	job := e.job
	e.mu.Unlock()

	if job != nil {
		job.Cancel()
		<-job.done
	}
	e.closeBrowser()
	return nil
}

// ResolveTarget validates a request URL and settles its kind.
func ResolveTarget(req types.JobRequest, baseURL string) (types.NavigationTarget, error) {
	u, err := ValidateTargetURL(req.URL, baseURL)
	if err != nil {
		return types.NavigationTarget{}, err
	}
	kind := req.TargetKind
	switch kind {
	case "", types.TargetAuto:
		kind = InferTargetKind(u)
	case types.TargetProfile, types.TargetPost:
	default:
		return types.NavigationTarget{}, fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, kind)
	}
	return types.NavigationTarget{URL: u, Kind: kind}, nil
}

// InferTargetKind classifies a URL by its path markers.
func InferTargetKind(rawURL string) types.TargetKind {
	switch {
	case strings.Contains(rawURL, "/in/"):
		return types.TargetProfile
	case strings.Contains(rawURL, "/feed/"),
		strings.Contains(rawURL, "/posts/"),
		strings.Contains(rawURL, "/activity/"):
		return types.TargetPost
	}
	return types.TargetAuto
}

// ValidateTargetURL requires an http(s) URL on the site's host or one of
// its subdomains, and returns it trimmed.
func ValidateTargetURL(rawURL, baseURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidTarget)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, rawURL)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	site := strings.TrimPrefix(base.Hostname(), "www.")
	host := u.Hostname()
	if host != site && !strings.HasSuffix(host, "."+site) {
		return "", fmt.Errorf("%w: %s is not on %s", ErrInvalidTarget, host, site)
	}
	return rawURL, nil
}
