package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/model"
	"github.com/aussiebroadwan/skytab/pkg/skysdk"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
	"github.com/aussiebroadwan/skytab/pkg/xrpc"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Exit codes let scripts tell failure classes apart.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitLoginNeeded  = 3
	ExitUnavailable  = 4
)

// Application is the command-line shell around the client facade. It owns
// session persistence and output formatting.
type Application struct {
	cfg     Config
	logger  *slog.Logger
	client  *skysdk.SDKClient
	session SessionFile
	out     io.Writer
}

// New wires an Application from cfg. Output goes to out; logs go to stderr.
func New(cfg Config, out io.Writer) *Application {
	logger := slogx.New(slogx.Config{
		Service: "skytab",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	return NewWithLogger(cfg, out, logger)
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg Config, out io.Writer, logger *slog.Logger) *Application {
	sdkCfg := skysdk.Config{
		AttemptTimeout: cfg.AttemptTimeout,
		Retry: xrpc.RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			MaxRetryAfter:  cfg.MaxRetryAfter,
		},
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
		UserAgent:         "skytab/" + strings.TrimPrefix(BuildVersion, "v"),
		Logger:            logger,
		MaxPostGraphemes:  cfg.MaxPostGraphemes,
		DefaultPublicFeed: cfg.PublicFeed,
	}

	return &Application{
		cfg:     cfg,
		logger:  logger,
		client:  skysdk.NewSDKClient(sdkCfg),
		session: SessionFile{Path: cfg.SessionFile},
		out:     out,
	}
}

// Login authenticates and stores the session.
func (a *Application) Login(ctx context.Context, identifier, secret string) error {
	s, err := a.client.Login(ctx, a.cfg.Service, identifier, secret)
	if err != nil {
		return err
	}
	if err := a.session.Save(s); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as @%s (%s)\n", s.Handle, s.DID)
	return nil
}

// Logout ends the stored session. The local file is removed even when the
// server cannot be reached.
func (a *Application) Logout(ctx context.Context) error {
	s, err := a.resume(false)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}

	remoteErr := a.client.Logout(ctx, s)
	if err := a.session.Remove(); err != nil {
		return err
	}
	if remoteErr != nil {
		a.logger.Warn("server logout failed, local session removed", "err", remoteErr)
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

// Status prints who is logged in.
func (a *Application) Status() error {
	s, err := a.resume(false)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(a.out, "not logged in")
		return nil
	}
	fmt.Fprintf(a.out, "@%s (%s) on %s, access token valid until %s\n",
		s.Handle, s.DID, s.Service, s.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// Timeline prints one page of the home timeline, or of the public feed
// when not logged in.
func (a *Application) Timeline(ctx context.Context, cursor string, limit int) error {
	s, err := a.resume(false)
	if err != nil {
		return err
	}
	defer a.persist(s)

	page, err := a.client.GetTimeline(ctx, a.cfg.Service, s, cursor, limit)
	if err != nil {
		return err
	}
	a.printPage(page)
	return nil
}

// Post publishes text.
func (a *Application) Post(ctx context.Context, text string) error {
	if err := a.client.ValidatePostText(text); err != nil {
		return err
	}
	s, err := a.resume(true)
	if err != nil {
		return err
	}
	defer a.persist(s)

	uri, err := a.client.CreatePost(ctx, a.cfg.Service, s, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, uri)
	return nil
}

// Like likes the post at uri.
func (a *Application) Like(ctx context.Context, uri string) error {
	s, err := a.resume(true)
	if err != nil {
		return err
	}
	defer a.persist(s)

	if _, err := a.client.LikePost(ctx, a.cfg.Service, s, uri); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "liked")
	return nil
}

// Show prints a single post.
func (a *Application) Show(ctx context.Context, uri string) error {
	s, err := a.resume(false)
	if err != nil {
		return err
	}
	defer a.persist(s)

	post, err := a.client.GetPostDetail(ctx, a.cfg.Service, s, uri)
	if err != nil {
		return err
	}
	a.printPost(post)
	return nil
}

// Replies prints the direct replies to a post.
func (a *Application) Replies(ctx context.Context, uri string) error {
	s, err := a.resume(false)
	if err != nil {
		return err
	}
	defer a.persist(s)

	page, err := a.client.GetPostReplies(ctx, a.cfg.Service, s, uri, "")
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		fmt.Fprintln(a.out, "no replies")
		return nil
	}
	a.printPage(page)
	return nil
}

// resume loads the stored session. With required set, a missing session is
// AuthRequired.
func (a *Application) resume(required bool) (*skysdk.Session, error) {
	stored, err := a.session.Load()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		if required {
			return nil, apierr.New(apierr.KindAuthRequired, "skytab", "not logged in, run `skytab login`")
		}
		return nil, nil
	}
	return a.client.ResumeSession(*stored)
}

// persist saves the newest session of s's lineage if a refresh replaced it.
func (a *Application) persist(s *skysdk.Session) {
	if s == nil {
		return
	}
	if a.client.SessionState(s) == skysdk.StateExpired {
		if err := a.session.Remove(); err != nil {
			a.logger.Warn("remove expired session", "err", err)
		}
		return
	}
	cur := a.client.CurrentSession(s)
	if cur == nil || cur.AccessToken == s.AccessToken {
		return
	}
	if err := a.session.Save(cur); err != nil {
		a.logger.Warn("persist refreshed session", "err", err)
	}
}

func (a *Application) printPage(page model.Page[model.Post]) {
	for i, post := range page.Items {
		if i > 0 {
			fmt.Fprintln(a.out)
		}
		a.printPost(post)
	}
	if !page.Done() {
		fmt.Fprintf(a.out, "\nmore: --cursor %s\n", page.Cursor)
	}
}

func (a *Application) printPost(p model.Post) {
	name := p.Author.DisplayName
	if name == "" {
		name = p.Author.Handle
	}
	fmt.Fprintf(a.out, "%s @%s · %s\n", name, p.Author.Handle, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(a.out, p.Text)
	for _, img := range p.Images {
		fmt.Fprintf(a.out, "  [image] %s\n", img)
	}
	liked := ""
	if p.LikedByViewer() {
		liked = " (liked)"
	}
	fmt.Fprintf(a.out, "♥ %d%s  ↻ %d  ↩ %d  %s\n", p.LikesCount, liked, p.RepostsCount, p.RepliesCount, p.ID)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitFailure
	}
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return ExitInvalidInput
	case apierr.KindAuthRequired, apierr.KindSessionExpired, apierr.KindInvalidCredentials:
		return ExitLoginNeeded
	case apierr.KindNetwork, apierr.KindServiceUnavailable, apierr.KindRateLimited:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
