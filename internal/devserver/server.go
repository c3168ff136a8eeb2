// Package devserver is an in-memory stand-in for the portal REST API.
//
// It issues HS256 access/refresh token pairs, enforces bearer and
// anti-forgery checks and serves a small seeded data set, which is enough to
// exercise the CLI's request pipeline end to end without the real backend.
package devserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/digitalsociety/egov-cli/internal/models"
)

const (
	shutdownTimeout = 5 * time.Second

	headerCSRF = "X-CSRFToken"
	userKey    = "account"
)

// Config configures a Server.
type Config struct {
	Addr       string
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// CSRFToken, when set, must be echoed in X-CSRFToken on unsafe methods.
	CSRFToken string

	// RotateRefresh returns a new refresh token on every refresh.
	RotateRefresh bool

	Accounts []Account
	Now      func() time.Time
}

// Stats counts token endpoint traffic.
type Stats struct {
	Logins          int64
	Refreshes       int64
	Unauthorized    int64
	FailedRefreshes int64
}

// Server is the development portal API.
type Server struct {
	echo   *echo.Echo
	log    *zap.SugaredLogger
	cfg    Config
	tokens *tokenIssuer
	data   *store

	accessGen  atomic.Int64
	refreshGen atomic.Int64

	logins          atomic.Int64
	refreshes       atomic.Int64
	unauthorized    atomic.Int64
	failedRefreshes atomic.Int64
}

// NewLogger returns a sugared console logger at info level.
func NewLogger() *zap.SugaredLogger {
	stdout := zapcore.AddSync(os.Stdout)
	level := zap.NewAtomicLevelAt(zap.InfoLevel)

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(developmentCfg), stdout, level)
	return zap.New(core).Sugar()
}

// New builds a server. Zero values in cfg get development defaults.
func New(cfg Config, log *zap.SugaredLogger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = DefaultAccounts()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		echo: echo.New(),
		log:  log,
		cfg:  cfg,
		tokens: &tokenIssuer{
			secret:     cfg.Secret,
			accessTTL:  cfg.AccessTTL,
			refreshTTL: cfg.RefreshTTL,
			now:        cfg.Now,
		},
		data: newStore(),
	}
	s.data.seed(cfg.Accounts, cfg.Now())

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.Addr = cfg.Addr
	s.echo.HTTPErrorHandler = s.errorHandler
	s.routes()
	return s
}

// ServeHTTP lets the server be mounted in httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Stats returns token endpoint counters.
func (s *Server) Stats() Stats {
	return Stats{
		Logins:          s.logins.Load(),
		Refreshes:       s.refreshes.Load(),
		Unauthorized:    s.unauthorized.Load(),
		FailedRefreshes: s.failedRefreshes.Load(),
	}
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.accessGen.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.refreshGen.Add(1)
}

func (s *Server) routes() {
	s.echo.Use(echomiddleware.Recover())
	s.echo.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(echomiddleware.RequestLoggerWithConfig(s.loggerConfig()))

	api := s.echo.Group("/api")
	api.POST("/token/", s.obtainToken)
	api.POST("/token/refresh/", s.refreshToken)

	authed := []echo.MiddlewareFunc{s.requireBearer, s.requireCSRF}
	reps := append(authed[:len(authed):len(authed)], s.requireGroup(models.GroupReps))
	inspectors := append(authed[:len(authed):len(authed)], s.requireGroup(models.GroupInspectors))

	api.GET("/user_groups/", s.userGroups, authed...)
	api.GET("/get_notifications/", s.notifications, authed...)
	api.GET("/user_documents/", s.userDocuments, authed...)
	api.GET("/get_user/", s.currentUser, authed...)
	api.POST("/user_profile/", s.updateProfile, authed...)
	api.POST("/change_password/", s.changePassword, authed...)

	api.GET("/get_forums/", s.listForums, authed...)
	api.GET("/get_forum/:id/", s.getForum, authed...)
	api.POST("/create_forum/", s.createForum, reps...)
	api.GET("/get_posts/:forum/", s.listPosts, authed...)
	api.GET("/get_post/:id/", s.getPost, authed...)
	api.POST("/create_post/", s.createPost, authed...)
	api.POST("/update_post_likes/:id/", s.likePost, authed...)
	api.DELETE("/delete_post/:id/", s.deletePost, authed...)
	api.GET("/get_comments/:post/", s.listComments, authed...)
	api.POST("/create_comment/:post/", s.createComment, authed...)
	api.POST("/update_comment_likes/:id/", s.likeComment, authed...)
	api.DELETE("/delete_comment/:id/", s.deleteComment, authed...)

	api.GET("/renewal_requests/", s.listRenewals, inspectors...)
	api.POST("/accept_renewal_request/:id/", s.acceptRenewal, inspectors...)
	api.POST("/reject_renewal_request/:id/", s.rejectRenewal, inspectors...)
	api.GET("/registration_requests/", s.listRegistrations, inspectors...)
	api.POST("/accept_registration_request/:id/", s.acceptRegistration, inspectors...)
	api.POST("/reject_registration_request/:id/", s.rejectRegistration, inspectors...)
}

func (s *Server) loggerConfig() echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogError:     true,
		LogRequestID: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []any{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				s.log.Errorw("Request", fields...)
			} else {
				s.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(s.cfg.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Infof("Listening on: %s", s.cfg.Addr)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("shutdown: %v", err)
		return err
	}
	s.log.Info("server shutdown completed")
	return nil
}

// detail is the portal's error body.
type detail struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
	}
	if err := c.JSON(status, detail{Detail: msg}); err != nil {
		s.log.Errorw("failed to write json response", "error", err)
	}
}

// requireBearer authenticates the access token and stores the account.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.unauthorized.Add(1)
			return c.JSON(http.StatusUnauthorized, detail{Detail: "Authentication credentials were not provided."})
		}

		cl, err := s.tokens.parse(raw, tokenTypeAccess)
		if err != nil || cl.Generation != s.accessGen.Load() {
			s.unauthorized.Add(1)
			return c.JSON(http.StatusUnauthorized, detail{
				Detail: "Given token not valid for any token type",
				Code:   "token_not_valid",
			})
		}

		acc := s.data.account(cl.UserID)
		if acc == nil {
			s.unauthorized.Add(1)
			return c.JSON(http.StatusUnauthorized, detail{Detail: "User not found", Code: "user_not_found"})
		}
		c.Set(userKey, acc)
		return next(c)
	}
}

// requireCSRF rejects unsafe methods without the configured token.
func (s *Server) requireCSRF(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.CSRFToken == "" {
			return next(c)
		}
		switch c.Request().Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return next(c)
		}
		if c.Request().Header.Get(headerCSRF) != s.cfg.CSRFToken {
			return c.JSON(http.StatusForbidden, detail{Detail: "CSRF Failed: CSRF token missing or incorrect."})
		}
		return next(c)
	}
}

func (s *Server) requireGroup(group string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if acc := currentAccount(c); acc != nil {
				for _, g := range acc.Groups {
					if g == group {
						return next(c)
					}
				}
			}
			return c.JSON(http.StatusForbidden, detail{Detail: "You do not have permission to perform this action."})
		}
	}
}

func currentAccount(c echo.Context) *Account {
	acc, _ := c.Get(userKey).(*Account)
	return acc
}
