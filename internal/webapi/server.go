// Package webapi exposes the lead search product over HTTP: session-guarded
// search, token balance and purchase, and search history.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/leadscout/internal/search"
	"github.com/MarkoPoloResearchLab/leadscout/internal/store/historystore"
	"github.com/MarkoPoloResearchLab/leadscout/pkg/tokens"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// TokenService is the token surface the API exposes to users.
type TokenService interface {
	Balance(ctx context.Context, userID tokens.UserID) (int64, error)
	Credit(ctx context.Context, userID tokens.UserID, amount tokens.TokenAmount, reason string) (int64, error)
	History(ctx context.Context, userID tokens.UserID, beforeUnixUTC int64, limit int) ([]tokens.Entry, error)
}

// SearchRunner executes one metered search and quotes its cost up front.
type SearchRunner interface {
	Run(ctx context.Context, userID tokens.UserID, request search.Request) (search.Result, error)
	EstimateCharge(maxResults int) int64
}

// SearchHistory reads a user's saved searches.
type SearchHistory interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]historystore.SearchRecord, error)
	GetByID(ctx context.Context, userID string, searchID string) (historystore.SearchRecord, error)
}

// Dependencies carries the wired services the HTTP layer fronts.
type Dependencies struct {
	Tokens  TokenService
	Search  SearchRunner
	History SearchHistory
	Logger  *zap.Logger
}

// Run boots the HTTP server using the supplied configuration and serves
// until the context is canceled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		productionLogger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("zap init: %w", err)
		}
		defer func() { _ = productionLogger.Sync() }()
		logger = productionLogger
	}
	if deps.Tokens == nil || deps.Search == nil || deps.History == nil {
		return errors.New("webapi: missing dependencies")
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		tokens:  deps.Tokens,
		search:  deps.Search,
		history: deps.History,
	}

	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware("auth_claims"))

	api.GET("/session", handler.handleSession)
	api.POST("/search", handler.handleSearch)
	api.GET("/search/estimate", handler.handleSearchEstimate)
	api.GET("/tokens/balance", handler.handleBalance)
	api.POST("/tokens/add", handler.handleAddTokens)
	api.GET("/tokens/history", handler.handleTokenHistory)
	api.GET("/searches", handler.handleSearchList)
	api.GET("/searches/:id", handler.handleSearchDetail)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	tokens  TokenService
	search  SearchRunner
	history SearchHistory
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleSearch(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	var request searchRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	result, err := handler.search.Run(ctx.Request.Context(), userID, search.Request{
		Keyword:    request.Keyword,
		Location:   request.Location,
		Radius:     request.Radius,
		MaxResults: request.MaxResults,
	})
	if err != nil {
		handler.respondSearchError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) respondSearchError(ctx *gin.Context, err error) {
	var validation search.ValidationError
	if errors.As(err, &validation) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", validation.Error()))
		return
	}
	var insufficient tokens.InsufficientTokensError
	if errors.As(err, &insufficient) {
		ctx.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":            "insufficient_tokens",
				"message":         insufficient.Error(),
				"current_tokens":  insufficient.CurrentBalance,
				"required_tokens": insufficient.RequiredTokens,
			},
		})
		return
	}
	if errors.Is(err, search.ErrSearchFailed) {
		handler.logger.Error("search lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("search_failed", "business lookup failed"))
		return
	}
	handler.logger.Error("search failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "search failed"))
}

// handleSearchEstimate quotes the pre-authorization charge for a result
// cap so the UI can show the price before the user commits.
func (handler *httpHandler) handleSearchEstimate(ctx *gin.Context) {
	if _, ok := handler.requireUser(ctx); !ok {
		return
	}
	maxResults := int(parseInt64Query(ctx, "max_results", search.DefaultMaxResults))
	if maxResults == 0 {
		maxResults = search.DefaultMaxResults
	}
	ctx.JSON(http.StatusOK, gin.H{
		"max_results":    maxResults,
		"estimated_cost": handler.search.EstimateCharge(maxResults),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	balance, err := handler.tokens.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.logger.Error("balance fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (handler *httpHandler) handleAddTokens(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	var request addTokensRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	addAmount := request.Amount
	reason := "manual purchase"
	if request.Package != "" {
		packageAmount, known := TokenPackageAmount(request.Package)
		if !known {
			ctx.JSON(http.StatusBadRequest, errorResponse("unknown_package", fmt.Sprintf("unknown token package %q", request.Package)))
			return
		}
		addAmount = packageAmount
		reason = fmt.Sprintf("package purchase: %s", request.Package)
	}
	amount, err := tokens.NewTokenAmount(addAmount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be a positive integer"))
		return
	}

	balance, err := handler.tokens.Credit(ctx.Request.Context(), userID, amount, reason)
	if err != nil {
		handler.logger.Error("credit failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "credit failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance, "added": amount.Int64()})
}

func (handler *httpHandler) handleTokenHistory(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	beforeUnixUTC := parseInt64Query(ctx, "before", 0)
	limit := int(parseInt64Query(ctx, "limit", tokenHistoryLimit))

	entries, err := handler.tokens.History(ctx.Request.Context(), userID, beforeUnixUTC, limit)
	if err != nil {
		handler.logger.Error("token history fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "history unavailable"))
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:        entry.EntryID,
			Amount:         entry.Amount,
			Kind:           entry.Kind.String(),
			Context:        json.RawMessage(entry.Context.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) handleSearchList(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	records, err := handler.history.ListByUser(ctx.Request.Context(), userID.String(), searchHistoryLimit)
	if err != nil {
		handler.logger.Error("search list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "search history unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"searches": records})
}

func (handler *httpHandler) handleSearchDetail(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	record, err := handler.history.GetByID(ctx.Request.Context(), userID.String(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, historystore.ErrSearchNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "search not found"))
			return
		}
		handler.logger.Error("search detail failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "search history unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"search":  record,
		"results": json.RawMessage(record.Results),
	})
}

// requireUser resolves the authenticated user id or writes an error
// response and reports false.
func (handler *httpHandler) requireUser(ctx *gin.Context) (tokens.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return tokens.UserID{}, false
	}
	userID, err := tokens.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return tokens.UserID{}, false
	}
	return userID, true
}

func parseInt64Query(ctx *gin.Context, name string, fallback int64) int64 {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get("auth_claims")
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type searchRequest struct {
	Keyword    string `json:"keyword"`
	Location   string `json:"location"`
	Radius     int    `json:"radius"`
	MaxResults int    `json:"max_results"`
}

type addTokensRequest struct {
	Amount  int64  `json:"amount"`
	Package string `json:"package"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Amount         int64           `json:"amount"`
	Kind           string          `json:"kind"`
	Context        json.RawMessage `json:"context"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}
