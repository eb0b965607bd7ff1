package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/rps/pkg/rps"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PlayerDirectory resolves display names for match listings.
type PlayerDirectory interface {
	GetPlayer(ctx context.Context, userID string) (rps.Player, error)
}

// Run boots the HTTP façade and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config, engine *rps.Engine, directory PlayerDirectory) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	handler := &httpHandler{
		logger:    logger,
		engine:    engine,
		directory: directory,
		cfg:       cfg,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rps api listening", zap.String("addr", cfg.ListenAddr))
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

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
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
	api.Use(sessionMiddleware(cfg))

	api.GET("/session", handler.handleSession)
	api.GET("/balance", handler.handleBalance)
	api.GET("/stats", handler.handleStats)
	api.GET("/matches/open", handler.handleOpenMatches)
	api.GET("/matches/history", handler.handleHistory)
	api.POST("/matches/prepare", handler.handlePrepare)
	api.POST("/matches", handler.handleStart)
	api.POST("/matches/automatch", handler.handleAutoMatch)
	api.POST("/matches/:match_id/join", handler.handleJoin)
	api.POST("/matches/:match_id/vote", handler.handleVote)
	api.POST("/matches/:match_id/cancel", handler.handleCancel)

	return router
}

type httpHandler struct {
	logger    *zap.Logger
	engine    *rps.Engine
	directory PlayerDirectory
	cfg       Config
}

type prepareRequest struct {
	StakeCoins int64 `json:"stake_coins"`
}

type startRequest struct {
	Choice     string `json:"choice"`
	StakeCoins int64  `json:"stake_coins"`
}

type choiceRequest struct {
	Choice string `json:"choice"`
}

type matchPayload struct {
	MatchID        string `json:"match_id"`
	Status         string `json:"status"`
	StakeCoins     int64  `json:"stake_coins"`
	HostID         string `json:"host_id"`
	HostName       string `json:"host_name,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	HostChoice     string `json:"host_choice,omitempty"`
	ClientChoice   string `json:"client_choice,omitempty"`
	WinnerID       string `json:"winner_id,omitempty"`
	Opened         string `json:"opened,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type historyPayload struct {
	MatchID        string `json:"match_id"`
	StakeCoins     int64  `json:"stake_coins"`
	OpponentID     string `json:"opponent_id"`
	OpponentName   string `json:"opponent_name,omitempty"`
	YourChoice     string `json:"your_choice"`
	OpponentChoice string `json:"opponent_choice"`
	Result         string `json:"result"`
	Played         string `json:"played,omitempty"`
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.UserID(),
		"display": claims.DisplayName,
		"expires": claims.ExpiresAt.Unix(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	balance, err := handler.engine.BalanceOf(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "balance fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_coins": balance.Int64()})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	stats, err := handler.engine.Stats(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "stats fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total_open": stats.TotalOpen,
		"mine_open":  stats.MineOpen,
	})
}

// handleOpenMatches lists joinable matches. Host choices stay hidden so a
// prospective client cannot pick a counter before joining.
func (handler *httpHandler) handleOpenMatches(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	matches, err := handler.engine.OpenMatches(requestCtx, userID, rps.DefaultOpenListLimit)
	if err != nil {
		handler.respondError(ctx, "open listing failed", err)
		return
	}
	now := time.Now().UTC()
	payloads := make([]matchPayload, 0, len(matches))
	for _, match := range matches {
		payloads = append(payloads, matchPayload{
			MatchID:        match.MatchID,
			Status:         match.Status.String(),
			StakeCoins:     match.StakeCents.Int64(),
			HostID:         match.HostID,
			HostName:       handler.displayName(requestCtx, match.HostID),
			Opened:         humanizeSince(now, time.Unix(match.CreatedUnixUTC, 0).UTC()),
			CreatedUnixUTC: match.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"matches": payloads})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	matches, err := handler.engine.History(requestCtx, userID, rps.DefaultHistoryLimit)
	if err != nil {
		handler.respondError(ctx, "history listing failed", err)
		return
	}
	now := time.Now().UTC()
	payloads := make([]historyPayload, 0, len(matches))
	for _, match := range matches {
		payloads = append(payloads, handler.historyRow(requestCtx, userID.String(), match, now))
	}
	ctx.JSON(http.StatusOK, gin.H{"matches": payloads})
}

func (handler *httpHandler) handlePrepare(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	var request prepareRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	stake, err := rps.NewStake(request.StakeCoins)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_stake", "stake must not be negative"))
		return
	}
	match, err := handler.engine.Prepare(requestCtx, userID, stake)
	if err != nil {
		handler.respondError(ctx, "prepare failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"match": handler.ownMatchPayload(match)})
}

func (handler *httpHandler) handleStart(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	var request startRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	choice, err := rps.ParseChoice(request.Choice)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_choice", "choice must be rock, paper or scissors"))
		return
	}
	stake, err := rps.NewStake(request.StakeCoins)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_stake", "stake must not be negative"))
		return
	}
	match, err := handler.engine.Start(requestCtx, userID, choice, stake)
	if err != nil {
		handler.respondError(ctx, "start failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"match": handler.ownMatchPayload(match)})
}

func (handler *httpHandler) handleAutoMatch(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	var request choiceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	choice, err := rps.ParseChoice(request.Choice)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_choice", "choice must be rock, paper or scissors"))
		return
	}
	match, err := handler.engine.AutoMatch(requestCtx, userID, choice)
	if err != nil {
		handler.respondError(ctx, "automatch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"match": handler.ownMatchPayload(match)})
}

func (handler *httpHandler) handleJoin(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	var request choiceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	choice, err := rps.ParseChoice(request.Choice)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_choice", "choice must be rock, paper or scissors"))
		return
	}
	match, err := handler.engine.Join(requestCtx, ctx.Param("match_id"), userID, choice)
	if err != nil {
		handler.respondError(ctx, "join failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"match": handler.ownMatchPayload(match)})
}

func (handler *httpHandler) handleVote(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	var request choiceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	choice, err := rps.ParseChoice(request.Choice)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_choice", "choice must be rock, paper or scissors"))
		return
	}
	match, err := handler.engine.Vote(requestCtx, ctx.Param("match_id"), userID, choice)
	if err != nil {
		handler.respondError(ctx, "vote failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"match": handler.ownMatchPayload(match)})
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	userID, requestCtx, cancel, ok := handler.begin(ctx)
	if !ok {
		return
	}
	defer cancel()
	if err := handler.engine.Cancel(requestCtx, userID, ctx.Param("match_id")); err != nil {
		handler.respondError(ctx, "cancel failed", err)
		return
	}
	balance, err := handler.engine.BalanceOf(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "balance fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":        "cancelled",
		"balance_coins": balance.Int64(),
	})
}

func (handler *httpHandler) begin(ctx *gin.Context) (rps.UserID, context.Context, context.CancelFunc, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return rps.UserID{}, nil, nil, false
	}
	userID, err := rps.NewUserID(claims.UserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return rps.UserID{}, nil, nil, false
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	return userID, requestCtx, cancel, true
}

func (handler *httpHandler) ownMatchPayload(match rps.Match) matchPayload {
	return matchPayload{
		MatchID:        match.MatchID,
		Status:         match.Status.String(),
		StakeCoins:     match.StakeCents.Int64(),
		HostID:         match.HostID,
		ClientID:       match.ClientID,
		HostChoice:     match.HostChoice.String(),
		ClientChoice:   match.ClientChoice.String(),
		WinnerID:       match.WinnerID,
		CreatedUnixUTC: match.CreatedUnixUTC,
	}
}

func (handler *httpHandler) historyRow(ctx context.Context, viewerID string, match rps.Match, now time.Time) historyPayload {
	opponentID := match.HostID
	ownChoice, opponentChoice := match.ClientChoice, match.HostChoice
	if match.HostID == viewerID {
		opponentID = match.ClientID
		ownChoice, opponentChoice = match.HostChoice, match.ClientChoice
	}
	result := string(rps.ResultEven)
	switch match.WinnerID {
	case "":
	case viewerID:
		result = string(rps.ResultWon)
	default:
		result = string(rps.ResultLost)
	}
	played := ""
	if match.MatchedUnixUTC > 0 {
		played = humanizeSince(now, time.Unix(match.MatchedUnixUTC, 0).UTC())
	}
	return historyPayload{
		MatchID:        match.MatchID,
		StakeCoins:     match.StakeCents.Int64(),
		OpponentID:     opponentID,
		OpponentName:   handler.displayName(ctx, opponentID),
		YourChoice:     ownChoice.String(),
		OpponentChoice: opponentChoice.String(),
		Result:         result,
		Played:         played,
	}
}

func (handler *httpHandler) displayName(ctx context.Context, userID string) string {
	if handler.directory == nil || userID == "" {
		return ""
	}
	player, err := handler.directory.GetPlayer(ctx, userID)
	if err != nil {
		handler.logger.Warn("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return player.DisplayName
}

func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, rps.ErrInvalidChoice),
		errors.Is(err, rps.ErrInvalidStake),
		errors.Is(err, rps.ErrInvalidUserID),
		errors.Is(err, rps.ErrInvalidMatchID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, rps.ErrUnknownMatch):
		return http.StatusNotFound, "unknown_match"
	case errors.Is(err, rps.ErrUnknownPlayer):
		return http.StatusNotFound, "unknown_player"
	case errors.Is(err, rps.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, rps.ErrMatchLimitReached):
		return http.StatusConflict, "match_limit_reached"
	case errors.Is(err, rps.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, rps.ErrAlreadyJoined):
		return http.StatusConflict, "already_joined"
	case errors.Is(err, rps.ErrMatchNotAvailable):
		return http.StatusConflict, "match_not_available"
	case errors.Is(err, rps.ErrNotHost), errors.Is(err, rps.ErrNotParticipant):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, rps.ErrBalanceMismatch):
		return http.StatusConflict, "balance_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
