package httpapi

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duel-settlement/internal/duel"
	"duel-settlement/internal/pricing"
	"duel-settlement/internal/settlement"
	"duel-settlement/internal/storage"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := envelope{Success: status < 400, Message: message, Data: data}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, message, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, "", map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"service":   "duel-settlement",
	})
}

func (s *Server) handleListDuels(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	status := duel.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = duel.StatusOpen
	}
	switch status {
	case duel.StatusOpen, duel.StatusLive, duel.StatusSettled, duel.StatusCancelled:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	duels, err := s.store.ListDuels(r.Context(), status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list duels failed")
		s.respondError(w, http.StatusInternalServerError, "failed to list duels")
		return
	}

	s.respondJSON(w, http.StatusOK, "", map[string]any{
		"duels": viewDuels(duels),
		"count": len(duels),
	})
}

type createDuelRequest struct {
	OnChainID       *int64  `json:"onChainId"`
	Creator         string  `json:"creator"`
	Direction       string  `json:"direction"`
	Asset           string  `json:"asset"`
	DurationSeconds int64   `json:"durationSeconds"`
	StakeWei        string  `json:"stakeWei"`
	CreateTxHash    *string `json:"createTxHash"`
}

// handleCreateDuel registers a duel already escrowed on-chain. Duels
// without an on-chain id are accepted but stay invisible to listings
// until the id is known.
func (s *Server) handleCreateDuel(w http.ResponseWriter, r *http.Request) {
	var req createDuelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Creator == "" {
		s.respondError(w, http.StatusBadRequest, "creator is required")
		return
	}
	dir := duel.Direction(strings.ToLower(req.Direction))
	if dir != duel.DirectionUp && dir != duel.DirectionDown {
		s.respondError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}
	asset := strings.ToUpper(req.Asset)
	if !pricing.Supported(asset) {
		s.respondError(w, http.StatusBadRequest, "unsupported asset "+req.Asset)
		return
	}
	if !slices.Contains(duel.AllowedDurations, req.DurationSeconds) {
		s.respondError(w, http.StatusBadRequest, "duration must be one of 30, 60, 300 seconds")
		return
	}
	stake, ok := new(big.Int).SetString(req.StakeWei, 10)
	if !ok || stake.Sign() <= 0 {
		s.respondError(w, http.StatusBadRequest, "stakeWei must be a positive integer string")
		return
	}

	d := &duel.Duel{
		ID:               uuid.New(),
		OnChainID:        req.OnChainID,
		Creator:          req.Creator,
		CreatorDirection: dir,
		Asset:            asset,
		DurationSeconds:  req.DurationSeconds,
		Stake:            stake,
		StakeDisplay:     duel.FormatStake(stake),
		Status:           duel.StatusOpen,
		CreatedAt:        s.now().UTC(),
		CreateTxHash:     req.CreateTxHash,
	}

	if err := s.store.InsertDuel(r.Context(), d); err != nil {
		s.logger.Error().Err(err).Msg("insert duel failed")
		s.respondError(w, http.StatusInternalServerError, "failed to create duel")
		return
	}

	s.respondJSON(w, http.StatusCreated, "duel created", viewDuel(d))
}

func (s *Server) handleGetDuel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.duelID(w, r)
	if !ok {
		return
	}

	d, err := s.store.GetDuel(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "duel not found")
			return
		}
		s.logger.Error().Err(err).Str("duel_id", id.String()).Msg("get duel failed")
		s.respondError(w, http.StatusInternalServerError, "failed to load duel")
		return
	}

	s.respondJSON(w, http.StatusOK, "", viewDuel(d))
}

type joinRequest struct {
	Joiner     string  `json:"joiner"`
	JoinTxHash *string `json:"joinTxHash"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := s.duelID(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Joiner == "" {
		s.respondError(w, http.StatusBadRequest, "joiner is required")
		return
	}

	d, err := s.settler.Join(r.Context(), id, req.Joiner, req.JoinTxHash)
	if err != nil {
		s.respondLifecycleError(w, id, "join", err)
		return
	}

	s.respondJSON(w, http.StatusOK, "duel is live", viewDuel(d))
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.duelID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Caller == "" {
		s.respondError(w, http.StatusBadRequest, "caller is required")
		return
	}

	d, err := s.settler.Cancel(r.Context(), id, req.Caller)
	if err != nil {
		s.respondLifecycleError(w, id, "cancel", err)
		return
	}

	s.respondJSON(w, http.StatusOK, "duel cancelled", viewDuel(d))
}

type settleRequest struct {
	Winner   *string `json:"winner"`
	EndPrice string  `json:"endPrice"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := s.duelID(w, r)
	if !ok {
		return
	}

	// A body is optional: clients may attach their observed outcome,
	// which the coordinator cross-checks but never trusts.
	var claim *settlement.Claim
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && (req.Winner != nil || req.EndPrice != "") {
		claim = &settlement.Claim{Winner: req.Winner}
		if req.EndPrice != "" {
			dec, err := decimal.NewFromString(req.EndPrice)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "endPrice must be a decimal string")
				return
			}
			claim.EndPrice = dec.Shift(8).IntPart()
		}
	}

	res, err := s.settler.Settle(r.Context(), id, claim)
	if err != nil {
		s.logger.Error().Err(err).Str("duel_id", id.String()).Msg("settle failed")
		s.respondError(w, http.StatusInternalServerError, "settlement failed")
		return
	}

	data := map[string]any{"code": string(res.Code)}
	if res.Duel != nil {
		data["duel"] = viewDuel(res.Duel)
	}
	if res.Code == settlement.CodeSettled || res.Code == settlement.CodeAlreadySettled {
		data["winner"] = res.Winner
		if res.Payout != nil {
			data["payoutWei"] = res.Payout.String()
		}
		if res.Fee != nil {
			data["feeWei"] = res.Fee.String()
		}
		if res.TxHash != "" {
			data["txHash"] = res.TxHash
		}
	}

	s.respondJSON(w, settleStatus(res.Code), res.Message, data)
}

// settleStatus maps settlement codes onto HTTP statuses. Idempotent
// repeats are a success, lock contention a conflict, a window still in
// flight 425 Too Early, and chain trouble a bad gateway.
func settleStatus(code settlement.Code) int {
	switch code {
	case settlement.CodeSettled, settlement.CodeAlreadySettled:
		return http.StatusOK
	case settlement.CodeConflict, settlement.CodeInvalid:
		return http.StatusConflict
	case settlement.CodeNotReady:
		return http.StatusTooEarly
	case settlement.CodeNotFound:
		return http.StatusNotFound
	case settlement.CodeChainError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(chi.URLParam(r, "assetID"))

	quote, err := s.prices.GetPrice(r.Context(), asset)
	if err != nil {
		if errors.Is(err, pricing.ErrUnsupportedAsset) {
			s.respondError(w, http.StatusBadRequest, "unsupported asset "+asset)
			return
		}
		s.logger.Error().Err(err).Str("asset", asset).Msg("price fetch failed")
		s.respondError(w, http.StatusBadGateway, "price unavailable")
		return
	}

	s.respondJSON(w, http.StatusOK, "", map[string]any{
		"quote":   quote,
		"display": duel.FormatPrice(quote.Price),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	period := r.URL.Query().Get("range")
	if period == "" {
		period = duel.PeriodLifetime
	}

	at := s.now().UTC()
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		at = parsed
	}

	// Lifetime standings live in the cumulative per-agent table; only
	// daily and weekly rankings are period buckets.
	var (
		bucketKey string
		rows      []duel.DuelStat
		err       error
	)
	switch period {
	case duel.PeriodLifetime:
		rows, err = s.stats.ListTopStats(r.Context(), limit)
	case duel.PeriodDaily, duel.PeriodWeekly:
		if period == duel.PeriodDaily {
			bucketKey = duel.DailyBucket(at)
		} else {
			bucketKey = duel.WeeklyBucket(at)
		}
		var entries []duel.LeaderboardEntry
		entries, err = s.stats.ListLeaderboard(r.Context(), period, bucketKey, limit)
		for i := range entries {
			rows = append(rows, entries[i].DuelStat)
		}
	default:
		s.respondError(w, http.StatusBadRequest, "range must be lifetime, daily or weekly")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("period", period).Msg("leaderboard query failed")
		s.respondError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	ranked := make([]leaderboardView, 0, len(rows))
	for i := range rows {
		ranked = append(ranked, leaderboardView{
			Rank:     i + 1,
			statView: viewStat(&rows[i]),
		})
	}

	s.respondJSON(w, http.StatusOK, "", map[string]any{
		"range":   period,
		"bucket":  bucketKey,
		"entries": ranked,
	})
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agentID")

	stat, err := s.stats.GetStat(r.Context(), agent)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// An agent who never settled a duel has an all-zero record.
			s.respondJSON(w, http.StatusOK, "", statView{
				Agent:     agent,
				VolumeWei: "0",
				PnLWei:    "0",
			})
			return
		}
		s.logger.Error().Err(err).Str("agent", agent).Msg("stat query failed")
		s.respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	s.respondJSON(w, http.StatusOK, "", viewStat(stat))
}

func (s *Server) duelID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "duelID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid duel id")
		return uuid.UUID{}, false
	}
	return id, true
}

func (s *Server) respondLifecycleError(w http.ResponseWriter, id uuid.UUID, op string, err error) {
	var invalid *duel.InvalidTransitionError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "duel not found")
	case errors.As(err, &invalid):
		s.respondError(w, http.StatusConflict, invalid.Error())
	case errors.Is(err, storage.ErrStaleState):
		s.respondError(w, http.StatusConflict, "duel changed state, retry")
	default:
		s.logger.Error().Err(err).Str("duel_id", id.String()).Str("op", op).Msg("lifecycle operation failed")
		s.respondError(w, http.StatusInternalServerError, op+" failed")
	}
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}
