/**
 * @description
 * This file contains the HTTP handlers for the launchpad-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the ledger logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/fundstream/launchpad-service/internal/app"
	"github.com/fundstream/launchpad-service/internal/domain"
	"github.com/fundstream/launchpad-service/internal/store"
)

// LaunchpadHandlers holds the application service that handlers will use.
type LaunchpadHandlers struct {
	service     *app.Service
	recoveryKey string
}

// NewLaunchpadHandlers creates a new instance of LaunchpadHandlers.
func NewLaunchpadHandlers(service *app.Service, recoveryKey string) *LaunchpadHandlers {
	return &LaunchpadHandlers{service: service, recoveryKey: recoveryKey}
}

type registerCampaignRequest struct {
	Name           string `json:"name"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	Ratio          int64  `json:"ratio"`
	ThresholdRatio int64  `json:"threshold_ratio"`
	AmountPerUnit  int64  `json:"amount_per_unit"`
	TotalSupply    int64  `json:"total_supply"`
	MinValue       int64  `json:"min_value"`
	MaxValue       int64  `json:"max_value"`
}

type registerCampaignResponse struct {
	Campaign   *domain.Campaign `json:"campaign"`
	AdminCapID string           `json:"admin_cap_id"`
}

type mintRequest struct {
	Deposit int64 `json:"deposit"`
}

type mintResponse struct {
	Token     *domain.RewardToken `json:"token"`
	Consumed  int64               `json:"consumed"`
	Refund    int64               `json:"refund"`
	Activated bool                `json:"activated"`
}

type amountResponse struct {
	Amount int64 `json:"amount"`
}

type splitRequest struct {
	Amount int64 `json:"amount"`
}

type mergeRequest struct {
	SourceTokenID string `json:"source_token_id"`
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

type delegationRequest struct {
	Source string `json:"source"` // "stake" or "market"
}

// RegisterCampaignHandler handles requests to register a new campaign.
func (h *LaunchpadHandlers) RegisterCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req registerCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Campaign name is required")
		return
	}

	campaign, adminCap, err := h.service.RegisterCampaign(r.Context(), app.RegisterCampaignParams{
		CreatorID:      userID,
		Name:           req.Name,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Ratio:          req.Ratio,
		ThresholdRatio: req.ThresholdRatio,
		AmountPerUnit:  req.AmountPerUnit,
		TotalSupply:    req.TotalSupply,
		MinValue:       req.MinValue,
		MaxValue:       req.MaxValue,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, registerCampaignResponse{
		Campaign:   campaign,
		AdminCapID: adminCap.ID.String(),
	})
}

// GetCampaignHandler returns the public state of a campaign ledger.
func (h *LaunchpadHandlers) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	campaign, err := h.service.GetCampaign(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, campaign)
}

// ListParticipantsHandler returns the participant list of a campaign.
func (h *LaunchpadHandlers) ListParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	participants, err := h.service.ListParticipants(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if participants == nil {
		participants = []domain.Participant{}
	}
	h.writeJSON(w, http.StatusOK, participants)
}

// MintHandler charges a supporter's deposit and issues a reward token.
func (h *LaunchpadHandlers) MintHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, result, err := h.service.Mint(r.Context(), campaignID, userID, req.Deposit)
	if err != nil {
		var rateErr *app.RateLimitedError
		if errors.As(err, &rateErr) {
			w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many mint requests. Please wait and try again.")
			return
		}
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, mintResponse{
		Token:     token,
		Consumed:  result.Consumed,
		Refund:    req.Deposit - result.Consumed,
		Activated: result.Activated,
	})
}

// ClaimHandler drains the vested pool portion for the campaign creator.
// Requires the campaign's admin capability.
func (h *LaunchpadHandlers) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	if !h.authorizeAdmin(w, r, campaignID) {
		return
	}

	claimed, err := h.service.Claim(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, amountResponse{Amount: claimed})
}

// CancelHandler permanently halts a campaign. Accepts the campaign's admin
// capability or the operator recovery key.
func (h *LaunchpadHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	if !h.isRecoveryRequest(r) && !h.authorizeAdmin(w, r, campaignID) {
		return
	}

	campaign, err := h.service.Cancel(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, campaign)
}

// SweepHandler drains the residual dust of a cancelled, fully burned campaign.
// Accepts the campaign's admin capability or the operator recovery key.
func (h *LaunchpadHandlers) SweepHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.parseIDParam(w, r, "campaignID")
	if !ok {
		return
	}
	if !h.isRecoveryRequest(r) && !h.authorizeAdmin(w, r, campaignID) {
		return
	}

	dust, err := h.service.Sweep(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, amountResponse{Amount: dust})
}

// GetTokenHandler returns a reward token. Only the owner may read it.
func (h *LaunchpadHandlers) GetTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}
	token, err := h.service.GetToken(r.Context(), tokenID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if token.OwnerID != userID {
		h.writeError(w, http.StatusForbidden, "Not the token owner")
		return
	}
	h.writeJSON(w, http.StatusOK, token)
}

// BurnHandler redeems and destroys a reward token.
func (h *LaunchpadHandlers) BurnHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}

	result, err := h.service.Burn(r.Context(), tokenID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SplitHandler carves a new reward token out of an existing one.
func (h *LaunchpadHandlers) SplitHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fresh, err := h.service.Split(r.Context(), tokenID, userID, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, fresh)
}

// MergeHandler folds a source token into the addressed target token.
func (h *LaunchpadHandlers) MergeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	targetID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sourceID, err := uuid.Parse(req.SourceTokenID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid source token ID")
		return
	}

	merged, err := h.service.Merge(r.Context(), targetID, sourceID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, merged)
}

// TransferHandler reassigns ownership of a reward token.
func (h *LaunchpadHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	newOwnerID, err := uuid.Parse(req.NewOwnerID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid new owner ID")
		return
	}

	if err := h.service.Transfer(r.Context(), tokenID, userID, newOwnerID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// DelegateHandler moves a token's spendable balance into a yield source.
func (h *LaunchpadHandlers) DelegateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}
	kind, ok := h.parseDelegationSource(w, r)
	if !ok {
		return
	}

	token, err := h.service.Delegate(r.Context(), tokenID, userID, kind)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, token)
}

// RecallHandler withdraws a token's delegated balance back from a yield source.
func (h *LaunchpadHandlers) RecallHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	tokenID, ok := h.parseIDParam(w, r, "tokenID")
	if !ok {
		return
	}
	kind, ok := h.parseDelegationSource(w, r)
	if !ok {
		return
	}

	token, err := h.service.Recall(r.Context(), tokenID, userID, kind)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, token)
}

func (h *LaunchpadHandlers) parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LaunchpadHandlers) parseDelegationSource(w http.ResponseWriter, r *http.Request) (domain.DelegationKind, bool) {
	var req delegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return domain.DelegationNone, false
	}
	switch req.Source {
	case string(domain.DelegationStake):
		return domain.DelegationStake, true
	case string(domain.DelegationMarket):
		return domain.DelegationMarket, true
	default:
		h.writeError(w, http.StatusBadRequest, "Delegation source must be \"stake\" or \"market\"")
		return domain.DelegationNone, false
	}
}

// authorizeAdmin checks the caller's capability token against the campaign and
// writes the error response itself when authorization fails.
func (h *LaunchpadHandlers) authorizeAdmin(w http.ResponseWriter, r *http.Request, campaignID uuid.UUID) bool {
	capID, ok := GetCapabilityID(r.Context())
	if !ok {
		h.writeError(w, http.StatusForbidden, "Admin capability required")
		return false
	}
	err := h.service.AuthorizeAdmin(r.Context(), capID, campaignID)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrCapabilityMismatch) || errors.Is(err, store.ErrCapabilityNotFound) {
		h.writeError(w, http.StatusForbidden, "Capability does not grant access to this campaign")
		return false
	}
	log.Printf("level=error component=api msg=\"capability check failed\" cap_id=%s err=%v", capID, err)
	h.writeError(w, http.StatusInternalServerError, "Unable to verify capability")
	return false
}

// isRecoveryRequest reports whether the request carries the operator recovery
// key used to cancel or sweep campaigns whose capability was lost.
func (h *LaunchpadHandlers) isRecoveryRequest(r *http.Request) bool {
	return h.recoveryKey != "" && r.Header.Get("X-Recovery-Key") == h.recoveryKey
}

// writeServiceError maps ledger errors to HTTP status codes.
func (h *LaunchpadHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrCampaignNotFound),
		errors.Is(err, store.ErrTokenNotFound),
		errors.Is(err, store.ErrDeployRecordNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNameTaken):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrDelegationConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotTokenOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrWindowTooShort),
		errors.Is(err, domain.ErrInvalidRatio),
		errors.Is(err, domain.ErrInvalidThreshold),
		errors.Is(err, domain.ErrInvalidUnitPrice),
		errors.Is(err, domain.ErrInvalidSupply),
		errors.Is(err, domain.ErrInvalidBounds),
		errors.Is(err, domain.ErrDepositBelowMinimum),
		errors.Is(err, domain.ErrInvalidSplitAmount),
		errors.Is(err, domain.ErrSelfMerge),
		errors.Is(err, domain.ErrCampaignMismatch),
		errors.Is(err, domain.ErrDelegationMismatch):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCampaignCancelled),
		errors.Is(err, domain.ErrCampaignNotActive),
		errors.Is(err, domain.ErrMintNotStarted),
		errors.Is(err, domain.ErrSoldOut),
		errors.Is(err, domain.ErrParticipantCapReached),
		errors.Is(err, domain.ErrTokenDelegated),
		errors.Is(err, domain.ErrNotDelegated),
		errors.Is(err, domain.ErrNothingToDelegate),
		errors.Is(err, domain.ErrNotCancelled),
		errors.Is(err, domain.ErrSupplyOutstanding),
		errors.Is(err, domain.ErrVersionMismatch):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *LaunchpadHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *LaunchpadHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
