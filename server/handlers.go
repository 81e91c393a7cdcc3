package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/ploutoslabs/airdrop/metrics"
	"github.com/ploutoslabs/airdrop/program"
)

const maxBodyBytes = 1 << 20 // 1MB

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type campaignResponse struct {
	Address             string    `json:"address"`
	Admin               string    `json:"admin"`
	FeeLamports         uint64    `json:"fee_lamports"`
	Mint                string    `json:"mint"`
	ReserveTokenAccount string    `json:"reserve_token_account"`
	ReserveAmount       uint64    `json:"reserve_amount"`
	AirdropAmount       uint64    `json:"airdrop_amount"`
	AllocationEnabled   bool      `json:"allocation_enabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toCampaignResponse(rec *program.CampaignRecord) campaignResponse {
	return campaignResponse{
		Address:             rec.Address.String(),
		Admin:               rec.Admin.String(),
		FeeLamports:         rec.FeeLamports,
		Mint:                rec.Mint.String(),
		ReserveTokenAccount: rec.ReserveTokenAccount.String(),
		ReserveAmount:       rec.ReserveAmount,
		AirdropAmount:       rec.AirdropAmount,
		AllocationEnabled:   rec.AllocationEnabled,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}

type allocationResponse struct {
	Address         string     `json:"address"`
	User            string     `json:"user"`
	Campaign        string     `json:"campaign"`
	Claimed         bool       `json:"claimed"`
	ClaimTimestamp  *time.Time `json:"claim_timestamp,omitempty"`
	TotalAllocation uint64     `json:"total_allocation"`
	TotalClaimed    uint64     `json:"total_claimed"`
	Remaining       uint64     `json:"remaining"`
	ReferralCount   uint64     `json:"referral_count"`
	NextUnlockAt    *time.Time `json:"next_unlock_at,omitempty"`
}

func toAllocationResponse(rec *program.UserAllocationRecord) allocationResponse {
	resp := allocationResponse{
		Address:         rec.Address.String(),
		User:            rec.User.String(),
		Campaign:        rec.Campaign.String(),
		Claimed:         rec.Claimed,
		TotalAllocation: rec.TotalAllocation,
		TotalClaimed:    rec.TotalClaimed,
		Remaining:       rec.Remaining(),
		ReferralCount:   rec.ReferralCount,
	}
	if rec.Claimed {
		ts := rec.ClaimTimestamp
		resp.ClaimTimestamp = &ts
		next := program.NextUnlockAt(rec.ClaimTimestamp)
		resp.NextUnlockAt = &next
	}
	return resp
}

// decodeSigned reads the body, verifies the caller's signature over it and
// unmarshals the request. Writes the error response itself on failure.
func (s *Server) decodeSigned(w http.ResponseWriter, r *http.Request, dst any) (solana.PublicKey, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", "failed to read request body")
		return solana.PublicKey{}, false
	}

	signer, err := authenticate(r, body)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "SignatureInvalid", err.Error())
		return solana.PublicKey{}, false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", fmt.Sprintf("failed to decode request: %v", err))
		return solana.PublicKey{}, false
	}
	return signer, true
}

func parsePubkey(field, value string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s pubkey: %w", field, err)
	}
	return pk, nil
}

// pubkeyParser accumulates the first parse error across a batch of fields.
type pubkeyParser struct {
	err error
}

func (p *pubkeyParser) parse(field, value string) solana.PublicKey {
	if p.err != nil {
		return solana.PublicKey{}
	}
	pk, err := parsePubkey(field, value)
	if err != nil {
		p.err = err
	}
	return pk
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeProgramError maps a program failure onto a stable HTTP status with the
// program error code in the body.
func (s *Server) writeProgramError(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), program.CodeOf(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, program.ErrCampaignNotFound),
		errors.Is(err, program.ErrAllocationNotFound),
		errors.Is(err, program.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, program.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, program.ErrPdaMismatch),
		errors.Is(err, program.ErrMintMismatch),
		errors.Is(err, program.ErrInvalidTokenAccount),
		errors.Is(err, program.ErrInvalidTokenAccountOwner):
		return http.StatusUnprocessableEntity
	case errors.Is(err, program.ErrAlreadyInitialized),
		errors.Is(err, program.ErrAirdropAlreadyClaimed),
		errors.Is(err, program.ErrAllocationNotEnabled),
		errors.Is(err, program.ErrClaimCompleted),
		errors.Is(err, program.ErrUnlockPeriodNotMet),
		errors.Is(err, program.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type initializeRequest struct {
	Admin               string `json:"admin"`
	FeeLamports         uint64 `json:"fee_lamports"`
	Mint                string `json:"mint"`
	ReserveTokenAccount string `json:"reserve_token_account"`
	ReserveAmount       uint64 `json:"reserve_amount"`
	AirdropAmount       uint64 `json:"airdrop_amount"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	signer, ok := s.decodeSigned(w, r, &req)
	if !ok {
		return
	}

	admin, err := parsePubkey("admin", req.Admin)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	mint, err := parsePubkey("mint", req.Mint)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	reserve, err := parsePubkey("reserve_token_account", req.ReserveTokenAccount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if !signer.Equals(admin) {
		s.writeProgramError(w, program.ErrUnauthorized)
		return
	}

	start := time.Now()
	rec, err := s.program.Initialize(r.Context(), program.InitializeParams{
		Admin:               admin,
		FeeLamports:         req.FeeLamports,
		Mint:                mint,
		ReserveTokenAccount: reserve,
		ReserveAmount:       req.ReserveAmount,
		AirdropAmount:       req.AirdropAmount,
	})
	metrics.RecordOperation("initialize", opStatus(err), time.Since(start))
	if err != nil {
		s.writeProgramError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toCampaignResponse(rec))
}

type claimRequest struct {
	User                string `json:"user"`
	Admin               string `json:"admin"`
	CampaignAddress     string `json:"campaign_address"`
	UserTokenAccount    string `json:"user_token_account"`
	ReserveTokenAccount string `json:"reserve_token_account"`
	Upline              string `json:"upline,omitempty"`
}

type claimResponse struct {
	Allocation allocationResponse `json:"allocation"`
	Payout     uint64             `json:"payout"`
	FeePaid    uint64             `json:"fee_paid"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	signer, ok := s.decodeSigned(w, r, &req)
	if !ok {
		return
	}

	var pp pubkeyParser
	params := program.ClaimParams{
		User:                pp.parse("user", req.User),
		Admin:               pp.parse("admin", req.Admin),
		CampaignAddress:     pp.parse("campaign_address", req.CampaignAddress),
		UserTokenAccount:    pp.parse("user_token_account", req.UserTokenAccount),
		ReserveTokenAccount: pp.parse("reserve_token_account", req.ReserveTokenAccount),
	}
	if req.Upline != "" {
		params.Upline = pp.parse("upline", req.Upline)
	}
	if pp.err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", pp.err.Error())
		return
	}
	if !signer.Equals(params.User) {
		s.writeProgramError(w, program.ErrUnauthorized)
		return
	}

	start := time.Now()
	result, err := s.program.Claim(r.Context(), params)
	metrics.RecordOperation("claim", opStatus(err), time.Since(start))
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	metrics.RecordTransfer("claim", result.Payout)
	metrics.RecordEvent(string(program.EventAllocationAdded))
	metrics.RecordEvent(string(program.EventAllocationUnlocked))

	s.writeJSON(w, http.StatusOK, claimResponse{
		Allocation: toAllocationResponse(result.Allocation),
		Payout:     result.Payout,
		FeePaid:    result.FeePaid,
	})
}

type unlockRequest struct {
	User                string `json:"user"`
	Admin               string `json:"admin"`
	CampaignAddress     string `json:"campaign_address"`
	UserTokenAccount    string `json:"user_token_account"`
	ReserveTokenAccount string `json:"reserve_token_account"`
}

type unlockResponse struct {
	Allocation     allocationResponse `json:"allocation"`
	AmountUnlocked uint64             `json:"amount_unlocked"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	signer, ok := s.decodeSigned(w, r, &req)
	if !ok {
		return
	}

	var pp pubkeyParser
	params := program.UnlockParams{
		User:                pp.parse("user", req.User),
		Admin:               pp.parse("admin", req.Admin),
		CampaignAddress:     pp.parse("campaign_address", req.CampaignAddress),
		UserTokenAccount:    pp.parse("user_token_account", req.UserTokenAccount),
		ReserveTokenAccount: pp.parse("reserve_token_account", req.ReserveTokenAccount),
	}
	if pp.err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", pp.err.Error())
		return
	}
	if !signer.Equals(params.User) {
		s.writeProgramError(w, program.ErrUnauthorized)
		return
	}

	start := time.Now()
	result, err := s.program.Unlock(r.Context(), params)
	metrics.RecordOperation("unlock", opStatus(err), time.Since(start))
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	metrics.RecordTransfer("unlock", result.Amount)
	metrics.RecordEvent(string(program.EventAllocationUnlocked))

	s.writeJSON(w, http.StatusOK, unlockResponse{
		Allocation:     toAllocationResponse(result.Allocation),
		AmountUnlocked: result.Amount,
	})
}

type increaseAllocationRequest struct {
	Admin           string `json:"admin"`
	CampaignAddress string `json:"campaign_address"`
	User            string `json:"user"`
	Amount          uint64 `json:"amount"`
}

func (s *Server) handleIncreaseAllocation(w http.ResponseWriter, r *http.Request) {
	var req increaseAllocationRequest
	signer, ok := s.decodeSigned(w, r, &req)
	if !ok {
		return
	}

	var pp pubkeyParser
	params := program.IncreaseAllocationParams{
		Admin:           pp.parse("admin", req.Admin),
		CampaignAddress: pp.parse("campaign_address", req.CampaignAddress),
		User:            pp.parse("user", req.User),
		Amount:          req.Amount,
	}
	if pp.err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", pp.err.Error())
		return
	}
	if !signer.Equals(params.Admin) {
		s.writeProgramError(w, program.ErrUnauthorized)
		return
	}

	start := time.Now()
	rec, err := s.program.IncreaseAllocation(r.Context(), params)
	metrics.RecordOperation("increase_allocation", opStatus(err), time.Since(start))
	if err != nil {
		s.writeProgramError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toAllocationResponse(rec))
}

type endAllocationRequest struct {
	Admin           string `json:"admin"`
	CampaignAddress string `json:"campaign_address"`
}

func (s *Server) handleEndAllocation(w http.ResponseWriter, r *http.Request) {
	var req endAllocationRequest
	signer, ok := s.decodeSigned(w, r, &req)
	if !ok {
		return
	}

	var pp pubkeyParser
	params := program.EndAllocationParams{
		Admin:           pp.parse("admin", req.Admin),
		CampaignAddress: pp.parse("campaign_address", req.CampaignAddress),
	}
	if pp.err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", pp.err.Error())
		return
	}
	if !signer.Equals(params.Admin) {
		s.writeProgramError(w, program.ErrUnauthorized)
		return
	}

	start := time.Now()
	err := s.program.EndAllocation(r.Context(), params)
	metrics.RecordOperation("end_allocation", opStatus(err), time.Since(start))
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	metrics.RecordEvent(string(program.EventAllocationEnded))

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "allocation_ended"})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	admin, err := parsePubkey("admin", chi.URLParam(r, "admin"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	rec, err := s.program.Campaign(r.Context(), admin)
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCampaignResponse(rec))
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	user, err := parsePubkey("user", chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	rec, err := s.program.Allocation(r.Context(), user)
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAllocationResponse(rec))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	events, err := s.program.Events(r.Context(), limit, offset)
	if err != nil {
		s.writeProgramError(w, err)
		return
	}
	if events == nil {
		events = []program.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func opStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return program.CodeOf(err)
}
