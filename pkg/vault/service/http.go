package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/xchain-vault/pkg/app/errors"
	apphttp "github.com/chainsafe/xchain-vault/pkg/app/http"
	"github.com/chainsafe/xchain-vault/pkg/auth"
	"github.com/chainsafe/xchain-vault/pkg/gateway"
	"github.com/chainsafe/xchain-vault/pkg/vault"
)

const maxBodySize = 1 << 20

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the caller-facing vault endpoints on the given chi router.
// Mutations require a request-bound EIP-191 signature; reads are public.
func RegisterRoutes(r chi.Router, service Service, verifier *auth.Verifier, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSignature(verifier, logger))
			r.Post("/positions", apphttp.HandleError(h.deposit))
			r.Post("/positions/{id}/withdraw", apphttp.HandleError(h.requestWithdrawal))
			r.Post("/positions/{id}/force-exit", apphttp.HandleError(h.forceExit))
			r.Post("/badges/claim", apphttp.HandleError(h.claimBadge))
			r.Post("/badges/{id}/relocate", apphttp.HandleError(h.relocate))
		})

		r.Get("/accounts/{address}", apphttp.HandleError(h.getAccount))
		r.Get("/accounts/{address}/positions", apphttp.HandleError(h.getPositions))
		r.Get("/accounts/{address}/positions/{id}", apphttp.HandleError(h.getPosition))
		r.Get("/accounts/{address}/badge", apphttp.HandleError(h.badgeOf))
		r.Get("/accounts/{address}/eligibility", apphttp.HandleError(h.isEligible))
		r.Get("/accounts/{address}/events", apphttp.HandleError(h.listEvents))
		r.Get("/badges/{id}", apphttp.HandleError(h.getBadge))
		r.Get("/fees/estimate", apphttp.HandleError(h.estimateFee))
		r.Get("/withdrawals/inflight", apphttp.HandleError(h.listInFlight))
	})
}

// RegisterGatewayRoutes registers the callback endpoints the cross-chain gateway invokes.
// The signature must recover to the configured gateway address.
func RegisterGatewayRoutes(r chi.Router, service Service, verifier *auth.Verifier, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.With(auth.RequireSignature(verifier, logger)).
		Post("/gateway/v1/callbacks/{kind}", apphttp.HandleError(h.callback))
}

func (h *HTTP) deposit(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	var req vault.DepositRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	amount, err := vault.ParseAmount(req.Amount)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid amount")
	}
	valueSent, err := vault.ParseAmount(req.ValueSent)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid value_sent")
	}

	pos, err := h.service.Deposit(r.Context(), caller, amount, valueSent)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, vault.NewPositionResponse(pos))
	return nil
}

func (h *HTTP) requestWithdrawal(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	id, err := positionID(r)
	if err != nil {
		return err
	}

	var body vault.WithdrawRequest
	if err := decodeBody(r, &body); err != nil {
		return err
	}
	req, err := body.ToWithdrawalRequest(id)
	if err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	pos, err := h.service.RequestWithdrawal(r.Context(), caller, req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusAccepted, vault.NewPositionResponse(pos))
	return nil
}

func (h *HTTP) forceExit(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	id, err := positionID(r)
	if err != nil {
		return err
	}

	pos, err := h.service.ForceExit(r.Context(), caller, id)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewPositionResponse(pos))
	return nil
}

func (h *HTTP) claimBadge(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}

	badge, err := h.service.ClaimBadge(r.Context(), caller)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, vault.NewBadgeResponse(badge))
	return nil
}

func (h *HTTP) relocate(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	id, err := badgeID(r)
	if err != nil {
		return err
	}

	var req vault.RelocateRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	badge, err := h.service.Relocate(r.Context(), caller, id, req.DestinationNamespace)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewBadgeResponse(badge))
	return nil
}

func (h *HTTP) getAccount(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	acc, err := h.service.GetAccount(r.Context(), addr)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewAccountResponse(acc))
	return nil
}

func (h *HTTP) getPositions(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	positions, err := h.service.GetPositions(r.Context(), addr)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewPositionsResponse(positions))
	return nil
}

func (h *HTTP) getPosition(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	id, err := positionID(r)
	if err != nil {
		return err
	}
	pos, err := h.service.GetPosition(r.Context(), addr, id)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewPositionResponse(pos))
	return nil
}

func (h *HTTP) badgeOf(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	badge, err := h.service.BadgeOf(r.Context(), addr)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewBadgeResponse(badge))
	return nil
}

func (h *HTTP) isEligible(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	eligible, err := h.service.IsEligible(r.Context(), addr)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.EligibilityResponse{Address: addr.Hex(), Eligible: eligible})
	return nil
}

func (h *HTTP) listEvents(w http.ResponseWriter, r *http.Request) error {
	addr, err := addressParam(r)
	if err != nil {
		return err
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return apperrors.BadRequestError(err, "limit must be a non-negative integer")
		}
	}
	events, err := h.service.ListEvents(r.Context(), addr, limit)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewEventsResponse(events))
	return nil
}

func (h *HTTP) getBadge(w http.ResponseWriter, r *http.Request) error {
	id, err := badgeID(r)
	if err != nil {
		return err
	}
	badge, err := h.service.GetBadge(r.Context(), id)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewBadgeResponse(badge))
	return nil
}

func (h *HTTP) estimateFee(w http.ResponseWriter, _ *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, vault.NewFeeEstimateResponse(h.service.EstimateFee()))
	return nil
}

func (h *HTTP) listInFlight(w http.ResponseWriter, r *http.Request) error {
	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.BadRequestError(err, "older_than must be a duration such as 30m")
		}
		olderThan = d
	}
	positions, err := h.service.ListInFlight(r.Context(), olderThan)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewPositionsResponse(positions))
	return nil
}

func (h *HTTP) callback(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerFrom(r)
	if err != nil {
		return err
	}
	kind, err := gateway.ParseCallbackKind(chi.URLParam(r, "kind"))
	if err != nil {
		return apperrors.ResourceNotFoundError(err, "unknown callback kind")
	}

	var req gateway.CallbackRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	payload, err := req.Payload()
	if err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	var pos *vault.Position
	switch kind {
	case gateway.CallbackSuccess:
		pos, err = h.service.OnSuccess(r.Context(), caller, payload)
	case gateway.CallbackRevert:
		pos, err = h.service.OnRevert(r.Context(), caller, payload)
	case gateway.CallbackAbort:
		pos, err = h.service.OnAbort(r.Context(), caller, payload)
	}
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, vault.NewPositionResponse(pos))
	return nil
}

func callerFrom(r *http.Request) (common.Address, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, apperrors.UnAuthorizedError(nil, "signature and message required")
	}
	return caller, nil
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	return nil
}

func addressParam(r *http.Request) (common.Address, error) {
	addr, err := auth.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return common.Address{}, apperrors.BadRequestError(err, "invalid address")
	}
	return addr, nil
}

func positionID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apperrors.BadRequestError(err, "invalid position id")
	}
	return id, nil
}

func badgeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperrors.BadRequestError(err, "invalid badge id")
	}
	return id, nil
}
