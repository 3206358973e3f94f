package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/profilehub/internal/model"
)

// AddressServiceInterface は住所ハンドラーが必要とするサービスインターフェース。
// いずれの操作も成功時は呼び出し元の住所一覧を返す。
type AddressServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Address, error)
	Create(ctx context.Context, userID string, input model.AddressInput) ([]*model.Address, error)
	Update(ctx context.Context, userID, addressID string, input model.AddressInput) ([]*model.Address, error)
	Delete(ctx context.Context, userID, addressID string) ([]*model.Address, error)
}

// AddressHandler は住所管理のHTTPハンドラー。
type AddressHandler struct {
	service AddressServiceInterface
}

// NewAddressHandler はAddressHandlerを生成する。
func NewAddressHandler(service AddressServiceInterface) *AddressHandler {
	return &AddressHandler{
		service: service,
	}
}

// addressRequest は住所の作成・更新リクエストのボディ。
// pincodeは旧クライアント向けのpostalCodeの別名。
type addressRequest struct {
	AddressID  string `json:"addressId"`
	Label      string `json:"label"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Pincode    string `json:"pincode"`
	Country    string `json:"country"`
}

func (req addressRequest) input() model.AddressInput {
	postalCode := req.PostalCode
	if postalCode == "" {
		postalCode = req.Pincode
	}
	return model.AddressInput{
		Label:      req.Label,
		City:       req.City,
		State:      req.State,
		PostalCode: postalCode,
		Country:    req.Country,
	}
}

// addressResponse は住所のAPIレスポンス。
type addressResponse struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	PostalCode string    `json:"postalCode"`
	Country    string    `json:"country"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// addressListResponse は住所一覧のAPIレスポンス。
type addressListResponse struct {
	Addresses []addressResponse `json:"addresses"`
}

// ListAddresses はログインユーザーの住所一覧を返す。
// GET /addresses
func (h *AddressHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	addresses, err := h.service.List(r.Context(), userID)
	h.writeList(w, addresses, err)
}

// CreateAddress は住所を登録する。
// POST /addresses
func (h *AddressHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	addresses, err := h.service.Create(r.Context(), userID, req.input())
	h.writeList(w, addresses, err)
}

// UpdateAddress は住所を更新する。対象はボディのaddressIdで指定する。
// PUT /addresses
func (h *AddressHandler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	addresses, err := h.service.Update(r.Context(), userID, req.AddressID, req.input())
	h.writeList(w, addresses, err)
}

// DeleteAddress は住所を削除する。
// DELETE /addresses?addressId=xxx
func (h *AddressHandler) DeleteAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	addresses, err := h.service.Delete(r.Context(), userID, r.URL.Query().Get("addressId"))
	h.writeList(w, addresses, err)
}

func (h *AddressHandler) writeList(w http.ResponseWriter, addresses []*model.Address, err error) {
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := addressListResponse{Addresses: make([]addressResponse, 0, len(addresses))}
	for _, a := range addresses {
		resp.Addresses = append(resp.Addresses, toAddressResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAddressResponse(a *model.Address) addressResponse {
	return addressResponse{
		ID:         a.ID,
		Label:      string(a.Label),
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}
