package keyd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

type Daemon struct {
	store    *Store
	policy   *PolicyEngine
	receipts *receipt.Client
}

func New(store *Store, policy *PolicyEngine, receipts *receipt.Client) *Daemon {
	return &Daemon{store: store, policy: policy, receipts: receipts}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Post("/wallet/create", d.handleCreate)
	r.Get("/wallet/list", d.handleList)
	r.Post("/wallet/sign", d.handleSign)
	r.Post("/wallet/send", d.handleSend)
	r.Post("/wallet/delete", d.handleDelete)
	r.Get("/wallet/receipt", d.handleReceipt)
}

func (d *Daemon) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain domain.Chain `json:"chain"`
		Label string       `json:"label"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	wallet, err := d.store.CreateWallet(req.Chain, req.Label)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, redactWallet(wallet))
}

func (d *Daemon) handleList(w http.ResponseWriter, r *http.Request) {
	wallets := d.store.List()
	out := make([]map[string]any, 0, len(wallets))
	for i := range wallets {
		out = append(out, redactWallet(&wallets[i]))
	}
	rpcsock.WriteJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleSign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID    string `json:"wallet_id"`
		PayloadHex  string `json:"payload_hex"`
		Destination string `json:"destination"`
		AmountUSD   string `json:"amount_usd"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}

	wallet, err := d.store.Get(req.WalletID)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}

	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}

	counter := d.store.DayCounterFor(wallet.ID)
	if err := d.policy.Evaluate(req.Destination, req.AmountUSD, counter); err != nil {
		d.receipts.Post(r.Context(), "keyd.policy_denied", fmt.Sprintf(`{"wallet":%q}`, wallet.ID))
		rpcsock.WriteError(w, err)
		return
	}

	sig, err := d.store.Sign(wallet.ID, payload)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	if req.AmountUSD != "" {
		if err := d.store.RecordSpend(wallet.ID, req.AmountUSD); err != nil {
			rpcsock.WriteError(w, err)
			return
		}
	}

	d.receipts.Post(r.Context(), "keyd.sign", fmt.Sprintf(`{"wallet":%q,"chain":%q}`, wallet.ID, wallet.Chain))
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

// handleSend builds and signs a transfer intent for the caller to
// broadcast; keyd itself never touches the network.
func (d *Daemon) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID    string `json:"wallet_id"`
		Destination string `json:"destination"`
		AmountUSD   string `json:"amount_usd"`
		PayloadHex  string `json:"payload_hex"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}

	wallet, err := d.store.Get(req.WalletID)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}

	counter := d.store.DayCounterFor(wallet.ID)
	if err := d.policy.Evaluate(req.Destination, req.AmountUSD, counter); err != nil {
		d.receipts.Post(r.Context(), "keyd.policy_denied", fmt.Sprintf(`{"wallet":%q}`, wallet.ID))
		rpcsock.WriteError(w, err)
		return
	}

	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	sig, err := d.store.Sign(wallet.ID, payload)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	if req.AmountUSD != "" {
		if err := d.store.RecordSpend(wallet.ID, req.AmountUSD); err != nil {
			rpcsock.WriteError(w, err)
			return
		}
	}

	d.receipts.Post(r.Context(), "keyd.send", fmt.Sprintf(`{"wallet":%q,"dest":%q}`, wallet.ID, req.Destination))
	rpcsock.WriteJSON(w, http.StatusOK, map[string]any{
		"from":        wallet.Address,
		"to":          req.Destination,
		"chain":       wallet.Chain,
		"amount_usd":  req.AmountUSD,
		"signature":   sig,
		"raw_payload": req.PayloadHex,
	})
}

func (d *Daemon) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"wallet_id"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if err := d.store.Delete(req.WalletID); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.receipts.Post(r.Context(), "keyd.delete", fmt.Sprintf(`{"wallet":%q}`, req.WalletID))
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (d *Daemon) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("wallet_id")
	counter := d.store.DayCounterFor(id)
	rpcsock.WriteJSON(w, http.StatusOK, counter)
}

// Shutdown zeroizes every cached plaintext key.
func (d *Daemon) Shutdown(_ context.Context) {
	d.store.ZeroizeAll()
}

// redactWallet strips the encrypted key blob from API responses.
func redactWallet(w *domain.Wallet) map[string]any {
	return map[string]any{
		"id":         w.ID,
		"chain":      w.Chain,
		"address":    w.Address,
		"label":      w.Label,
		"created_at": w.CreatedAt,
	}
}
