package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/types"
)

func walletToModel(w *types.VexisWallet) *marketdb.SQLiteWallet {
	return &marketdb.SQLiteWallet{
		ID:           w.ID,
		AddressBTC:   w.Addresses.BTC,
		AddressETH:   w.Addresses.ETH,
		AddressXMR:   w.Addresses.XMR,
		AvailableBTC: w.Available.BTC.String(),
		AvailableETH: w.Available.ETH.String(),
		AvailableXMR: w.Available.XMR.String(),
		PendingBTC:   w.PendingEscrow.BTC.String(),
		PendingETH:   w.PendingEscrow.ETH.String(),
		PendingXMR:   w.PendingEscrow.XMR.String(),
		DisputedBTC:  w.Disputed.BTC.String(),
		DisputedETH:  w.Disputed.ETH.String(),
		DisputedXMR:  w.Disputed.XMR.String(),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

func walletFromModel(m *marketdb.SQLiteWallet) (*types.VexisWallet, error) {
	w := &types.VexisWallet{
		ID: m.ID,
		Addresses: types.Addresses{
			BTC: m.AddressBTC,
			ETH: m.AddressETH,
			XMR: m.AddressXMR,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	var err error
	if w.Available, err = amounts(m.AvailableBTC, m.AvailableETH, m.AvailableXMR); err != nil {
		return nil, err
	}
	if w.PendingEscrow, err = amounts(m.PendingBTC, m.PendingETH, m.PendingXMR); err != nil {
		return nil, err
	}
	if w.Disputed, err = amounts(m.DisputedBTC, m.DisputedETH, m.DisputedXMR); err != nil {
		return nil, err
	}
	return w, nil
}

func txToModel(t *types.WalletTransaction) *marketdb.SQLiteWalletTransaction {
	return &marketdb.SQLiteWalletTransaction{
		ID:           t.ID,
		WalletID:     t.WalletID,
		Type:         string(t.Type),
		AssetID:      t.AssetID,
		EscrowID:     t.EscrowID,
		Amount:       t.Amount.String(),
		Currency:     string(t.Currency),
		Status:       string(t.Status),
		ChainTxHash:  t.ChainTxHash,
		Counterparty: t.Counterparty,
		Note:         t.Note,
		Timestamp:    t.Timestamp,
	}
}

func txFromModel(m *marketdb.SQLiteWalletTransaction) (*types.WalletTransaction, error) {
	amount, err := parseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &types.WalletTransaction{
		ID:           m.ID,
		WalletID:     m.WalletID,
		Type:         types.TransactionType(m.Type),
		AssetID:      m.AssetID,
		EscrowID:     m.EscrowID,
		Amount:       amount,
		Currency:     types.Currency(m.Currency),
		Status:       types.TransactionStatus(m.Status),
		ChainTxHash:  m.ChainTxHash,
		Counterparty: m.Counterparty,
		Note:         m.Note,
		Timestamp:    m.Timestamp,
	}, nil
}

func amounts(btc, eth, xmr string) (types.Amounts, error) {
	var a types.Amounts
	var err error
	if a.BTC, err = parseAmount(btc); err != nil {
		return a, err
	}
	if a.ETH, err = parseAmount(eth); err != nil {
		return a, err
	}
	if a.XMR, err = parseAmount(xmr); err != nil {
		return a, err
	}
	return a, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return d, nil
}
