package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"contactbot/internal/domain"
)

// WalletConfig configures a WalletClient.
type WalletConfig struct {
	URL       string // full-service JSON-RPC endpoint
	AccountID string // empty selects the wallet's first account
	Client    *http.Client
	Logger    *slog.Logger
}

// WalletClient reads received transactions from a full-service wallet.
type WalletClient struct {
	url       string
	accountID string
	client    *http.Client
	logger    *slog.Logger
}

// NewWalletClient creates a WalletClient.
func NewWalletClient(cfg WalletConfig) *WalletClient {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &WalletClient{url: cfg.URL, accountID: cfg.AccountID, client: cfg.Client, logger: cfg.Logger}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func (w *WalletClient) call(ctx context.Context, method string, params any, result any) error {
	payload := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = params
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := doWithRetry(ctx, w.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, w.logger)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return fmt.Errorf("%s: %s", method, resp.Error)
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

type walletAccounts struct {
	AccountIDs []string `json:"account_ids"`
	AccountMap map[string]struct {
		MainAddress string `json:"main_address"`
	} `json:"account_map"`
}

func (w *WalletClient) accounts(ctx context.Context) (walletAccounts, error) {
	var res walletAccounts
	if err := w.call(ctx, "get_all_accounts", nil, &res); err != nil {
		return res, err
	}
	if len(res.AccountIDs) == 0 {
		return res, errors.New("wallet has no accounts")
	}
	return res, nil
}

func (w *WalletClient) account(ctx context.Context) (string, error) {
	if w.accountID != "" {
		return w.accountID, nil
	}
	res, err := w.accounts(ctx)
	if err != nil {
		return "", err
	}
	w.accountID = res.AccountIDs[0]
	return w.accountID, nil
}

// Address returns the main public address of the monitored account.
func (w *WalletClient) Address(ctx context.Context) (string, error) {
	res, err := w.accounts(ctx)
	if err != nil {
		return "", err
	}
	id := w.accountID
	if id == "" {
		id = res.AccountIDs[0]
	}
	acct, ok := res.AccountMap[id]
	if !ok || acct.MainAddress == "" {
		return "", fmt.Errorf("no address for account %s", id)
	}
	return acct.MainAddress, nil
}

type transactionLog struct {
	TransactionLogID    string `json:"transaction_log_id"`
	AccountID           string `json:"account_id"`
	Direction           string `json:"direction"`
	ValuePicoMOB        string `json:"value_pmob"`
	FinalizedBlockIndex string `json:"finalized_block_index"`
}

// ReceivedPayments returns the account's received, finalized transactions
// ordered by block index.
func (w *WalletClient) ReceivedPayments(ctx context.Context) ([]domain.Payment, error) {
	accountID, err := w.account(ctx)
	if err != nil {
		return nil, err
	}
	var res struct {
		TransactionLogMap map[string]transactionLog `json:"transaction_log_map"`
	}
	if err := w.call(ctx, "get_all_transaction_logs_for_account",
		map[string]string{"account_id": accountID}, &res); err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(res.TransactionLogMap))
	for id, tx := range res.TransactionLogMap {
		if tx.Direction != "" && tx.Direction != "tx_direction_received" {
			continue
		}
		value, err := strconv.ParseInt(tx.ValuePicoMOB, 10, 64)
		if err != nil {
			w.logger.Warn("skipping transaction with bad value", "transaction", id, "value", tx.ValuePicoMOB)
			continue
		}
		block, err := strconv.ParseInt(tx.FinalizedBlockIndex, 10, 64)
		if err != nil {
			// Not finalized yet.
			continue
		}
		if tx.TransactionLogID == "" {
			tx.TransactionLogID = id
		}
		if tx.AccountID == "" {
			tx.AccountID = accountID
		}
		payments = append(payments, domain.Payment{
			TransactionLogID:    tx.TransactionLogID,
			AccountID:           tx.AccountID,
			ValuePicoMOB:        value,
			FinalizedBlockIndex: block,
		})
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].FinalizedBlockIndex < payments[j].FinalizedBlockIndex
	})
	return payments, nil
}
