package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"debtswitch/config"
	"debtswitch/pkg/auth"
	"debtswitch/pkg/client"
	"debtswitch/pkg/quote"
	"debtswitch/pkg/swap"
	"debtswitch/pkg/types"
	"debtswitch/pkg/wallet"
)

// app bundles the wired-up collaborators behind every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	api      *client.Client
	wallet   *wallet.Wallet
	authMgr  *auth.Manager
	quoteMgr *quote.Manager
}

// newApp loads configuration and connects every collaborator a command may
// need. Callers must Close it.
func newApp(ctx context.Context, verbose bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := newLogger(verbose)
	apiClient := client.New(cfg.APIBaseURL)

	w, err := wallet.New(ctx, wallet.Config{
		RPCURL:         cfg.RPCURL,
		FallbackRPCURL: cfg.FallbackRPCURL,
		PrivateKey:     cfg.PrivateKey,
		ChainID:        cfg.ChainID,
	})
	if err != nil {
		return nil, err
	}

	store, err := auth.NewStore(cfg.AuthStorePath)
	if err != nil {
		w.Close()
		return nil, err
	}

	if !common.IsHexAddress(cfg.AdapterAddress) {
		w.Close()
		return nil, fmt.Errorf("invalid adapter address: %s", cfg.AdapterAddress)
	}
	adapter := common.HexToAddress(cfg.AdapterAddress)

	authMgr := auth.NewManager(w, store, adapter, log)
	quoteMgr := quote.NewManager(apiClient, w.Address(), cfg.ChainID, log)

	return &app{
		cfg:      cfg,
		log:      log,
		api:      apiClient,
		wallet:   w,
		authMgr:  authMgr,
		quoteMgr: quoteMgr,
	}, nil
}

// orchestrator builds the swap orchestrator over the app's collaborators.
func (a *app) orchestrator() *swap.Orchestrator {
	return swap.New(a.quoteMgr, a.authMgr, a.api, a.wallet, a.log)
}

func (a *app) Close() {
	a.quoteMgr.Close()
	a.wallet.Close()
}

// resolveAsset turns a symbol into a normalized AssetRef with its debt token
// address resolved, either from the backend reserve listing or from the
// on-chain data provider.
func (a *app) resolveAsset(ctx context.Context, symbol string) (types.AssetRef, error) {
	reserve, err := a.api.FindReserve(ctx, a.cfg.ChainID, symbol)
	if err != nil {
		return types.AssetRef{}, err
	}
	if !common.IsHexAddress(reserve.Address) {
		return types.AssetRef{}, fmt.Errorf("backend returned invalid address for %s: %s", reserve.Symbol, reserve.Address)
	}

	ref := types.AssetRef{
		Address:  common.HexToAddress(reserve.Address),
		Decimals: reserve.Decimals,
		Symbol:   reserve.Symbol,
	}

	if common.IsHexAddress(reserve.DebtTokenAddress) {
		ref.DebtTokenAddress = common.HexToAddress(reserve.DebtTokenAddress)
		return ref, nil
	}

	// The backend did not supply a debt token; look it up on chain.
	if !common.IsHexAddress(a.cfg.DataProviderAddress) {
		return types.AssetRef{}, fmt.Errorf("no debt token for %s and no data provider configured", reserve.Symbol)
	}
	debtToken, err := a.wallet.ResolveDebtToken(ctx, common.HexToAddress(a.cfg.DataProviderAddress), ref.Address)
	if err != nil {
		return types.AssetRef{}, fmt.Errorf("failed to resolve debt token for %s: %w", reserve.Symbol, err)
	}
	ref.DebtTokenAddress = debtToken

	return ref, nil
}

func confirmPrompt(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
