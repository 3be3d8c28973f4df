package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"stablecoin-payments/internal/chain"
)

// CheckTokens reports connectivity and whether the payment contract accepts
// each configured stablecoin.
func (a *App) CheckTokens(ctx context.Context) error {
	gateway := a.newGateway()
	defer gateway.Close()
	return a.checkTokens(ctx, gateway)
}

func (a *App) checkTokens(ctx context.Context, gateway chain.Gateway) error {
	if !gateway.IsConnected(ctx) {
		return fmt.Errorf("cannot reach rpc endpoint %s", a.Config.Chain.RPCURL)
	}

	info, err := gateway.NetworkInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "chain id: %d (configured %d)\n", info.ChainID, a.Config.Chain.ChainID)
	fmt.Fprintf(a.Out, "contract: %s\n\n", a.Config.Chain.ContractAddress)

	tokens := a.tokenTable()
	symbols := make([]string, 0, len(tokens))
	for symbol := range tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tAddress\tDecimals\tAllowed")

	var failed []error
	disallowed := 0
	for _, symbol := range symbols {
		token := tokens[symbol]
		allowed, err := gateway.IsTokenAllowed(ctx, token.Address)
		state := fmt.Sprintf("%t", allowed)
		if err != nil {
			state = "error: " + sanitizeInline(err.Error())
			failed = append(failed, fmt.Errorf("%s: %w", symbol, err))
		} else if !allowed {
			disallowed++
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", symbol, token.Address.Hex(), token.Decimals, state)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	if disallowed > 0 {
		fmt.Fprintf(a.Out, "\n%d token(s) not allowed by the payment contract\n", disallowed)
	}
	return nil
}

// Network prints chain and signing-account details.
func (a *App) Network(ctx context.Context) error {
	gateway := a.newGateway()
	defer gateway.Close()
	return a.printNetwork(ctx, gateway)
}

func (a *App) printNetwork(ctx context.Context, gateway chain.Gateway) error {
	info, err := gateway.NetworkInfo(ctx)
	if err != nil {
		return err
	}

	account := info.Account
	if account == "" {
		account = "(no signing key configured)"
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Connected\t%t\n", info.Connected)
	fmt.Fprintf(writer, "Chain ID\t%d\n", info.ChainID)
	fmt.Fprintf(writer, "Latest block\t%d\n", info.LatestBlock)
	fmt.Fprintf(writer, "Gas price (gwei)\t%s\n", formatDecimal(info.GasPriceGwei, 4))
	fmt.Fprintf(writer, "Account\t%s\n", account)
	fmt.Fprintf(writer, "Balance (ETH)\t%s\n", formatDecimal(info.BalanceETH, 6))
	return writer.Flush()
}
