package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"liquidation_go/internal/api"
	"liquidation_go/internal/domain"
	"liquidation_go/internal/infra"
	"liquidation_go/internal/infra/storage"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secp256k1 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
				"private_key": hexutil.Encode(crypto.FromECDSA(key)),
			})
		},
	}
}

// chainFlags resolve chain identity from flags, falling back to the config file.
type chainFlags struct {
	chainID  uint64
	verifier string
}

func (f *chainFlags) resolve(rootOpts *RootOptions, fromConfig func(*infra.Config) common.Address) (uint64, common.Address, error) {
	if f.chainID != 0 && f.verifier != "" {
		if !common.IsHexAddress(f.verifier) {
			return 0, common.Address{}, fmt.Errorf("invalid address %q", f.verifier)
		}
		return f.chainID, common.HexToAddress(f.verifier), nil
	}
	cfg, err := infra.LoadConfig(rootOpts.ConfigPath)
	if err != nil {
		return 0, common.Address{}, fmt.Errorf("chain identity not given by flags and config unavailable: %w", err)
	}
	return cfg.Chain.ChainID, fromConfig(cfg), nil
}

func keyFromFlagOrEnv(flag, env string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("private key required (--key or %s)", env)
}

// NewSignCommand creates the sign command, which prints a ready POST /v1/settle body.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		chain      chainFlags
		keyHex     string
		vaultID    string
		bid        string
		bidWei     string
		validUntil uint64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a liquidation authorization as the vault owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, engine, err := chain.resolve(rootOpts, (*infra.Config).EngineAddress)
			if err != nil {
				return err
			}
			k, err := keyFromFlagOrEnv(keyHex, "LIQRELAY_OWNER_KEY")
			if err != nil {
				return err
			}
			signer, err := signature.NewSignerFromHex(k, signature.AuthorizationDomain(chainID, engine))
			if err != nil {
				return err
			}

			id, err := uint256.FromDecimal(vaultID)
			if err != nil {
				return fmt.Errorf("invalid vault id %q: %w", vaultID, err)
			}
			amount, err := parseBid(bid, bidWei)
			if err != nil {
				return err
			}

			auth, err := signer.SignAuthorization(id, amount, validUntil)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.SettleRequest{
				VaultID:    auth.VaultID.Dec(),
				Bid:        auth.Bid.Dec(),
				ValidUntil: auth.ValidUntil,
				Signature:  auth.Signature,
			})
		},
	}

	cmd.Flags().Uint64Var(&chain.chainID, "chain-id", 0, "chain id (default from config)")
	cmd.Flags().StringVar(&chain.verifier, "engine", "", "settlement engine address (default from config)")
	cmd.Flags().StringVar(&keyHex, "key", "", "owner private key (or LIQRELAY_OWNER_KEY)")
	cmd.Flags().StringVar(&vaultID, "vault", "", "vault id")
	cmd.Flags().StringVar(&bid, "bid", "", "bid in ether, e.g. 0.05")
	cmd.Flags().StringVar(&bidWei, "bid-wei", "", "bid in wei")
	cmd.Flags().Uint64Var(&validUntil, "valid-until", 0, "last block at which the authorization is valid")
	cmd.MarkFlagRequired("vault")
	cmd.MarkFlagRequired("valid-until")
	cmd.MarkFlagsMutuallyExclusive("bid", "bid-wei")

	return cmd
}

func parseBid(ether, wei string) (*uint256.Int, error) {
	switch {
	case ether != "":
		return domain.ParseAmount(ether, domain.NativeDecimals)
	case wei != "":
		return uint256.FromDecimal(wei)
	default:
		return nil, errors.New("one of --bid or --bid-wei is required")
	}
}

// NewPriceCommand creates the price command, which prints a signed oracle payload.
func NewPriceCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		chain  chainFlags
		keyHex string
		token  string
		price  string
		height uint64
	)

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Sign an oracle price update as the publisher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, ledger, err := chain.resolve(rootOpts, (*infra.Config).LedgerAddress)
			if err != nil {
				return err
			}
			k, err := keyFromFlagOrEnv(keyHex, "LIQRELAY_PUBLISHER_KEY")
			if err != nil {
				return err
			}
			signer, err := signature.NewSignerFromHex(k, signature.PriceUpdateDomain(chainID, ledger))
			if err != nil {
				return err
			}
			if !common.IsHexAddress(token) {
				return fmt.Errorf("invalid token address %q", token)
			}
			p, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}

			payload, err := storage.SignPriceUpdate(signer, common.HexToAddress(token), p, height)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(payload))
			return err
		},
	}

	cmd.Flags().Uint64Var(&chain.chainID, "chain-id", 0, "chain id (default from config)")
	cmd.Flags().StringVar(&chain.verifier, "ledger", "", "vault ledger address (default from config)")
	cmd.Flags().StringVar(&keyHex, "key", "", "publisher private key (or LIQRELAY_PUBLISHER_KEY)")
	cmd.Flags().StringVar(&token, "token", "", "token address")
	cmd.Flags().StringVar(&price, "price", "", "price per raw unit")
	cmd.Flags().Uint64Var(&height, "height", 0, "publish height")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("height")

	return cmd
}

// NewTokenCommand creates the token command, which issues an API access token.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token bound to a caller address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(caller) {
				return fmt.Errorf("invalid caller address %q", caller)
			}
			cfg, err := infra.LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			token, err := api.NewAuthenticator(cfg.Server.JWTSecret, cfg.TokenTTL()).Issue(common.HexToAddress(caller))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "caller address the token is bound to")
	cmd.MarkFlagRequired("caller")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
