package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/metatx-labs/metatx-relay-go/pkg/client"
	"github.com/metatx-labs/metatx-relay-go/pkg/logger"
	"github.com/metatx-labs/metatx-relay-go/pkg/treasury"
	"github.com/metatx-labs/metatx-relay-go/pkg/types"
	"github.com/metatx-labs/metatx-relay-go/pkg/util"
)

func main() {
	serverFlag := &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "Relay server base URL",
		EnvVars: []string{"RELAY_SERVER_URL"},
	}
	keyFlag := &cli.StringFlag{
		Name:    "key",
		Usage:   "Hex-encoded signer private key",
		EnvVars: []string{"RELAY_SIGNER_KEY"},
	}
	relayerFlag := &cli.StringFlag{
		Name:    "relayer",
		Value:   "relay-client",
		Usage:   "Relayer identity reported in the audit trail",
		EnvVars: []string{"RELAY_RELAYER_NAME"},
	}

	app := &cli.App{
		Name:    "relay-client",
		Usage:   "Build, sign and submit meta-transaction authorizations",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "get-nonce",
				Usage: "Fetch the current nonce for a signer address",
				Flags: []cli.Flag{
					serverFlag,
					&cli.StringFlag{Name: "address", Usage: "Signer address", Required: true},
				},
				Action: runGetNonce,
			},
			{
				Name:  "sign",
				Usage: "Build and sign a treasury transfer authorization (prints the request JSON)",
				Flags: []cli.Flag{
					serverFlag, keyFlag,
					&cli.StringFlag{Name: "to", Usage: "Transfer recipient address", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "Transfer amount (decimal)", Required: true},
				},
				Action: runSign,
			},
			{
				Name:  "submit",
				Usage: "Submit a pre-signed authorization request (JSON from --file or stdin)",
				Flags: []cli.Flag{
					serverFlag, relayerFlag,
					&cli.StringFlag{Name: "file", Usage: "Path to request JSON; reads stdin when omitted"},
				},
				Action: runSubmit,
			},
			{
				Name:  "authorize",
				Usage: "Sign and submit a treasury transfer in one step",
				Flags: []cli.Flag{
					serverFlag, keyFlag, relayerFlag,
					&cli.StringFlag{Name: "to", Usage: "Transfer recipient address", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "Transfer amount (decimal)", Required: true},
				},
				Action: runAuthorize,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context) (*client.Client, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return client.NewClient(c.String("server"), c.String("relayer"), l), nil
}

func buildTransferCall(c *cli.Context) (*types.ActionCall, error) {
	if !common.IsHexAddress(c.String("to")) {
		return nil, fmt.Errorf("invalid recipient address: %s", c.String("to"))
	}
	amount, ok := new(big.Int).SetString(c.String("amount"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", c.String("amount"))
	}

	params, err := util.EncodeTransferParams(common.HexToAddress(c.String("to")), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer params: %w", err)
	}

	return &types.ActionCall{Action: treasury.ActionTransfer, Params: params}, nil
}

func runGetNonce(c *cli.Context) error {
	if !common.IsHexAddress(c.String("address")) {
		return fmt.Errorf("invalid address: %s", c.String("address"))
	}

	relay, err := newClient(c)
	if err != nil {
		return err
	}

	nonce, err := relay.GetNonce(c.Context, common.HexToAddress(c.String("address")))
	if err != nil {
		return err
	}

	fmt.Printf("%d\n", nonce)
	return nil
}

func runSign(c *cli.Context) error {
	signer, err := client.NewRequestSigner(c.String("key"))
	if err != nil {
		return err
	}

	call, err := buildTransferCall(c)
	if err != nil {
		return err
	}

	relay, err := newClient(c)
	if err != nil {
		return err
	}

	nonce, err := relay.GetNonce(c.Context, signer.Address())
	if err != nil {
		return err
	}

	req, err := signer.BuildRequest(call, nonce)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

func runSubmit(c *cli.Context) error {
	var data []byte
	var err error
	if path := c.String("file"); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	var req types.AuthorizationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse request JSON: %w", err)
	}

	relay, err := newClient(c)
	if err != nil {
		return err
	}

	resp, err := relay.SubmitAuthorization(c.Context, &req)
	if err != nil {
		return err
	}

	fmt.Printf("executed: id=%s action=%s nonce=%d\n", resp.ID, resp.Action, resp.Nonce)
	return nil
}

func runAuthorize(c *cli.Context) error {
	signer, err := client.NewRequestSigner(c.String("key"))
	if err != nil {
		return err
	}

	call, err := buildTransferCall(c)
	if err != nil {
		return err
	}

	relay, err := newClient(c)
	if err != nil {
		return err
	}

	resp, err := relay.Authorize(c.Context, signer, call)
	if err != nil {
		return err
	}

	fmt.Printf("executed: id=%s action=%s nonce=%d\n", resp.ID, resp.Action, resp.Nonce)
	return nil
}
