package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/driver"
)

var (
	createCmd = cobra.Command{
		Use:   "create",
		Short: "Create the pool and its accounts",
		Long: "Create the pool and its accounts. The keys of every created account are\n" +
			"kept in the genesis file, and re-running with the same file resumes an\n" +
			"interrupted genesis.",
		Args: cobra.NoArgs,
		RunE: runCreate,
	}

	genesisPath string
)

func init() {
	createCmd.Flags().StringVar(&genesisPath, "genesis", "genesis.yaml", "file holding the genesis keypairs, generated when absent")
}

// genesisFile is the on disk form of driver.Genesis, base58 private keys.
type genesisFile struct {
	Pool          string `yaml:"pool"`
	ValidatorList string `yaml:"validator_list"`
	CreditList    string `yaml:"credit_list"`
	PoolMint      string `yaml:"pool_mint"`
	OwnerFee      string `yaml:"owner_fee"`
	CreditReserve string `yaml:"credit_reserve"`
}

func runCreate(c *cobra.Command, _ []string) error {
	g, err := loadOrGenerateGenesis(genesisPath)
	if err != nil {
		return err
	}

	pool := base58.Encode(g.Pool.Public().(ed25519.PublicKey))
	if conf.PoolAddress != "" && conf.PoolAddress != pool {
		return errors.Errorf("genesis pool %s does not match the configured pool_address %s", pool, conf.PoolAddress)
	}
	conf.PoolAddress = pool

	err = exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		return env.driver.CreatePool(ctx, g)
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(c.OutOrStdout(), pool)
	return nil
}

func loadOrGenerateGenesis(path string) (*driver.Genesis, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return decodeGenesis(raw)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "failed to read genesis %s", path)
	}

	_, pool, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate pool keypair")
	}
	g, err := driver.NewGenesis(pool)
	if err != nil {
		return nil, err
	}

	raw, err = encodeGenesis(g)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, errors.Wrapf(err, "failed to write genesis %s", path)
	}
	return g, nil
}

func encodeGenesis(g *driver.Genesis) ([]byte, error) {
	return yaml.Marshal(&genesisFile{
		Pool:          base58.Encode(g.Pool),
		ValidatorList: base58.Encode(g.ValidatorList),
		CreditList:    base58.Encode(g.CreditList),
		PoolMint:      base58.Encode(g.PoolMint),
		OwnerFee:      base58.Encode(g.OwnerFee),
		CreditReserve: base58.Encode(g.CreditReserve),
	})
}

func decodeGenesis(raw []byte) (*driver.Genesis, error) {
	var f genesisFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "invalid genesis file")
	}

	g := &driver.Genesis{}
	for _, field := range []struct {
		name string
		src  string
		dst  *ed25519.PrivateKey
	}{
		{"pool", f.Pool, &g.Pool},
		{"validator_list", f.ValidatorList, &g.ValidatorList},
		{"credit_list", f.CreditList, &g.CreditList},
		{"pool_mint", f.PoolMint, &g.PoolMint},
		{"owner_fee", f.OwnerFee, &g.OwnerFee},
		{"credit_reserve", f.CreditReserve, &g.CreditReserve},
	} {
		key, err := solana.ParseKeypair([]byte(field.src))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid genesis %s", field.name)
		}
		*field.dst = key
	}
	return g, nil
}
