package solana

// Environment is a well-known cluster RPC endpoint.
type Environment string

const (
	EnvironmentLocal Environment = "http://127.0.0.1:8899"
	EnvironmentDev   Environment = "https://api.devnet.solana.com"
	EnvironmentTest  Environment = "https://api.testnet.solana.com"
	EnvironmentProd  Environment = "https://api.mainnet-beta.solana.com"
)

// ResolveEndpoint maps a cluster moniker to its endpoint. Anything else is
// treated as a literal URL.
func ResolveEndpoint(s string) string {
	switch s {
	case "localnet", "local":
		return string(EnvironmentLocal)
	case "devnet", "dev":
		return string(EnvironmentDev)
	case "testnet", "test":
		return string(EnvironmentTest)
	case "mainnet-beta", "mainnet", "prod":
		return string(EnvironmentProd)
	default:
		return s
	}
}
