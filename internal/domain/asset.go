package domain

// AssetConfig describes one tracked asset.
type AssetConfig struct {
	// ID is the CoinGecko coin identifier.
	ID string `json:"id"`
	// Label is the display name used in reports.
	Label string `json:"label"`
	// Command is the short telegram command and button key, e.g. "ada".
	Command string `json:"command"`
}

// DefaultAssets is the fixed, ordered asset set evaluated by the digest.
var DefaultAssets = []AssetConfig{
	{ID: "cardano", Label: "کاردانو (ADA)", Command: "ada"},
	{ID: "ripple", Label: "ریپل (XRP)", Command: "xrp"},
	{ID: "ethereum", Label: "اتریوم (ETH)", Command: "eth"},
	{ID: "bitcoin", Label: "بیت کوین (BTC)", Command: "btc"},
}
