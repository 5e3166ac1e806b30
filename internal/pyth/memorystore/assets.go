package memorystore

// DefaultAssets is the built-in table of tracked coins and their Pyth feeds.
func DefaultAssets() []Asset {
	return []Asset{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Icon: "₿",
			FeedID: "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", Icon: "Ξ",
			FeedID: "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"},
		{ID: "solana", Symbol: "SOL", Name: "Solana", Icon: "◎",
			FeedID: "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"},
		{ID: "binancecoin", Symbol: "BNB", Name: "BNB", Icon: "◆",
			FeedID: "2f95862b045670cd22bee3114c39763a4a08beeb663b145d283c31d7d1101c4f"},
		{ID: "ripple", Symbol: "XRP", Name: "XRP", Icon: "✕",
			FeedID: "ec5d399846a9209f3fe5881d70aae9268c94339ff9817e8d18ff19fa05eea1c8"},
		{ID: "polkadot", Symbol: "DOT", Name: "Polkadot", Icon: "●",
			FeedID: "ca3eed9b267293f6595901c734c7525ce8ef49adafe8284606ceb307afa2ca5b"},
		{ID: "dogecoin", Symbol: "DOGE", Name: "Dogecoin", Icon: "Ð",
			FeedID: "dcef50dd0a4cd2dcc17e45df1676dcb336a11a61c69df7a0299b0150c672d25c"},
		{ID: "avalanche", Symbol: "AVAX", Name: "Avalanche", Icon: "▲",
			FeedID: "93da3352f9f1d105fdfe4971cfa80e9dd777bfc5d0f683ebb6e1294b92137bb7"},
		{ID: "chainlink", Symbol: "LINK", Name: "Chainlink", Icon: "⬡",
			FeedID: "8ac0c70fff57e9aefdf5edf44b51d62c2d433653cbb2cf5cc06bb115af04d221"},
		{ID: "cardano", Symbol: "ADA", Name: "Cardano", Icon: "₳",
			FeedID: "2a01deaec9e51a579277b34b122399984d0bbf57e2458a7e42fecd2829867a0d"},
	}
}
