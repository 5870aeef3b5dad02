package exchange

import (
	"poly-trade-bot/internal/errs"
)

const (
	ChainPolygon int64 = 137
	ChainAmoy    int64 = 80002
)

type contracts struct {
	Exchange        string
	NegRiskExchange string
}

var chainContracts = map[int64]contracts{
	ChainPolygon: {
		Exchange:        "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		NegRiskExchange: "0xC5d563A36AE78145C45a50134d48A1215220f80a",
	},
	ChainAmoy: {
		Exchange:        "0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40",
		NegRiskExchange: "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	},
}

func exchangeAddress(chainID int64, negRisk bool) (string, error) {
	c, ok := chainContracts[chainID]
	if !ok {
		return "", errs.Config("no exchange contract for chain %d", chainID)
	}
	if negRisk {
		return c.NegRiskExchange, nil
	}
	return c.Exchange, nil
}
