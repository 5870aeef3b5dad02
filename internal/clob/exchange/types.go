package exchange

import "poly-trade-bot/internal/clob"

type SignatureType int

const (
	SignatureEOA        SignatureType = 0
	SignaturePolyProxy  SignatureType = 1
	SignatureGnosisSafe SignatureType = 2
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// OrderWire is the signed order as the exchange expects it in POST /order.
// Integer fields are decimal strings except salt and signatureType.
type OrderWire struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// SignedOrder pairs a signed wire order with the request it was built from.
type SignedOrder struct {
	Wire    OrderWire
	Request clob.OrderRequest
	NegRisk bool
}

type postOrderBody struct {
	Order     OrderWire `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type cancelBody struct {
	OrderID string `json:"orderID"`
}
