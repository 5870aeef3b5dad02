package exchange

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const clobAuthMessage = "This message attests that I control the given wallet"

type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

func NewSigner(hexKey string, chainID int64) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Signer{privKey: key, address: addr, chainID: chainID}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) ChainID() int64 {
	return s.chainID
}

// SignOrder signs the order struct against the exchange contract for the
// signer's chain and returns the 0x-prefixed signature.
func (s *Signer) SignOrder(order OrderWire, negRisk bool) (string, error) {
	contract, err := exchangeAddress(s.chainID, negRisk)
	if err != nil {
		return "", err
	}
	digest, err := orderTypedDataHash(order, s.chainID, contract)
	if err != nil {
		return "", err
	}
	return s.sign(digest)
}

// SignClobAuth produces the L1 signature used to derive API credentials.
func (s *Signer) SignClobAuth(timestamp int64, nonce uint64) (string, error) {
	digest, err := clobAuthTypedDataHash(s.address, s.chainID, timestamp, nonce)
	if err != nil {
		return "", err
	}
	return s.sign(digest)
}

func (s *Signer) sign(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return "", err
	}
	return signatureHex(sig)
}

func orderTypedDataHash(order OrderWire, chainID int64, contract string) ([]byte, error) {
	side := "0"
	if order.Side == "SELL" {
		side = "1"
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: contract,
		},
		Message: apitypes.TypedDataMessage{
			"salt":          strconv.FormatInt(order.Salt, 10),
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"expiration":    order.Expiration,
			"nonce":         order.Nonce,
			"feeRateBps":    order.FeeRateBps,
			"side":          side,
			"signatureType": strconv.Itoa(order.SignatureType),
		},
	}
	return hashTypedData(typedData)
}

func clobAuthTypedDataHash(address common.Address, chainID int64, timestamp int64, nonce uint64) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     strconv.FormatUint(nonce, 10),
			"message":   clobAuthMessage,
		},
	}
	return hashTypedData(typedData)
}

func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, err
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte("\x19\x01"), domainHash, messageHash), nil
}

func signatureHex(sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}
	out := make([]byte, 65)
	copy(out, sig)
	out[64] += 27
	return hexutil.Encode(out), nil
}
