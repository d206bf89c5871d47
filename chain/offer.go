package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Offer is a makeOffer call on the marketplace contract.
type Offer struct {
	ChainID    int64
	Contract   common.Address
	ListingSeq *big.Int
	IPFSHash   [32]byte
	// Finalizes is the unix time after which the offer auto-finalizes.
	Finalizes *big.Int
}

// OfferSubmitter signs and sends makeOffer transactions.
type OfferSubmitter struct {
	backend bind.ContractBackend
	key     *ecdsa.PrivateKey
}

// NewOfferSubmitter creates an OfferSubmitter signing with the hex encoded
// private key.
func NewOfferSubmitter(backend bind.ContractBackend, hexKey string) (*OfferSubmitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse signer key")
	}
	return &OfferSubmitter{backend: backend, key: key}, nil
}

// From is the address offers are sent from.
func (o *OfferSubmitter) From() common.Address {
	return crypto.PubkeyToAddress(o.key.PublicKey)
}

// MakeOffer submits the offer and returns the transaction hash.
func (o *OfferSubmitter) MakeOffer(ctx context.Context, offer Offer) (common.Hash, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(o.key, big.NewInt(offer.ChainID))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "create transactor")
	}
	opts.Context = ctx
	finalizes := offer.Finalizes
	if finalizes == nil {
		finalizes = big.NewInt(0)
	}
	contract := bind.NewBoundContract(offer.Contract, MarketplaceABI, o.backend, o.backend, o.backend)
	tx, err := contract.Transact(opts, "makeOffer",
		offer.ListingSeq,
		offer.IPFSHash,
		finalizes,
		common.Address{},
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "send makeOffer")
	}
	return tx.Hash(), nil
}

// sha256Multihash prefixes a CIDv0: multihash code sha2-256, 32 byte digest.
var sha256Multihash = []byte{0x12, 0x20}

// DecodeIPFSHash parses the content hash stored on chain. It accepts a CIDv0
// ("Qm...") or a 0x prefixed 32 byte hex string.
func DecodeIPFSHash(s string) ([32]byte, error) {
	var out [32]byte
	var digest []byte
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode(s)
		if err != nil {
			return out, errors.Wrapf(err, "decode ipfs hash %q", s)
		}
		digest = b
	} else {
		b, err := base58.Decode(s)
		if err != nil {
			return out, errors.Wrapf(err, "decode ipfs hash %q", s)
		}
		if len(b) != len(sha256Multihash)+len(out) || !bytes.HasPrefix(b, sha256Multihash) {
			return out, errors.Errorf("ipfs hash %q is not a sha2-256 CIDv0", s)
		}
		digest = b[len(sha256Multihash):]
	}
	if len(digest) != len(out) {
		return out, errors.Errorf("ipfs hash %q is %d bytes, want 32", s, len(digest))
	}
	copy(out[:], digest)
	return out, nil
}

// EncodeIPFSHash formats an on-chain content hash as a CIDv0.
func EncodeIPFSHash(h [32]byte) string {
	return base58.Encode(append(append([]byte{}, sha256Multihash...), h[:]...))
}
