package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ErrEventNotFound is returned when a receipt carries no ListingCreated log.
var ErrEventNotFound = errors.New("ListingCreated event not found")

const marketplaceJSON = `[
{"anonymous":false,"inputs":[{"indexed":true,"name":"party","type":"address"},{"indexed":true,"name":"listingID","type":"uint256"},{"indexed":false,"name":"ipfsHash","type":"bytes32"}],"name":"ListingCreated","type":"event"},
{"constant":false,"inputs":[{"name":"listingID","type":"uint256"},{"name":"_ipfsHash","type":"bytes32"},{"name":"_finalizes","type":"uint256"},{"name":"_affiliate","type":"address"},{"name":"_commission","type":"uint256"},{"name":"_value","type":"uint256"},{"name":"_currency","type":"address"},{"name":"_arbitrator","type":"address"}],"name":"makeOffer","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}
]`

// MarketplaceABI is the subset of the marketplace contract used here.
var MarketplaceABI = mustParseABI(marketplaceJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Listing is a ListingCreated event.
type Listing struct {
	Party     common.Address
	ListingID *big.Int
	IPFSHash  [32]byte
}

// FullID is the composite listing id "<network>-<contract version>-<seq>".
func (l Listing) FullID(networkID int64, version string) string {
	return fmt.Sprintf("%d-%s-%s", networkID, version, l.ListingID.String())
}

// IPFSHex is the content hash in hex.
func (l Listing) IPFSHex() string {
	return hexutil.Encode(l.IPFSHash[:])
}

// ParseListing finds the ListingCreated event in the logs of a receipt. When
// contract is not the zero address, logs of other contracts are ignored.
func ParseListing(receipt *types.Receipt, contract common.Address) (*Listing, error) {
	event := MarketplaceABI.Events["ListingCreated"]
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		if contract != (common.Address{}) && l.Address != contract {
			continue
		}
		var data struct {
			IpfsHash [32]byte
		}
		if err := MarketplaceABI.UnpackIntoInterface(&data, "ListingCreated", l.Data); err != nil {
			continue
		}
		return &Listing{
			Party:     common.BytesToAddress(l.Topics[1].Bytes()),
			ListingID: new(big.Int).SetBytes(l.Topics[2].Bytes()),
			IPFSHash:  data.IpfsHash,
		}, nil
	}
	return nil, errors.Wrap(ErrEventNotFound, receipt.TxHash.Hex())
}

// ParseListingSeq extracts the sequence number from a composite listing id.
func ParseListingSeq(fullID string) (*big.Int, error) {
	parts := strings.Split(fullID, "-")
	if len(parts) != 3 {
		return nil, errors.Errorf("malformed listing id %q", fullID)
	}
	seq, ok := new(big.Int).SetString(parts[2], 10)
	if !ok {
		return nil, errors.Errorf("malformed listing id %q", fullID)
	}
	return seq, nil
}
