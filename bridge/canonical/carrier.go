package canonical

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"github.com/EojEdred/Etrid-Infra-sub001/bridge/types"
)

// SolanaMemoPrefix is the textual tag of the paired memo instruction that
// carries the destination recipient on Solana deposits.
const SolanaMemoPrefix = "ETRID:"

// CarrierPayloadLength is the size of the type-tagged payload embedded in
// OP_RETURN outputs, Cardano metadata label 674 and ledger memo fields:
// one domain byte followed by a 32-byte recipient.
const CarrierPayloadLength = 33

var (
	// ErrBadMemo marks a memo that is not an exact ETRID recipient tag.
	ErrBadMemo = errors.New("memo is not an ETRID recipient tag")
	// ErrBadCarrier marks a malformed OP_RETURN/metadata carrier payload.
	ErrBadCarrier = errors.New("malformed carrier payload")
)

// ParseSolanaMemo recovers the destination recipient from a memo instruction.
// The format is exact: "ETRID:" followed by 64 lowercase hex characters.
func ParseSolanaMemo(memo string) ([32]byte, error) {
	var recipient [32]byte
	if !strings.HasPrefix(memo, SolanaMemoPrefix) {
		return recipient, ErrBadMemo
	}
	body := memo[len(SolanaMemoPrefix):]
	if len(body) != 64 || body != strings.ToLower(body) {
		return recipient, ErrBadMemo
	}
	b, err := hex.DecodeString(body)
	if err != nil {
		return recipient, ErrBadMemo
	}
	copy(recipient[:], b)
	return recipient, nil
}

// FormatSolanaMemo renders a recipient as the exact memo text the Solana
// deposit flow emits.
func FormatSolanaMemo(recipient [32]byte) string {
	return SolanaMemoPrefix + hex.EncodeToString(recipient[:])
}

// ParseCarrierPayload decodes the short payload carried by UTXO and ledger
// chains: <domain:u8><recipient:32>.
func ParseCarrierPayload(payload []byte) (types.Domain, [32]byte, error) {
	var recipient [32]byte
	if len(payload) != CarrierPayloadLength {
		return 0, recipient, ErrBadCarrier
	}
	domain := types.Domain(payload[0])
	if !domain.Known() {
		return 0, recipient, ErrBadCarrier
	}
	copy(recipient[:], payload[1:])
	return domain, recipient, nil
}

// EncodeCarrierPayload is the inverse of ParseCarrierPayload.
func EncodeCarrierPayload(domain types.Domain, recipient [32]byte) []byte {
	out := make([]byte, CarrierPayloadLength)
	out[0] = byte(domain)
	copy(out[1:], recipient[:])
	return out
}
