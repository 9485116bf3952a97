package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventField describes one field of an event schema in declaration order.
type EventField struct {
	Name    string
	Type    string
	Indexed bool
}

// DecodeEvent locates the first log entry in the receipt whose first topic
// matches the keccak hash of the event signature and decodes it against the
// field schema. A receipt without a matching log yields ErrEventNotFound.
func DecodeEvent(receipt *types.Receipt, signature string, fields []EventField) (map[string]interface{}, error) {
	topic := crypto.Keccak256Hash([]byte(signature))

	var entry *types.Log
	for _, logEntry := range receipt.Logs {
		if len(logEntry.Topics) > 0 && logEntry.Topics[0] == topic {
			entry = logEntry
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, signature)
	}

	decoded := make(map[string]interface{}, len(fields))

	// Indexed fields live in topics[1..] in declaration order.
	topicIndex := 1
	var dataArgs abi.Arguments
	for _, field := range fields {
		if field.Indexed {
			if topicIndex >= len(entry.Topics) {
				return nil, fmt.Errorf("log has %d topics, missing indexed field %s", len(entry.Topics), field.Name)
			}
			value, err := decodeTopic(field.Type, entry.Topics[topicIndex])
			if err != nil {
				return nil, fmt.Errorf("failed to decode indexed field %s: %w", field.Name, err)
			}
			decoded[field.Name] = value
			topicIndex++
			continue
		}

		argType, err := abi.NewType(field.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid field type %s for %s: %w", field.Type, field.Name, err)
		}
		dataArgs = append(dataArgs, abi.Argument{Name: field.Name, Type: argType})
	}

	if len(dataArgs) > 0 {
		values, err := dataArgs.Unpack(entry.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack event data: %w", err)
		}
		for i, arg := range dataArgs {
			decoded[arg.Name] = values[i]
		}
	}

	return decoded, nil
}

func decodeTopic(fieldType string, topic common.Hash) (interface{}, error) {
	switch fieldType {
	case "address":
		return common.BytesToAddress(topic.Bytes()), nil
	case "uint256", "uint128", "uint64", "uint32", "uint8", "int256":
		return new(big.Int).SetBytes(topic.Bytes()), nil
	case "bool":
		return topic.Big().Sign() != 0, nil
	case "bytes32":
		return topic, nil
	default:
		return nil, fmt.Errorf("unsupported indexed type %s", fieldType)
	}
}
