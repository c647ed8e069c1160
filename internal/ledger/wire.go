package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// LockDuration is a closed set of three concrete types (HasExpiredAt,
// BlockHeightDuration, RelativeBlockDuration), so — unlike Identity, which is
// left to whatever concrete type a ledger package defines — it gets its own
// tagged-envelope codec here rather than asking every caller that sends a
// SwapRequest or Accepted over the wire to restate custom marshalling. A bare
// interface field can't be json.Unmarshal'd directly: encoding/json only
// decodes into an interface value when that interface has zero methods.
type lockDurationWire struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

const (
	kindAbsolute      = "absolute"
	kindBlockHeight   = "block_height"
	kindRelativeBlock = "relative_block"
)

// MarshalLockDuration encodes any concrete LockDuration into its tagged wire form.
func MarshalLockDuration(d LockDuration) ([]byte, error) {
	var kind string
	var data []byte
	var err error

	switch v := d.(type) {
	case HasExpiredAt:
		kind = kindAbsolute
		data, err = json.Marshal(time.Time(v))
	case BlockHeightDuration:
		kind = kindBlockHeight
		data, err = json.Marshal(v)
	case RelativeBlockDuration:
		kind = kindRelativeBlock
		data, err = json.Marshal(v)
	default:
		return nil, fmt.Errorf("ledger: unknown lock duration type %T", d)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(lockDurationWire{Kind: kind, Data: data})
}

// UnmarshalLockDuration recovers the concrete LockDuration from its tagged wire form.
func UnmarshalLockDuration(raw []byte) (LockDuration, error) {
	var wire lockDurationWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal lock duration envelope: %w", err)
	}

	switch wire.Kind {
	case kindAbsolute:
		var t time.Time
		if err := json.Unmarshal(wire.Data, &t); err != nil {
			return nil, err
		}
		return HasExpiredAt(t), nil
	case kindBlockHeight:
		var v BlockHeightDuration
		if err := json.Unmarshal(wire.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case kindRelativeBlock:
		var v RelativeBlockDuration
		if err := json.Unmarshal(wire.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("ledger: unknown lock duration kind %q", wire.Kind)
	}
}
