package kafka

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/vnshop-orders/internal/domain/notify"
)

// EncodeEvent renders e as the JSON payload published to the topic.
// Money is a string so consumers never see a rounded float.
func EncodeEvent(e notify.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("kind", func(enc *jx.Encoder) { enc.Str(string(e.Kind)) })
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Int64(e.OrderID) })
		enc.Field("order_code", func(enc *jx.Encoder) { enc.Str(e.OrderCode) })
		enc.Field("user_id", func(enc *jx.Encoder) { enc.Int64(e.UserID) })
		enc.Field("total", func(enc *jx.Encoder) { enc.Str(e.Total.StringFixed(0)) })
		enc.Field("payment_method", func(enc *jx.Encoder) { enc.Int(e.PaymentMethod) })
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}

// DecodeEvent parses a payload produced by EncodeEvent.
func DecodeEvent(data []byte) (notify.Event, error) {
	var e notify.Event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			var s string
			s, err = d.Str()
			e.Kind = notify.Kind(s)
		case "order_id":
			e.OrderID, err = d.Int64()
		case "order_code":
			e.OrderCode, err = d.Str()
		case "user_id":
			e.UserID, err = d.Int64()
		case "total":
			var s string
			if s, err = d.Str(); err == nil {
				e.Total, err = decimal.NewFromString(s)
			}
		case "payment_method":
			e.PaymentMethod, err = d.Int()
		case "at":
			var s string
			if s, err = d.Str(); err == nil {
				e.At, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return notify.Event{}, errors.Wrap(err, "decode event")
	}
	return e, nil
}
