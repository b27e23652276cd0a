package mpesa

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

// ParseCallback decodes the gateway's asynchronous STK result payload:
//
//	{"Body": {"stkCallback": {"ResultCode": 0, "CheckoutRequestID": ...,
//	  "CallbackMetadata": {"Item": [{"Name": ..., "Value": ...}, ...]}}}}
//
// Metadata items are only present on success and carry the receipt number,
// payer phone, and paid amount.
func ParseCallback(body []byte) (payment.CallbackResult, error) {
	var res payment.CallbackResult

	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "Body" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "stkCallback" {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "ResultCode":
					n, err := d.Num()
					if err != nil {
						return err
					}
					code, err := n.Int64()
					res.ResultCode = int(code)
					return err
				case "ResultDesc":
					v, err := d.Str()
					res.ResultDesc = v
					return err
				case "CheckoutRequestID":
					v, err := d.Str()
					res.CheckoutRequestID = v
					return err
				case "MerchantRequestID":
					v, err := d.Str()
					res.MerchantRequestID = v
					return err
				case "CallbackMetadata":
					return parseMetadata(d, &res)
				default:
					return d.Skip()
				}
			})
		})
	})
	if err != nil {
		return payment.CallbackResult{}, errors.Wrap(err, "decode callback")
	}
	if res.CheckoutRequestID == "" {
		return payment.CallbackResult{}, errors.New("callback missing checkout request id")
	}
	return res, nil
}

// parseMetadata walks the {"Item": [{"Name", "Value"}]} list.
func parseMetadata(d *jx.Decoder, res *payment.CallbackResult) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "Item" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var name, strVal string
			var numVal decimal.Decimal
			var isNum bool

			err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "Name":
					v, err := d.Str()
					name = v
					return err
				case "Value":
					switch d.Next() {
					case jx.String:
						v, err := d.Str()
						strVal = v
						return err
					case jx.Number:
						n, err := d.Num()
						if err != nil {
							return err
						}
						dec, decErr := decimal.NewFromString(string(n))
						if decErr != nil {
							return decErr
						}
						numVal = dec
						isNum = true
						return nil
					default:
						return d.Skip()
					}
				default:
					return d.Skip()
				}
			})
			if err != nil {
				return err
			}

			switch name {
			case "MpesaReceiptNumber":
				res.ReceiptNumber = strVal
			case "PhoneNumber":
				if isNum {
					res.PayerPhone = numVal.String()
				} else {
					res.PayerPhone = strVal
				}
			case "Amount":
				if isNum {
					res.Amount = numVal
				}
			}
			return nil
		})
	})
}

// AckBody is the acknowledgment returned to the gateway for every callback,
// successful or not, so the gateway never retries delivery.
func AckBody() []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("ResultCode", func(e *jx.Encoder) { e.Int(0) })
		e.Field("ResultDesc", func(e *jx.Encoder) { e.Str("The service was accepted successfully") })
		e.Field("ThirdPartyTransID", func(e *jx.Encoder) { e.Str("") })
	})
	return e.Bytes()
}
