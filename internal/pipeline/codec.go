package pipeline

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pgfe-filter/internal/domain/catalog"
)

// Cached values are small JSON documents so that the Redis entries stay
// readable from redis-cli.

func encodePage(p catalog.Page) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("ids")
	e.ArrStart()
	for _, id := range p.IDs {
		e.Int64(id)
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(p.Total)
	e.ObjEnd()
	return append([]byte(nil), e.Bytes()...)
}

func decodePage(b []byte) (catalog.Page, error) {
	var p catalog.Page
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "ids":
			return d.Arr(func(d *jx.Decoder) error {
				id, err := d.Int64()
				if err != nil {
					return err
				}
				p.IDs = append(p.IDs, id)
				return nil
			})
		case "total":
			n, err := d.Int()
			p.Total = n
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return catalog.Page{}, errors.Wrap(err, "decode page")
	}
	return p, nil
}

func encodeCount(n int) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Int(n)
	return append([]byte(nil), e.Bytes()...)
}

func decodeCount(b []byte) (int, error) {
	n, err := jx.DecodeBytes(b).Int()
	if err != nil {
		return 0, errors.Wrap(err, "decode count")
	}
	return n, nil
}

func encodePriceRange(pr catalog.PriceRange) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("min")
	e.Str(pr.Min.String())
	e.FieldStart("max")
	e.Str(pr.Max.String())
	e.ObjEnd()
	return append([]byte(nil), e.Bytes()...)
}

func decodePriceRange(b []byte) (catalog.PriceRange, error) {
	var pr catalog.PriceRange
	err := jx.DecodeBytes(b).Obj(func(d *jx.Decoder, key string) error {
		var target *decimal.Decimal
		switch key {
		case "min":
			target = &pr.Min
		case "max":
			target = &pr.Max
		default:
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*target = v
		return nil
	})
	if err != nil {
		return catalog.PriceRange{}, errors.Wrap(err, "decode price range")
	}
	return pr, nil
}
