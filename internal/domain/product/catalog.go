package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ParseCatalog decodes a JSON array of products. Every product must have an
// id, a name and a non-negative price; ids must be unique.
func ParseCatalog(data []byte) ([]Product, error) {
	var (
		products []Product
		seen     = make(map[string]struct{})
	)
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p Product
		if err := p.decode(d); err != nil {
			return err
		}
		switch {
		case p.ID == "":
			return errors.Errorf("product %d: missing id", len(products))
		case p.Name == "":
			return errors.Errorf("product %s: missing name", p.ID)
		case p.Price.IsNegative():
			return errors.Errorf("product %s: negative price", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return errors.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	return products, nil
}

func (p *Product) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			var n jx.Num
			if n, err = d.Num(); err != nil {
				return err
			}
			p.Price, err = decimal.NewFromString(n.String())
		case "description":
			p.Description, err = d.Str()
		case "longDescription":
			p.LongDescription, err = d.Str()
		case "imageUrl":
			p.ImageURL, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "colors":
			p.Colors, err = decodeStrings(d)
		case "sizes":
			p.Sizes, err = decodeStrings(d)
		case "dataAiHint":
			p.ImageHint, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}
